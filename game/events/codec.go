package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/policethief/realtime/validate"
)

const (
	topicScope   = "/topic/game"
	publishScope = "/app/game"
)

// Topic returns the subscribe destination for a room's event stream.
func Topic(roomID int64) string {
	return fmt.Sprintf("%s/%d", topicScope, roomID)
}

// Action is an outbound player intent that Encode can put on the wire.
type Action interface {
	name() string
	payload() any
	// Validate rejects an action before anything is serialized.
	Validate() error
}

// JoinAction announces the local player to the room.
type JoinAction struct {
	PlayerID int64
	Nickname string
}

func (JoinAction) name() string { return "join" }
func (a JoinAction) payload() any {
	return struct {
		PlayerID int64  `json:"playerId"`
		Nickname string `json:"nickname"`
	}{a.PlayerID, a.Nickname}
}
func (a JoinAction) Validate() error {
	return validate.Nickname(a.Nickname)
}

// LeaveAction withdraws the local player from the room.
type LeaveAction struct {
	PlayerID int64
}

func (LeaveAction) name() string { return "leave" }
func (a LeaveAction) payload() any {
	return struct {
		PlayerID int64 `json:"playerId"`
	}{a.PlayerID}
}
func (LeaveAction) Validate() error { return nil }

// StartAction asks the broker to start the game; only the host sends it.
type StartAction struct {
	HostID int64
}

func (StartAction) name() string { return "start" }
func (a StartAction) payload() any {
	return struct {
		HostID int64 `json:"hostId"`
	}{a.HostID}
}
func (StartAction) Validate() error { return nil }

// LocationAction reports the local player's position.
type LocationAction struct {
	PlayerID  int64
	Latitude  float64
	Longitude float64
	Accuracy  *float64
}

func (LocationAction) name() string { return "location" }
func (a LocationAction) payload() any {
	return struct {
		PlayerID  int64    `json:"playerId"`
		Latitude  float64  `json:"latitude"`
		Longitude float64  `json:"longitude"`
		Accuracy  *float64 `json:"accuracy,omitempty"`
	}{a.PlayerID, a.Latitude, a.Longitude, a.Accuracy}
}
func (a LocationAction) Validate() error {
	if err := validate.Coordinate(a.Latitude, a.Longitude); err != nil {
		return err
	}
	if a.Accuracy != nil {
		return validate.Finite("accuracy", *a.Accuracy)
	}
	return nil
}

// TagAction reports the local player tagging a target.
type TagAction struct {
	TaggerID int64
	TargetID int64
	QRCode   string
}

func (TagAction) name() string { return "tag" }
func (a TagAction) payload() any {
	return struct {
		TaggerID int64  `json:"taggerId"`
		TargetID int64  `json:"targetId"`
		QRCode   string `json:"qrCode"`
	}{a.TaggerID, a.TargetID, a.QRCode}
}
func (TagAction) Validate() error { return nil }

// Encode serializes an action for a room, returning its publish destination
// and JSON body.
func Encode(roomID int64, a Action) (destination string, body []byte, err error) {
	if err := a.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid %s action: %w", a.name(), err)
	}
	body, err = json.Marshal(a.payload())
	if err != nil {
		return "", nil, fmt.Errorf("encode %s action: %w", a.name(), err)
	}
	return fmt.Sprintf("%s/%d/%s", publishScope, roomID, a.name()), body, nil
}

// wireMessage mirrors the broker envelope. PlayerID and Type are pointers so
// a missing field is distinguishable from a zero value.
type wireMessage struct {
	Type      *string         `json:"type"`
	RoomID    int64           `json:"roomId"`
	PlayerID  *int64          `json:"playerId"`
	Data      map[string]any  `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Decode parses one raw broker message into a domain event. It never fails:
// structural problems yield an Unknown event carrying the raw payload.
func Decode(raw []byte) Event {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Unknown{Reason: fmt.Sprintf("invalid JSON: %v", err), Raw: cloneRaw(raw)}
	}
	if msg.Type == nil || *msg.Type == "" {
		return unknown(msg, raw, "missing type")
	}
	if msg.PlayerID == nil {
		return unknown(msg, raw, "missing playerId")
	}

	meta := Meta{
		RoomID:    msg.RoomID,
		PlayerID:  *msg.PlayerID,
		Timestamp: parseTimestamp(msg.Timestamp),
	}
	data := msg.Data
	if data == nil {
		data = map[string]any{}
	}

	switch Kind(*msg.Type) {
	case KindJoin:
		nickname, err := validate.StringField(data, "nickname")
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		count, err := optionalCount(data)
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		return Join{Meta: meta, Nickname: nickname, MemberCount: count}

	case KindLeave:
		count, err := optionalCount(data)
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		return Leave{Meta: meta, MemberCount: count}

	case KindStart:
		status, err := validate.OptionalStringField(data, "status")
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		return Start{Meta: meta, Status: status}

	case KindTag:
		target, err := validate.NumberField(data, "targetId")
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		qr, err := validate.OptionalStringField(data, "qrCode")
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		return Tag{Meta: meta, TargetID: int64(target), QRCode: qr}

	case KindLocation:
		lat, err := validate.NumberField(data, "latitude")
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		lon, err := validate.NumberField(data, "longitude")
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		if err := validate.Coordinate(lat, lon); err != nil {
			return unknown(msg, raw, err.Error())
		}
		accuracy, err := validate.OptionalNumberField(data, "accuracy")
		if err != nil {
			return unknown(msg, raw, err.Error())
		}
		return Location{Meta: meta, Latitude: lat, Longitude: lon, Accuracy: accuracy}

	default:
		return unknown(msg, raw, fmt.Sprintf("unrecognized type %q", *msg.Type))
	}
}

func unknown(msg wireMessage, raw []byte, reason string) Unknown {
	u := Unknown{Reason: reason, Raw: cloneRaw(raw)}
	u.RoomID = msg.RoomID
	if msg.PlayerID != nil {
		u.PlayerID = *msg.PlayerID
	}
	u.Timestamp = parseTimestamp(msg.Timestamp)
	return u
}

func optionalCount(data map[string]any) (*int, error) {
	v, err := validate.OptionalNumberField(data, "memberCount")
	if err != nil || v == nil {
		return nil, err
	}
	count := int(*v)
	if count < 0 {
		return nil, fmt.Errorf("memberCount %d: %w", count, validate.ErrOutOfRange)
	}
	return &count, nil
}

// parseTimestamp accepts epoch milliseconds (number) or an RFC 3339 string.
// Anything else is treated as absent; the field is advisory only.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err == nil {
		if millis <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(millis)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts
		}
		// Some brokers stringify the epoch.
		if millis, err := strconv.ParseInt(s, 10, 64); err == nil && millis > 0 {
			return time.UnixMilli(millis)
		}
	}
	return time.Time{}
}

func cloneRaw(raw []byte) json.RawMessage {
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

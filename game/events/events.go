package events

import (
	"encoding/json"
	"time"
)

// Kind discriminates the inbound domain event variants.
type Kind string

const (
	KindJoin     Kind = "JOIN"
	KindLeave    Kind = "LEAVE"
	KindStart    Kind = "START"
	KindTag      Kind = "TAG"
	KindLocation Kind = "LOCATION"
	KindUnknown  Kind = "UNKNOWN"
)

// Meta carries the envelope fields common to every event. Timestamp is
// advisory and zero when the broker omitted it.
type Meta struct {
	RoomID    int64
	PlayerID  int64
	Timestamp time.Time
}

// EventMeta makes Meta satisfy part of the Event interface for every
// variant that embeds it.
func (m Meta) EventMeta() Meta { return m }

// Event is a validated inbound protocol message.
type Event interface {
	Kind() Kind
	EventMeta() Meta
}

// Join announces a player entering the room. MemberCount is the broker's
// authoritative room size, nil when omitted.
type Join struct {
	Meta
	Nickname    string
	MemberCount *int
}

func (Join) Kind() Kind { return KindJoin }

// Leave announces a player exiting the room.
type Leave struct {
	Meta
	MemberCount *int
}

func (Leave) Kind() Kind { return KindLeave }

// Start announces the game beginning; the sender is the host.
type Start struct {
	Meta
	Status string
}

func (Start) Kind() Kind { return KindStart }

// Tag announces the sender tagging another player.
type Tag struct {
	Meta
	TargetID int64
	QRCode   string
}

func (Tag) Kind() Kind { return KindTag }

// Location carries a player's reported position.
type Location struct {
	Meta
	Latitude  float64
	Longitude float64
	Accuracy  *float64
}

func (Location) Kind() Kind { return KindLocation }

// Unknown wraps anything that failed structural validation. It carries the
// raw payload for observability and never mutates session state.
type Unknown struct {
	Meta
	Reason string
	Raw    json.RawMessage
}

func (Unknown) Kind() Kind { return KindUnknown }

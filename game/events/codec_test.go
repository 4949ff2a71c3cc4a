package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTopic(t *testing.T) {
	if got := Topic(7); got != "/topic/game/7" {
		t.Fatalf("Topic(7) = %q", got)
	}
}

func TestEncodeJoin(t *testing.T) {
	dest, body, err := Encode(1, JoinAction{PlayerID: 42, Nickname: "A"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if dest != "/app/game/1/join" {
		t.Fatalf("destination = %q", dest)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if payload["playerId"] != float64(42) || payload["nickname"] != "A" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if len(payload) != 2 {
		t.Fatalf("payload must contain exactly the action fields, got %v", payload)
	}
}

func TestEncodeJoin_EmptyNicknameRejected(t *testing.T) {
	if _, _, err := Encode(1, JoinAction{PlayerID: 42, Nickname: "  "}); err == nil {
		t.Fatal("expected validation error for blank nickname")
	}
}

func TestEncodeLeaveStartTag(t *testing.T) {
	tests := []struct {
		action   Action
		wantDest string
		wantKeys []string
	}{
		{LeaveAction{PlayerID: 42}, "/app/game/3/leave", []string{"playerId"}},
		{StartAction{HostID: 9}, "/app/game/3/start", []string{"hostId"}},
		{TagAction{TaggerID: 1, TargetID: 2, QRCode: "qr"}, "/app/game/3/tag", []string{"taggerId", "targetId", "qrCode"}},
	}

	for _, tt := range tests {
		dest, body, err := Encode(3, tt.action)
		if err != nil {
			t.Fatalf("Encode(%T) failed: %v", tt.action, err)
		}
		if dest != tt.wantDest {
			t.Errorf("Encode(%T) destination = %q, want %q", tt.action, dest, tt.wantDest)
		}
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("invalid body for %T: %v", tt.action, err)
		}
		for _, key := range tt.wantKeys {
			if _, ok := payload[key]; !ok {
				t.Errorf("%T payload missing %q", tt.action, key)
			}
		}
	}
}

func TestEncodeLocation(t *testing.T) {
	acc := 8.5
	dest, body, err := Encode(1, LocationAction{PlayerID: 42, Latitude: 37.5, Longitude: 127.0, Accuracy: &acc})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if dest != "/app/game/1/location" {
		t.Fatalf("destination = %q", dest)
	}

	var payload map[string]any
	json.Unmarshal(body, &payload)
	if payload["latitude"] != 37.5 || payload["longitude"] != 127.0 || payload["accuracy"] != 8.5 {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestEncodeLocation_OmitsAbsentAccuracy(t *testing.T) {
	_, body, err := Encode(1, LocationAction{PlayerID: 42, Latitude: 37.5, Longitude: 127.0})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var payload map[string]any
	json.Unmarshal(body, &payload)
	if _, present := payload["accuracy"]; present {
		t.Fatal("absent accuracy must not be serialized as a sentinel")
	}
}

func TestEncodeLocation_InvalidCoordinateRejected(t *testing.T) {
	if _, _, err := Encode(1, LocationAction{PlayerID: 42, Latitude: 99, Longitude: 0}); err == nil {
		t.Fatal("expected range error for latitude 99")
	}
}

func TestDecodeJoin(t *testing.T) {
	raw := []byte(`{"type":"JOIN","roomId":1,"playerId":42,"data":{"nickname":"A","memberCount":3},"timestamp":1700000000000}`)
	ev := Decode(raw)

	join, ok := ev.(Join)
	if !ok {
		t.Fatalf("expected Join, got %T (%+v)", ev, ev)
	}
	if join.RoomID != 1 || join.PlayerID != 42 || join.Nickname != "A" {
		t.Fatalf("unexpected event: %+v", join)
	}
	if join.MemberCount == nil || *join.MemberCount != 3 {
		t.Fatalf("memberCount = %v, want 3", join.MemberCount)
	}
	if !join.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("timestamp = %v", join.Timestamp)
	}
}

func TestDecodeJoin_MissingMemberCount(t *testing.T) {
	ev := Decode([]byte(`{"type":"JOIN","roomId":1,"playerId":42,"data":{"nickname":"A"}}`))
	join, ok := ev.(Join)
	if !ok {
		t.Fatalf("expected Join, got %T", ev)
	}
	if join.MemberCount != nil {
		t.Fatalf("omitted memberCount must decode as nil, got %v", *join.MemberCount)
	}
}

func TestDecodeLeave(t *testing.T) {
	ev := Decode([]byte(`{"type":"LEAVE","roomId":1,"playerId":42,"data":{"memberCount":0}}`))
	leave, ok := ev.(Leave)
	if !ok {
		t.Fatalf("expected Leave, got %T", ev)
	}
	if leave.MemberCount == nil || *leave.MemberCount != 0 {
		t.Fatalf("memberCount = %v, want 0", leave.MemberCount)
	}
}

func TestDecodeStart(t *testing.T) {
	ev := Decode([]byte(`{"type":"START","roomId":1,"playerId":9,"data":{"status":"started"}}`))
	start, ok := ev.(Start)
	if !ok {
		t.Fatalf("expected Start, got %T", ev)
	}
	if start.Status != "started" || start.PlayerID != 9 {
		t.Fatalf("unexpected event: %+v", start)
	}
}

func TestDecodeTag(t *testing.T) {
	ev := Decode([]byte(`{"type":"TAG","roomId":1,"playerId":5,"data":{"targetId":7,"qrCode":"abc"}}`))
	tag, ok := ev.(Tag)
	if !ok {
		t.Fatalf("expected Tag, got %T", ev)
	}
	if tag.TargetID != 7 || tag.QRCode != "abc" {
		t.Fatalf("unexpected event: %+v", tag)
	}
}

func TestDecodeLocation(t *testing.T) {
	ev := Decode([]byte(`{"type":"LOCATION","roomId":1,"playerId":42,"data":{"latitude":37.5,"longitude":127.0,"accuracy":10}}`))
	loc, ok := ev.(Location)
	if !ok {
		t.Fatalf("expected Location, got %T", ev)
	}
	if loc.Latitude != 37.5 || loc.Longitude != 127.0 {
		t.Fatalf("unexpected event: %+v", loc)
	}
	if loc.Accuracy == nil || *loc.Accuracy != 10 {
		t.Fatalf("accuracy = %v", loc.Accuracy)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing type", `{"roomId":1,"playerId":42,"data":{}}`},
		{"missing playerId", `{"type":"JOIN","roomId":1,"data":{"nickname":"A"}}`},
		{"join without nickname", `{"type":"JOIN","roomId":1,"playerId":42,"data":{}}`},
		{"location without longitude", `{"type":"LOCATION","roomId":1,"playerId":42,"data":{"latitude":37.5}}`},
		{"location with string latitude", `{"type":"LOCATION","roomId":1,"playerId":42,"data":{"latitude":"x","longitude":1}}`},
		{"location out of range", `{"type":"LOCATION","roomId":1,"playerId":42,"data":{"latitude":95,"longitude":1}}`},
		{"tag without targetId", `{"type":"TAG","roomId":1,"playerId":42,"data":{}}`},
		{"unrecognized type", `{"type":"DANCE","roomId":1,"playerId":42,"data":{}}`},
		{"negative memberCount", `{"type":"LEAVE","roomId":1,"playerId":42,"data":{"memberCount":-2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Decode([]byte(tt.raw))
			u, ok := ev.(Unknown)
			if !ok {
				t.Fatalf("expected Unknown, got %T (%+v)", ev, ev)
			}
			if u.Reason == "" {
				t.Fatal("Unknown must carry a reason")
			}
			if string(u.Raw) != tt.raw {
				t.Fatalf("Unknown must carry the raw payload, got %s", u.Raw)
			}
		})
	}
}

func TestDecodeTimestampVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"epoch millis", `{"type":"LEAVE","roomId":1,"playerId":1,"data":{},"timestamp":1700000000000}`, time.UnixMilli(1700000000000)},
		{"rfc3339", `{"type":"LEAVE","roomId":1,"playerId":1,"data":{},"timestamp":"2023-11-14T22:13:20Z"}`, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)},
		{"stringified epoch", `{"type":"LEAVE","roomId":1,"playerId":1,"data":{},"timestamp":"1700000000000"}`, time.UnixMilli(1700000000000)},
		{"absent", `{"type":"LEAVE","roomId":1,"playerId":1,"data":{}}`, time.Time{}},
		{"garbage", `{"type":"LEAVE","roomId":1,"playerId":1,"data":{},"timestamp":"soon"}`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Decode([]byte(tt.raw))
			if ev.Kind() != KindLeave {
				t.Fatalf("timestamp must never fail decoding, got %T", ev)
			}
			if got := ev.EventMeta().Timestamp; !got.Equal(tt.want) {
				t.Fatalf("timestamp = %v, want %v", got, tt.want)
			}
		})
	}
}

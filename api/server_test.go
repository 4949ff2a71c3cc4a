package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/policethief/realtime/game/session"
	"github.com/policethief/realtime/geo"
	"github.com/policethief/realtime/transport/ws"
)

func coords(lat, lon float64) geo.Coordinates {
	acc := 5.0
	return geo.Coordinates{Latitude: lat, Longitude: lon, Accuracy: &acc}
}

func startServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(DefaultRooms())
	srv.Start()
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return srv, ts
}

func TestListRooms(t *testing.T) {
	_, ts := startServer(t)
	client := NewClient(ts.URL)

	rooms, err := client.ListRooms(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("got %d rooms, want 3", len(rooms))
	}
	for i := 1; i < len(rooms); i++ {
		if rooms[i-1].ID > rooms[i].ID {
			t.Fatalf("rooms not sorted by id: %v", rooms)
		}
	}
}

func TestGetRoom(t *testing.T) {
	_, ts := startServer(t)
	client := NewClient(ts.URL)

	room, err := client.GetRoom(context.Background(), 2)
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.Name != "Han River Run" {
		t.Fatalf("got room %q", room.Name)
	}

	if _, err := client.GetRoom(context.Background(), 999); err == nil {
		t.Fatal("expected error for unknown room")
	} else if !strings.Contains(err.Error(), "room not found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStartRoom(t *testing.T) {
	_, ts := startServer(t)
	client := NewClient(ts.URL)

	if err := client.StartRoom(context.Background(), 1); err != nil {
		t.Fatalf("StartRoom: %v", err)
	}
	if err := client.StartRoom(context.Background(), 999); err == nil {
		t.Fatal("expected error for unknown room")
	}
}

func TestStartRoomBadID(t *testing.T) {
	_, ts := startServer(t)

	resp, err := http.Post(ts.URL+"/rooms/abc/start", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func waitSnapshot(t *testing.T, s *session.Session, ok func(session.Snapshot) bool) session.Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := s.Snapshot()
		if ok(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot condition never met; last: %+v", s.Snapshot())
	return session.Snapshot{}
}

// TestSessionAgainstBroker runs the full client stack against the broker:
// connect, join, receive the authoritative roster, share a location, tag,
// and leave.
func TestSessionAgainstBroker(t *testing.T) {
	_, ts := startServer(t)
	endpoint := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn := ws.Open(endpoint)
	defer conn.Close()

	sess, err := session.Open(1, session.Identity{PlayerID: 7, Nickname: "runner"}, session.NewWSTransport(conn))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	waitSnapshot(t, sess, func(snap session.Snapshot) bool {
		return snap.Connection == session.ConnConnected
	})

	if err := sess.RequestJoin(); err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	snap := waitSnapshot(t, sess, func(snap session.Snapshot) bool {
		return snap.Membership == session.Joined
	})
	if snap.Room.PlayerCount != 1 {
		t.Fatalf("player count = %d, want 1", snap.Room.PlayerCount)
	}
	if len(snap.Roster) != 1 || snap.Roster[0].Nickname != "runner" {
		t.Fatalf("roster = %+v", snap.Roster)
	}

	// A second player joins; the broker's member count is authoritative.
	conn2 := ws.Open(endpoint)
	defer conn2.Close()
	sess2, err := session.Open(1, session.Identity{PlayerID: 8, Nickname: "chaser"}, session.NewWSTransport(conn2))
	if err != nil {
		t.Fatalf("Open second: %v", err)
	}
	defer sess2.Close()
	waitSnapshot(t, sess2, func(snap session.Snapshot) bool {
		return snap.Connection == session.ConnConnected
	})
	if err := sess2.RequestJoin(); err != nil {
		t.Fatalf("second RequestJoin: %v", err)
	}

	snap = waitSnapshot(t, sess, func(snap session.Snapshot) bool {
		return snap.Room.PlayerCount == 2
	})
	if len(snap.Roster) != 2 {
		t.Fatalf("roster = %+v", snap.Roster)
	}
	waitSnapshot(t, sess2, func(snap session.Snapshot) bool {
		return snap.Membership == session.Joined
	})

	// Location reports flow through the broker to every subscriber.
	if err := sess2.ReportLocation(coords(37.5665, 126.9780)); err != nil {
		t.Fatalf("ReportLocation: %v", err)
	}
	snap = waitSnapshot(t, sess, func(snap session.Snapshot) bool {
		for _, p := range snap.Roster {
			if p.ID == 8 && p.Latitude != nil {
				return true
			}
		}
		return false
	})
	_ = snap

	if err := sess.ReportTag(8, "qr-123"); err != nil {
		t.Fatalf("ReportTag: %v", err)
	}
	waitSnapshot(t, sess2, func(snap session.Snapshot) bool {
		return snap.LastTag != nil && snap.LastTag.TargetID == 8 && snap.LastTag.QRCode == "qr-123"
	})

	if err := sess2.RequestLeave(); err != nil {
		t.Fatalf("RequestLeave: %v", err)
	}
	waitSnapshot(t, sess, func(snap session.Snapshot) bool {
		return snap.Room.PlayerCount == 1 && len(snap.Roster) == 1
	})
}

// TestStartRoomBroadcasts verifies the REST start endpoint also produces a
// START event on the room topic.
func TestStartRoomBroadcasts(t *testing.T) {
	_, ts := startServer(t)
	endpoint := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn := ws.Open(endpoint)
	defer conn.Close()
	sess, err := session.Open(3, session.Identity{PlayerID: 9, Nickname: "host"}, session.NewWSTransport(conn))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	waitSnapshot(t, sess, func(snap session.Snapshot) bool {
		return snap.Connection == session.ConnConnected
	})
	if err := sess.RequestJoin(); err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	waitSnapshot(t, sess, func(snap session.Snapshot) bool {
		return snap.Membership == session.Joined
	})

	if err := NewClient(ts.URL).StartRoom(context.Background(), 3); err != nil {
		t.Fatalf("StartRoom: %v", err)
	}
	waitSnapshot(t, sess, func(snap session.Snapshot) bool {
		return snap.Room.Started
	})
}

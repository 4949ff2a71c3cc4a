package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/policethief/realtime/validate"
)

var (
	ErrNotConnected   = errors.New("session: transport not connected")
	ErrStateViolation = errors.New("session: action not allowed in current state")
	ErrClosed         = errors.New("session: closed")
)

// ConnectionState is the transport lifecycle stage as seen by the session.
type ConnectionState string

const (
	ConnDisconnected     ConnectionState = "disconnected"
	ConnConnecting       ConnectionState = "connecting"
	ConnConnected        ConnectionState = "connected"
	ConnReconnectPending ConnectionState = "reconnect_pending"
)

// MembershipState is the local player's join/leave lifecycle stage,
// independent of the connection being up or down.
type MembershipState string

const (
	NotJoined    MembershipState = "not_joined"
	JoinPending  MembershipState = "join_pending"
	Joined       MembershipState = "joined"
	LeavePending MembershipState = "leave_pending"
)

// Player is one roster entry. Position fields are nil until the first
// location event for the player arrives.
type Player struct {
	ID        int64    `json:"id"`
	Nickname  string   `json:"nickname"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Room is the room-level view. PlayerCount comes from the broker's
// authoritative memberCount, never from the local roster length.
type Room struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Location    string `json:"location"`
	PlayerCount int    `json:"playerCount"`
	Started     bool   `json:"started"`
}

// TagRecord is the most recent tag observed in the room.
type TagRecord struct {
	TaggerID int64     `json:"taggerId"`
	TargetID int64     `json:"targetId"`
	QRCode   string    `json:"qrCode,omitempty"`
	At       time.Time `json:"at"`
}

// Snapshot is the fully consistent read view published after each applied
// event. The roster preserves insertion order for stable display.
type Snapshot struct {
	Connection    ConnectionState `json:"connection"`
	Membership    MembershipState `json:"membership"`
	Room          Room            `json:"room"`
	Roster        []Player        `json:"roster"`
	LocalPlayerID int64           `json:"localPlayerId"`
	LastTag       *TagRecord      `json:"lastTag,omitempty"`
	UnknownEvents int             `json:"unknownEvents,omitempty"`
}

// Identity is the local player, fixed for the session's whole lifetime.
type Identity struct {
	PlayerID int64  `json:"playerId"`
	Nickname string `json:"nickname"`
}

// NewIdentity mints a local identity with a random player id.
func NewIdentity(nickname string) (Identity, error) {
	if err := validate.Nickname(nickname); err != nil {
		return Identity{}, fmt.Errorf("invalid nickname: %w", err)
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Identity{}, fmt.Errorf("generate player id: %w", err)
	}
	id := int64(binary.BigEndian.Uint64(buf[:]) & math.MaxInt64)
	if id == 0 {
		id = 1
	}
	return Identity{PlayerID: id, Nickname: nickname}, nil
}

// Subscription is an active topic registration the session can withdraw.
type Subscription interface {
	Unsubscribe()
}

// Transport is the pub/sub surface the session drives. Implementations must
// deliver subscription messages in arrival order and fail Publish fast when
// not connected.
type Transport interface {
	Subscribe(topic string, handler func(body []byte)) (Subscription, error)
	Publish(destination string, body []byte) error
	// Notify registers a connection-state observer, invoking it once with
	// the current state.
	Notify(fn func(state ConnectionState, err error))
	Close() error
}

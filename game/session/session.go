package session

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/policethief/realtime/game/events"
	"github.com/policethief/realtime/geo"
)

// Session is one room visit. Construct with Open, tear down with Close;
// never share a Session across rooms.
type Session struct {
	roomID    int64
	identity  Identity
	transport Transport

	actions chan func()
	inbound chan events.Event
	connCh  chan connUpdate
	errCh   chan error
	done    chan struct{}
	stopped chan struct{}

	sub Subscription

	// Guarded by mu: the published snapshot and its watchers. Everything
	// else below is owned by the run goroutine.
	mu          sync.Mutex
	current     Snapshot
	watchers    map[int]chan Snapshot
	nextWatcher int
	closed      bool

	membership    MembershipState
	connection    ConnectionState
	room          Room
	roster        []*Player
	index         map[int64]*Player
	lastTag       *TagRecord
	unknownEvents int
}

type connUpdate struct {
	state ConnectionState
	err   error
}

// Open subscribes to the room's event topic and starts the dispatch loop.
// The room starts empty; SeedRoom fills in directory metadata once fetched.
func Open(roomID int64, identity Identity, t Transport) (*Session, error) {
	s := &Session{
		roomID:     roomID,
		identity:   identity,
		transport:  t,
		actions:    make(chan func()),
		inbound:    make(chan events.Event, 128),
		connCh:     make(chan connUpdate, 16),
		errCh:      make(chan error, 16),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		watchers:   make(map[int]chan Snapshot),
		membership: NotJoined,
		connection: ConnDisconnected,
		room:       Room{ID: roomID},
		index:      make(map[int64]*Player),
	}

	sub, err := t.Subscribe(events.Topic(roomID), s.handleRaw)
	if err != nil {
		return nil, fmt.Errorf("subscribe to room %d: %w", roomID, err)
	}
	s.sub = sub
	t.Notify(s.handleConnState)

	s.current = s.buildSnapshot()
	go s.run()
	return s, nil
}

// RoomID returns the room this session is bound to.
func (s *Session) RoomID() int64 { return s.roomID }

// Identity returns the immutable local player identity.
func (s *Session) Identity() Identity { return s.identity }

// Errors delivers transport failures observed by the session. The channel
// is never closed; sends are dropped rather than ever blocking the loop.
func (s *Session) Errors() <-chan error { return s.errCh }

// Snapshot returns the most recently published consistent view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Watch registers a snapshot consumer. The channel holds only the latest
// snapshot: a slow consumer skips intermediate views but never stalls the
// session. The current snapshot is delivered immediately. cancel removes
// the watcher and closes the channel.
func (s *Session) Watch() (<-chan Snapshot, func()) {
	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	ch := make(chan Snapshot, 1)
	closed := s.closed
	if !closed {
		s.watchers[id] = ch
	}
	ch <- s.current
	if closed {
		// Registered after Close: deliver the final snapshot and end the
		// stream so consumers ranging over it terminate.
		close(ch)
	}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
	return ch, cancel
}

// SeedRoom fills in directory metadata for the room. Later membership
// events still overwrite the player count.
func (s *Session) SeedRoom(name, location string, playerCount int) error {
	return s.do(func() error {
		s.room.Name = name
		s.room.Location = location
		s.room.PlayerCount = playerCount
		s.publish()
		return nil
	})
}

// RequestJoin announces the local player to the room. It is idempotent
// while a join is pending or complete, and rejected with ErrNotConnected
// while the transport is down.
func (s *Session) RequestJoin() error {
	return s.do(func() error {
		switch s.membership {
		case JoinPending, Joined:
			return nil
		case LeavePending:
			return fmt.Errorf("%w: leave in progress", ErrStateViolation)
		}
		if s.connection != ConnConnected {
			return ErrNotConnected
		}
		dest, body, err := events.Encode(s.roomID, events.JoinAction{
			PlayerID: s.identity.PlayerID,
			Nickname: s.identity.Nickname,
		})
		if err != nil {
			return err
		}
		if err := s.transport.Publish(dest, body); err != nil {
			return err
		}
		s.membership = JoinPending
		// Optimistic roster entry; the broker's Join echo refreshes it.
		s.upsert(s.identity.PlayerID, s.identity.Nickname)
		s.publish()
		return nil
	})
}

// RequestLeave withdraws the local player. Leaving while not joined is a
// no-op.
func (s *Session) RequestLeave() error {
	return s.do(func() error {
		if s.membership != Joined {
			return nil
		}
		dest, body, err := events.Encode(s.roomID, events.LeaveAction{PlayerID: s.identity.PlayerID})
		if err != nil {
			return err
		}
		if err := s.transport.Publish(dest, body); err != nil {
			return err
		}
		s.membership = LeavePending
		s.publish()
		return nil
	})
}

// RequestStart asks the broker to start the game with the local player as
// host. Only a joined player may start.
func (s *Session) RequestStart() error {
	return s.do(func() error {
		if s.membership != Joined {
			return fmt.Errorf("%w: start requires joined membership", ErrStateViolation)
		}
		if s.connection != ConnConnected {
			return ErrNotConnected
		}
		dest, body, err := events.Encode(s.roomID, events.StartAction{HostID: s.identity.PlayerID})
		if err != nil {
			return err
		}
		return s.transport.Publish(dest, body)
	})
}

// ReportLocation publishes the local player's position. A non-joined
// player's coordinates are never transmitted.
func (s *Session) ReportLocation(coords geo.Coordinates) error {
	return s.do(func() error {
		if s.membership != Joined {
			return fmt.Errorf("%w: location report requires joined membership", ErrStateViolation)
		}
		dest, body, err := events.Encode(s.roomID, events.LocationAction{
			PlayerID:  s.identity.PlayerID,
			Latitude:  coords.Latitude,
			Longitude: coords.Longitude,
			Accuracy:  coords.Accuracy,
		})
		if err != nil {
			return err
		}
		return s.transport.Publish(dest, body)
	})
}

// ReportTag publishes a tag of another player by the local player.
func (s *Session) ReportTag(targetID int64, qrCode string) error {
	return s.do(func() error {
		if s.membership != Joined {
			return fmt.Errorf("%w: tag requires joined membership", ErrStateViolation)
		}
		dest, body, err := events.Encode(s.roomID, events.TagAction{
			TaggerID: s.identity.PlayerID,
			TargetID: targetID,
			QRCode:   qrCode,
		})
		if err != nil {
			return err
		}
		return s.transport.Publish(dest, body)
	})
}

// Close tears the session down: stop the dispatch loop, withdraw the topic
// subscription, then close the transport. Callers stop their scheduler and
// location watches before calling Close. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	<-s.stopped

	s.sub.Unsubscribe()
	err := s.transport.Close()

	s.mu.Lock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.mu.Unlock()
	return err
}

// handleRaw runs on the transport's read goroutine; it only decodes and
// forwards, keeping all state mutation on the dispatch loop.
func (s *Session) handleRaw(body []byte) {
	ev := events.Decode(body)
	select {
	case s.inbound <- ev:
	case <-s.done:
	}
}

func (s *Session) handleConnState(state ConnectionState, err error) {
	select {
	case s.connCh <- connUpdate{state: state, err: err}:
	case <-s.done:
	}
}

// run is the single-threaded dispatch loop; it alone touches membership,
// room, and roster state.
func (s *Session) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.actions:
			fn()
		case ev := <-s.inbound:
			s.apply(ev)
			s.publish()
		case cu := <-s.connCh:
			s.connection = cu.state
			if cu.err != nil {
				s.reportError(fmt.Errorf("transport: %w", cu.err))
			}
			s.publish()
		}
	}
}

// do executes fn on the dispatch loop and waits for its result, giving
// actions synchronous validation without breaking the total order.
func (s *Session) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case s.actions <- func() { reply <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// apply folds one inbound event into the session state. Events are applied
// uniformly regardless of membership so other players' activity is tracked
// even before the local join.
func (s *Session) apply(ev events.Event) {
	switch ev := ev.(type) {
	case events.Join:
		s.upsert(ev.PlayerID, ev.Nickname)
		if ev.MemberCount != nil {
			s.room.PlayerCount = *ev.MemberCount
		}
		if ev.PlayerID == s.identity.PlayerID && s.membership == JoinPending {
			s.membership = Joined
		}

	case events.Leave:
		s.remove(ev.PlayerID)
		if ev.MemberCount != nil {
			s.room.PlayerCount = *ev.MemberCount
		}
		if ev.PlayerID == s.identity.PlayerID {
			if s.membership == LeavePending || s.membership == Joined {
				s.membership = NotJoined
			}
		}

	case events.Start:
		s.room.Started = true

	case events.Tag:
		at := ev.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		s.lastTag = &TagRecord{
			TaggerID: ev.PlayerID,
			TargetID: ev.TargetID,
			QRCode:   ev.QRCode,
			At:       at,
		}

	case events.Location:
		// A location for an unknown player means we missed its Join; no
		// entry is synthesized because the nickname is unknown.
		if p, ok := s.index[ev.PlayerID]; ok {
			lat, lon := ev.Latitude, ev.Longitude
			p.Latitude = &lat
			p.Longitude = &lon
			if ev.Accuracy != nil {
				acc := *ev.Accuracy
				p.Accuracy = &acc
			}
		}

	case events.Unknown:
		s.unknownEvents++
		log.Printf("[session] room %d: dropped unknown event: %s", s.roomID, ev.Reason)
	}
}

// upsert adds or refreshes a roster entry, preserving insertion order.
func (s *Session) upsert(playerID int64, nickname string) {
	if p, ok := s.index[playerID]; ok {
		if nickname != "" {
			p.Nickname = nickname
		}
		return
	}
	p := &Player{ID: playerID, Nickname: nickname}
	s.index[playerID] = p
	s.roster = append(s.roster, p)
}

func (s *Session) remove(playerID int64) {
	if _, ok := s.index[playerID]; !ok {
		return
	}
	delete(s.index, playerID)
	for i, p := range s.roster {
		if p.ID == playerID {
			s.roster = append(s.roster[:i], s.roster[i+1:]...)
			break
		}
	}
}

func (s *Session) buildSnapshot() Snapshot {
	roster := make([]Player, len(s.roster))
	for i, p := range s.roster {
		roster[i] = Player{
			ID:        p.ID,
			Nickname:  p.Nickname,
			Latitude:  cloneFloat(p.Latitude),
			Longitude: cloneFloat(p.Longitude),
			Accuracy:  cloneFloat(p.Accuracy),
		}
	}
	var lastTag *TagRecord
	if s.lastTag != nil {
		tag := *s.lastTag
		lastTag = &tag
	}
	return Snapshot{
		Connection:    s.connection,
		Membership:    s.membership,
		Room:          s.room,
		Roster:        roster,
		LocalPlayerID: s.identity.PlayerID,
		LastTag:       lastTag,
		UnknownEvents: s.unknownEvents,
	}
}

// publish swaps in a freshly built snapshot and fans it out latest-wins.
func (s *Session) publish() {
	snap := s.buildSnapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = snap
	for _, ch := range s.watchers {
		select {
		case ch <- snap:
		default:
			// Replace the stale pending snapshot with the new one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) reportError(err error) {
	select {
	case s.errCh <- err:
	default:
		log.Printf("[session] room %d: error channel full, dropping: %v", s.roomID, err)
	}
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

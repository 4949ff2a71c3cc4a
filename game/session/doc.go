// Package session implements the room session state machine, the protocol
// core of the realtime client.
//
// A Session owns one room's connection state, membership state, room
// metadata, roster, and the local player identity. All mutation funnels
// through a single dispatch goroutine: inbound domain events, connection
// state changes, and local actions are applied one at a time in arrival
// order, so the state needs no locking and every observer sees a total
// order over mutations.
//
// State Machines:
//
// Membership: NotJoined -> JoinPending (join action while connected) ->
// Joined (inbound Join for the local id) -> LeavePending (leave action) ->
// NotJoined (inbound Leave for the local id). Join while pending or joined
// is a no-op; leave while not joined is a no-op; join while disconnected is
// rejected with ErrNotConnected.
//
// Connection: tracked independently of membership. A connection drop keeps
// the roster and membership intact; the previously known state survives
// until the next authoritative event corrects it, and the session never
// re-sends Join on reconnect by itself.
//
// Snapshots:
//
// After every applied event or transition the session publishes an
// immutable Snapshot. Snapshot returns the latest one; Watch returns a
// latest-wins channel for consumers that want pushes, such as the location
// broadcast scheduler. Errors delivers transport and protocol-adjacent
// failures without ever terminating the session.
package session

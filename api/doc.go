// Package api talks to the room directory and, for local development,
// provides the demo broker that stands in for the production backend.
//
// Client is the HTTP room-directory client used by the realtime session's
// callers: list rooms near a coordinate, fetch one room's detail, and ask
// the backend to start a game.
//
// Server is the demo broker: the same REST surface backed by an in-memory
// room store, plus the WebSocket pub/sub endpoint. It rebroadcasts every
// published game action to the room's topic with an authoritative
// memberCount, which is exactly what the production backend does. It exists
// so the CLI works standalone and so integration tests exercise the full
// client path.
package api

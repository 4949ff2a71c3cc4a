// Package ws provides the WebSocket pub/sub transport for the realtime
// client.
//
// The package has two halves:
//   - Conn, the client side: one physical connection per handle, automatic
//     reconnection with a fixed delay, and re-issue of all active
//     subscriptions after a reconnect.
//   - Hub, the server side used by the demo broker: a hub-and-spoke loop
//     that tracks per-client topic subscriptions and fans out messages.
//
// Frame Protocol:
//
// Every WebSocket message is one JSON frame:
//
//	{"op": "subscribe",   "destination": "/topic/game/1"}
//	{"op": "unsubscribe", "destination": "/topic/game/1"}
//	{"op": "send",        "destination": "/app/game/1/join", "body": {...}}
//	{"op": "message",     "destination": "/topic/game/1",    "body": {...}}
//
// The transport carries frames without interpreting bodies; decoding is the
// event codec's job.
//
// Delivery Guarantees:
//
// Subscription handlers run on the connection's read goroutine, so messages
// for a subscription are delivered in arrival order, one at a time. Publish
// on a non-connected handle fails fast with ErrNotConnected; nothing is
// queued on the caller's behalf.
package ws

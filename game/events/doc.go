// Package events is the wire boundary of the realtime client: it turns
// outbound player actions into publish destinations plus JSON payloads, and
// parses inbound broker messages into a closed set of typed domain events.
//
// Inbound Safety:
//
// Decode never fails. A payload that does not validate structurally (missing
// or mistyped required fields, unknown event type) becomes an Unknown event
// carrying the raw bytes and a reason, so one malformed message can never
// take down the event pipeline.
//
// Wire Protocol:
//
// One JSON object per event on topic /topic/game/{roomId}:
//
//	{"type": "JOIN", "roomId": 1, "playerId": 42,
//	 "data": {"nickname": "A", "memberCount": 1}, "timestamp": 1700000000000}
//
// Publish destinations are /app/game/{roomId}/{join|leave|start|location|tag}
// with payloads containing exactly the action's fields. Timestamps are
// advisory metadata only; events are never reordered by them.
package events

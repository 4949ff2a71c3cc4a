package ws

import "encoding/json"

// Op identifies a frame's purpose.
type Op string

const (
	// OpSubscribe registers interest in a topic.
	OpSubscribe Op = "subscribe"
	// OpUnsubscribe withdraws interest in a topic.
	OpUnsubscribe Op = "unsubscribe"
	// OpSend publishes an application payload to a destination.
	OpSend Op = "send"
	// OpMessage delivers a broker message for a subscribed topic.
	OpMessage Op = "message"
)

// Frame is the single wire envelope carried over the WebSocket.
type Frame struct {
	Op          Op              `json:"op"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

package session

import (
	"github.com/policethief/realtime/transport/ws"
)

// wsTransport adapts a ws.Conn to the Transport interface, mapping the
// transport's connection states onto the session's.
type wsTransport struct {
	conn *ws.Conn
}

// NewWSTransport wraps a WebSocket connection handle for use by a Session.
// The session takes ownership: Session.Close closes the connection.
func NewWSTransport(conn *ws.Conn) Transport {
	return wsTransport{conn: conn}
}

func (t wsTransport) Subscribe(topic string, handler func(body []byte)) (Subscription, error) {
	sub, err := t.conn.Subscribe(topic, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (t wsTransport) Publish(destination string, body []byte) error {
	err := t.conn.Publish(destination, body)
	if err == ws.ErrNotConnected {
		return ErrNotConnected
	}
	return err
}

func (t wsTransport) Notify(fn func(state ConnectionState, err error)) {
	t.conn.Notify(func(s ws.State, err error) {
		fn(mapState(s), err)
	})
}

func (t wsTransport) Close() error {
	return t.conn.Close()
}

func mapState(s ws.State) ConnectionState {
	switch s {
	case ws.Connecting:
		return ConnConnecting
	case ws.Connected:
		return ConnConnected
	case ws.ReconnectPending:
		return ConnReconnectPending
	default:
		return ConnDisconnected
	}
}

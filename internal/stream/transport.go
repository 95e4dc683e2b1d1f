package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"streamflow/logger"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultKeepAlive   = 20 * time.Second
)

// Conn is one open transport connection.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Transport dials the venue endpoint. Tests substitute fakes; production
// uses the websocket implementation below.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

type wsTransport struct {
	dialer    *websocket.Dialer
	keepAlive time.Duration
	log       *logger.Log
}

// NewWebsocketTransport builds the gorilla-backed transport. Each dialed
// connection runs its own ping loop until closed.
func NewWebsocketTransport(handshakeTimeout, keepAlive time.Duration) Transport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultDialTimeout
	}
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	return &wsTransport{
		dialer:    &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		keepAlive: keepAlive,
		log:       logger.GetLogger(),
	}
}

func (t *wsTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	wc := &wsConn{conn: conn, done: make(chan struct{})}
	go t.pingLoop(wc)
	return wc, nil
}

func (t *wsTransport) pingLoop(wc *wsConn) {
	ticker := time.NewTicker(t.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-wc.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			if err := wc.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.log.WithComponent("transport").WithError(err).Warn("failed to send websocket ping")
				return
			}
		}
	}
}

type wsConn struct {
	conn *websocket.Conn
	done chan struct{}
}

func (c *wsConn) WriteJSON(v interface{}) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

func (c *wsConn) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

// Package transport opens the authenticated WebSocket used for room events.
package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddle-chat/huddle/pkg/protocol"
)

var (
	// ErrUnauthorized means the server refused the bearer token.
	ErrUnauthorized = errors.New("token rejected by server")
	// ErrMalformed wraps a frame that could not be decoded.
	ErrMalformed = errors.New("malformed frame")
)

const (
	writeWait = 10 * time.Second
	// readWait must exceed the server's ping interval.
	readWait = 75 * time.Second
)

// Conn is an open, authenticated event channel. Read must only be called from
// a single goroutine; Write and Close are safe to call concurrently.
type Conn interface {
	Read() (protocol.Envelope, error)
	Write(env protocol.Envelope) error
	Close() error
}

// Dialer opens a Conn carrying the given bearer token.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

// WSDialer dials the room server over gorilla/websocket.
type WSDialer struct {
	TLSSkipVerify bool
}

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if d.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", url, ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn

	mu        sync.Mutex // serializes data writes
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read() (protocol.Envelope, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))

	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return protocol.Envelope{}, fmt.Errorf("%w: missing event name", ErrMalformed)
	}
	return env, nil
}

func (c *wsConn) Write(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Recoverable reports whether a read error means the connection was lost to a
// transient network condition and should be retried automatically. A normal
// or policy closure initiated by the server is deliberate and is not retried.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.ClosePolicyViolation:
			return false
		}
	}
	return true
}

// TokenRejected reports whether err means the bearer token is no longer
// accepted, either at handshake or by the server closing the session.
func TokenRejected(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == protocol.CloseTokenExpired
}

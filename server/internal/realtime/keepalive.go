package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// defaultPingInterval is how often the server sends WebSocket ping frames.
	defaultPingInterval = 30 * time.Second
	// defaultPongWait is the maximum time to wait for a pong from the peer.
	defaultPongWait = 60 * time.Second
	// writeWait bounds every frame write.
	writeWait = 10 * time.Second
)

// startKeepalive sets up WebSocket-level ping/pong on a connection. It sets a
// read deadline, installs a pong handler, and starts a goroutine that sends
// periodic pings. The returned cancel function stops the ping goroutine.
// mu must be the mutex used for all writes to the connection.
func startKeepalive(conn *websocket.Conn, mu *sync.Mutex, interval, pongWait time.Duration) (cancel func()) {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

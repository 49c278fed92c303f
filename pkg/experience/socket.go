package experience

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the write side of a client connection as the Manager sees it.
// Implementations serialize writes.
type Socket interface {
	WriteJSON(v any) error
	Close(code int, reason string) error
}

// wsSocket adapts a gorilla connection. gorilla allows one concurrent
// writer, so every data frame goes through mu.
type wsSocket struct {
	conn      *websocket.Conn
	writeWait time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

// defaultControlWait bounds control frame writes when no write wait is set.
const defaultControlWait = 5 * time.Second

func newWSSocket(conn *websocket.Conn, writeWait time.Duration) *wsSocket {
	return &wsSocket{conn: conn, writeWait: writeWait}
}

func (s *wsSocket) controlDeadline() time.Time {
	if s.writeWait <= 0 {
		return time.Now().Add(defaultControlWait)
	}
	return time.Now().Add(s.writeWait)
}

func (s *wsSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeWait > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	}
	return s.conn.WriteJSON(v)
}

// Ping sends a ping control frame. Control frames may be written
// concurrently with WriteJSON.
func (s *wsSocket) Ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, s.controlDeadline())
}

// Close sends a close frame with code and reason, then closes the
// connection. Only the first call has an effect.
func (s *wsSocket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		// Close reasons are limited to 123 bytes.
		if len(reason) > 123 {
			reason = reason[:123]
		}
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, s.controlDeadline())
		err = s.conn.Close()
	})
	return err
}

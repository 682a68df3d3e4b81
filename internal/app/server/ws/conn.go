package ws

import (
	"time"

	"github.com/gorilla/websocket"

	"stranger/internal/config"
)

// Conn wraps a gorilla connection with the session's deadlines. Only the
// writer goroutine may call the Write methods; only the reader may call
// ReadFrame.
type Conn struct {
	*websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration
}

func NewConn(conn *websocket.Conn, cfg config.SessionConfig) *Conn {
	c := &Conn{Conn: conn, writeWait: cfg.WriteWait, pongWait: cfg.PongWait}
	// Configure Read Limits (Protects against memory exhaustion)
	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}
	c.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})
	return c
}

func (c *Conn) extendReadDeadline() {
	if c.pongWait > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
	}
}

func (c *Conn) setWriteDeadline() {
	if c.writeWait > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	}
}

func (c *Conn) WriteText(data []byte) error {
	c.setWriteDeadline()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) WritePing() error {
	c.setWriteDeadline()
	return c.Conn.WriteMessage(websocket.PingMessage, nil)
}

// WriteClose sends a normal-closure frame; the peer may already be gone.
func (c *Conn) WriteClose() {
	c.setWriteDeadline()
	_ = c.Conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// ReadFrame blocks for the next data frame. Any inbound frame extends the
// read deadline, not only pongs.
func (c *Conn) ReadFrame() (int, []byte, error) {
	mt, data, err := c.Conn.ReadMessage()
	if err == nil {
		c.extendReadDeadline()
	}
	return mt, data, err
}

func (c *Conn) Close() {
	_ = c.Conn.Close()
}

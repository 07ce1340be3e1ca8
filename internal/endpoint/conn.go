package endpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/roomarch/roomarch/internal/config"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pingPeriod     = 54 * time.Second
)

// Conn is one client connection. Writes go through a buffered send channel
// drained by a single write pump, so any goroutine may send toward a conn
// without coordinating with its read loop. Sends toward a closed or
// close-pending conn are silently dropped.
type Conn struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	ctx        context.Context
	cancel     context.CancelFunc
	sendCh     chan []byte
	limiter    *rate.Limiter

	mu          sync.RWMutex
	closed      bool
	authorized  bool
	closeCode   int
	closeReason string
}

func newConn(wsConn *websocket.Conn, remoteAddr string, rl config.RateLimit) *Conn {
	ctx, cancel := context.WithCancel(context.Background())

	var limiter *rate.Limiter
	if rl.Enabled {
		limiter = rate.NewLimiter(rate.Limit(rl.MessagesPerSecond), rl.Burst)
	}

	c := &Conn{
		id:         uuid.New().String(),
		conn:       wsConn,
		remoteAddr: remoteAddr,
		ctx:        ctx,
		cancel:     cancel,
		sendCh:     make(chan []byte, sendBufferSize),
		limiter:    limiter,
	}

	go c.writePump()

	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}

// Context is cancelled when the connection closes.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Authorize marks the connection as authorized, switching the read loop
// from the authorization deadline to the idle deadline.
func (c *Conn) Authorize() {
	c.mu.Lock()
	c.authorized = true
	c.mu.Unlock()
}

// Authorized reports whether the connection has completed authorization.
func (c *Conn) Authorized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authorized
}

// Send queues data for delivery. It is fire-and-forget: a closed conn or a
// full send buffer drops the message instead of returning an error, which
// lets broadcast and eviction paths run without caring whether the peer
// just disconnected.
func (c *Conn) Send(data []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}

	select {
	case c.sendCh <- data:
	default:
	}
}

// Close closes the connection with a normal closure frame. Closing an
// already-closed conn is a no-op.
func (c *Conn) Close() {
	c.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason closes the connection with the given status code and
// reason. The close frame is emitted by the write pump after the already
// queued messages, so a reply sent just before the close still reaches
// the peer ahead of it. Idempotent.
func (c *Conn) CloseWithReason(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	c.cancel()

	// Closing the channel lets the pump drain the buffered sends before
	// it sees the close and tears the socket down.
	close(c.sendCh)
}

// IsAlive reports whether the connection is still open.
func (c *Conn) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// allow checks the inbound rate limit for one message.
func (c *Conn) allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// writePump drains the send channel onto the socket and keeps the peer
// alive with periodic pings. It is the only writer of frames; when the
// channel closes it emits the recorded close frame and tears the socket
// down, so no close can overtake a reply queued before it.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.mu.RLock()
				frame := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				c.mu.RUnlock()
				_ = c.conn.WriteMessage(websocket.CloseMessage, frame)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package endpoint

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roomarch/roomarch"
	"github.com/roomarch/roomarch/internal/config"
)

var errRequestTooBig = errors.New("request exceeds maximum size")

// ConnectFunc is called after the handshake completes, before the read
// loop starts.
type ConnectFunc func(c *Conn)

// MessageFunc receives each complete, size-checked inbound message. It runs
// synchronously on the connection's read loop: by the time the next message
// is read, the previous one has been fully handled.
type MessageFunc func(c *Conn, data []byte)

// DisconnectFunc is called exactly once when a connection finishes, for any
// cause: peer close, timeout, protocol violation or server shutdown.
type DisconnectFunc func(c *Conn)

// Endpoint owns the websocket upgrade path and every live connection. It
// turns the raw socket into a stream of complete application messages,
// enforcing the maximum request size and the authorization/idle timeout
// policy along the way.
type Endpoint struct {
	cfg *config.Config
	log *logrus.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Conn

	onConnect    ConnectFunc
	onMessage    MessageFunc
	onDisconnect DisconnectFunc
}

// New creates an endpoint with the given limits and timeouts.
func New(cfg *config.Config, log *logrus.Logger) *Endpoint {
	return &Endpoint{
		cfg:   cfg,
		log:   log,
		conns: make(map[string]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.BufferSize,
			WriteBufferSize: cfg.BufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// OnConnect registers the connection callback. Must be called before the
// endpoint starts accepting.
func (e *Endpoint) OnConnect(fn ConnectFunc) { e.onConnect = fn }

// OnMessage registers the message callback.
func (e *Endpoint) OnMessage(fn MessageFunc) { e.onMessage = fn }

// OnDisconnect registers the disconnect callback.
func (e *Endpoint) OnDisconnect(fn DisconnectFunc) { e.onDisconnect = fn }

// ServeHTTP upgrades the request and starts the connection's read loop.
// Non-websocket requests get a 400.
func (e *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		e.log.WithError(err).Debug("websocket upgrade rejected")
		return
	}

	c := newConn(wsConn, r.RemoteAddr, e.cfg.RateLimit)

	e.mu.Lock()
	e.conns[c.ID()] = c
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"conn":   c.ID(),
		"remote": c.RemoteAddr(),
	}).Debug("client connected")

	if e.onConnect != nil {
		e.onConnect(c)
	}

	go e.readLoop(c)
}

// CloseAll closes every live connection. Used on server shutdown.
func (e *Endpoint) CloseAll() {
	e.mu.Lock()
	conns := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// readLoop drives one connection until it closes. The deadline for each
// receive depends on the connection's state: unauthorized conns must
// complete an authorization within a fixed deadline anchored at accept
// time, authorized conns within the idle timeout of the previous completed
// receive.
func (e *Endpoint) readLoop(c *Conn) {
	defer func() {
		c.Close()

		e.mu.Lock()
		delete(e.conns, c.ID())
		e.mu.Unlock()

		if e.onDisconnect != nil {
			e.onDisconnect(c)
		}

		e.log.WithField("conn", c.ID()).Debug("client disconnected")
	}()

	authDeadline := time.Now().Add(e.cfg.AuthorizationTimeout)

	for {
		if c.Authorized() {
			c.conn.SetReadDeadline(time.Now().Add(e.cfg.IdleTimeout))
		} else {
			// Fixed deadline: failed attempts do not extend it.
			c.conn.SetReadDeadline(authDeadline)
		}

		_, reader, err := c.conn.NextReader()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.CloseWithReason(websocket.ClosePolicyViolation, "")
			}
			return
		}

		data, err := e.readMessage(reader)
		if err != nil {
			if errors.Is(err, errRequestTooBig) {
				e.log.WithField("conn", c.ID()).Warn("request exceeds maximum size")
				c.CloseWithReason(websocket.CloseMessageTooBig, roomarch.CloseMaxRequestSizeExceeded)
			}
			return
		}

		if len(data) == 0 {
			continue
		}

		if !c.allow() {
			e.log.WithFields(logrus.Fields{
				"conn":   c.ID(),
				"remote": c.RemoteAddr(),
			}).Warn("rate limit exceeded")
			c.CloseWithReason(websocket.ClosePolicyViolation, roomarch.CloseRateLimitExceeded)
			return
		}

		if e.onMessage != nil {
			e.onMessage(c, data)
		}

		// The handler may have closed the conn; the socket itself goes
		// down once the write pump drains, so stop reading here instead
		// of waiting for the read to fail.
		if !c.IsAlive() {
			return
		}
	}
}

// readMessage reassembles one logical message, reading fragments in
// buffer-sized chunks. The size check runs against the running total so
// reassembly aborts as soon as the limit is crossed, before the remainder
// of an oversized message is ever buffered.
func (e *Endpoint) readMessage(r io.Reader) ([]byte, error) {
	buf := make([]byte, e.cfg.BufferSize)
	var message []byte

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if len(message)+n > e.cfg.MaxRequestSize {
				return nil, errRequestTooBig
			}
			message = append(message, buf[:n]...)
		}
		if err == io.EOF {
			return message, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Package client implements a connecting client for the room server: it
// dials the upgrade endpoint, speaks the notification envelope, and routes
// incoming pass payloads to handlers registered by method name.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomarch/roomarch"
)

// PassHandler receives a relayed payload: the sender's display name and
// the verbatim value string.
type PassHandler func(sender, value string)

// PresenceHandler is invoked when a member joins (present=true) or leaves
// (present=false) the current room.
type PresenceHandler func(sender string, present bool)

// StatusHandler receives every status code reply from the server.
type StatusHandler func(code roomarch.NotificationCode)

// Client is one connection to the room server. Register handlers before
// calling Start; the registration map is fixed once the read loop runs.
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	passHandlers map[string]PassHandler
	onPresence   PresenceHandler
	onStatus     StatusHandler

	done     chan struct{}
	closeErr error
}

// Dial connects to a room server endpoint URL (e.g.
// "ws://localhost:8080/endpoint").
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:         conn,
		passHandlers: make(map[string]PassHandler),
		done:         make(chan struct{}),
	}, nil
}

// OnPass registers a handler for a pass method, receiving the raw value.
func (c *Client) OnPass(method string, fn PassHandler) {
	c.passHandlers[method] = fn
}

// RegisterPass registers a typed handler for a pass method: the incoming
// value is JSON-decoded into T before fn runs. Values that fail to decode
// are dropped.
func RegisterPass[T any](c *Client, method string, fn func(sender string, value T)) {
	c.passHandlers[method] = func(sender, raw string) {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return
		}
		fn(sender, v)
	}
}

// OnPresence registers the presence callback.
func (c *Client) OnPresence(fn PresenceHandler) {
	c.onPresence = fn
}

// OnStatus registers the status reply callback.
func (c *Client) OnStatus(fn StatusHandler) {
	c.onStatus = fn
}

// Start runs the read loop until the connection closes. It returns the
// read error that ended the loop; a server-initiated close surfaces as a
// *websocket.CloseError carrying the close reason.
func (c *Client) Start() error {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeErr = err
			return err
		}

		n, err := roomarch.Decode(data)
		if err != nil {
			continue
		}
		c.dispatch(n)
	}
}

// Done is closed when the read loop has finished.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the read loop, if any.
func (c *Client) Err() error {
	return c.closeErr
}

func (c *Client) dispatch(n *roomarch.Notification) {
	switch n.Type {
	case roomarch.TypeMessage:
		if n.Code != nil && c.onStatus != nil {
			c.onStatus(*n.Code)
		}
	case roomarch.TypePresence:
		if c.onPresence != nil {
			c.onPresence(n.Sender, n.Value == "true")
		}
	case roomarch.TypePass:
		if fn, ok := c.passHandlers[n.Method]; ok {
			fn(n.Sender, n.Value)
		}
	}
}

// Authorize sends the credential. The server replies with
// AuthorizationSuccess or closes the connection.
func (c *Client) Authorize(key, version, os string) error {
	return c.send(roomarch.NewAuthorization(roomarch.Credential{
		APIKey:  key,
		Version: version,
		OS:      os,
	}))
}

// CreateRoom asks the server to create a room with the caller as host.
// Password may be empty.
func (c *Client) CreateRoom(name, sender, password string) error {
	return c.send(&roomarch.Notification{
		Type: roomarch.TypeCreateRoom,
		Room: &roomarch.RoomConfiguration{Name: name, Sender: sender, Password: password},
	})
}

// JoinRoom asks to join an existing room.
func (c *Client) JoinRoom(name, sender, password string) error {
	return c.send(&roomarch.Notification{
		Type: roomarch.TypeJoinRoom,
		Room: &roomarch.RoomConfiguration{Name: name, Sender: sender, Password: password},
	})
}

// LeaveRoom leaves the current room. Leaving as host tears the room down.
func (c *Client) LeaveRoom() error {
	return c.send(&roomarch.Notification{Type: roomarch.TypeLeaveRoom})
}

// Modify updates the current room's policy. Host only.
func (c *Client) Modify(mod roomarch.RoomModification) error {
	return c.send(&roomarch.Notification{Type: roomarch.TypeModification, State: &mod})
}

// Kick evicts the named members from the current room. Host only.
func (c *Client) Kick(names ...string) error {
	return c.send(&roomarch.Notification{Type: roomarch.TypeKick, Clients: names})
}

// Pass relays an opaque value to every other room member.
func (c *Client) Pass(method, value string) error {
	return c.send(&roomarch.Notification{Type: roomarch.TypePass, Method: method, Value: value})
}

// PassTo relays an opaque value only to the named members.
func (c *Client) PassTo(method, value string, receivers ...string) error {
	return c.send(&roomarch.Notification{
		Type:    roomarch.TypePass,
		Method:  method,
		Value:   value,
		Clients: receivers,
	})
}

// PassJSON encodes value as JSON and relays it, pairing with RegisterPass
// on the receiving side.
func (c *Client) PassJSON(method string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Pass(method, string(encoded))
}

// Close sends a normal closure frame and closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, message, deadline)
	return c.conn.Close()
}

func (c *Client) send(n *roomarch.Notification) error {
	data, err := n.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

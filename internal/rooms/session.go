package rooms

import (
	"strings"

	"github.com/roomarch/roomarch"
)

// Conn is the connection surface the room layer drives: identity, the
// authorization flag, best-effort sends and connection-fatal closes.
// Implemented by endpoint.Conn; tests substitute fakes.
type Conn interface {
	ID() string
	Authorized() bool
	Authorize()
	Send(data []byte)
	CloseWithReason(code int, reason string)
}

// normalize produces the case-insensitive identity key for room and member
// names.
func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Session is the server-side state of one connected client: its display
// name, authorization flag (delegated to the connection) and a link to at
// most one current room. The room owns the membership list; the session
// only references it.
//
// Sessions are not safe for concurrent use on their own; the Controller's
// lock serializes every mutation.
type Session struct {
	conn Conn
	name string
	room *Room
}

func newSession(conn Conn) *Session {
	return &Session{conn: conn}
}

// Conn returns the underlying connection.
func (s *Session) Conn() Conn {
	return s.conn
}

// Authorized reports whether the session's connection completed
// authorization.
func (s *Session) Authorized() bool {
	return s.conn.Authorized()
}

// Name returns the display name.
func (s *Session) Name() string {
	return s.name
}

// NormalizedName returns the lowercased, trimmed identity key.
func (s *Session) NormalizedName() string {
	return normalize(s.name)
}

// SetName sets the display name. Set from the sender field when the
// session creates or joins a room.
func (s *Session) SetName(name string) {
	s.name = name
}

// Room returns the current room, or nil.
func (s *Session) Room() *Room {
	return s.room
}

// SetRoom moves the session between rooms: it detaches from the old room
// first, then attaches to the new one if non-nil. The detach and attach
// emit their presence broadcasts (or the host-departure teardown) as part
// of this call, so the join/leave invariant cannot be bypassed by writing
// the link directly.
func (s *Session) SetRoom(room *Room) {
	if s.room != nil {
		s.room.removeMember(s)
	}

	if room != nil && !room.HasMember(s) {
		room.addMember(s)
	}

	s.room = room
}

// send delivers a notification on the session's connection, best effort.
func (s *Session) send(n *roomarch.Notification) {
	data, err := n.Encode()
	if err != nil {
		return
	}
	s.conn.Send(data)
}

func (s *Session) sendStatus(code roomarch.NotificationCode) {
	s.send(roomarch.NewStatus(code))
}

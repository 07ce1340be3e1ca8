package rooms

import (
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roomarch/roomarch"
	"github.com/roomarch/roomarch/internal/config"
)

// MaxNameLength bounds room and member display names, in runes.
const MaxNameLength = 16

type handlerFunc func(s *Session, n *roomarch.Notification)

// Controller holds the room registry and dispatches every decoded command
// to its handler. The dispatch table is built once at construction; an
// unregistered tag is malformed input and closes the connection.
//
// A single mutex serializes the registry and all room/session mutation:
// handlers run on each connection's read loop, so two connections racing to
// create the same room resolve under the lock with exactly one winner.
type Controller struct {
	cfg *config.Config
	log *logrus.Logger

	mu       sync.Mutex
	rooms    map[string]*Room
	sessions map[string]*Session

	handlers map[string]handlerFunc
}

// NewController creates a controller and wires its dispatch table.
func NewController(cfg *config.Config, log *logrus.Logger) *Controller {
	c := &Controller{
		cfg:      cfg,
		log:      log,
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*Session),
	}

	c.handlers = map[string]handlerFunc{
		roomarch.TypeAuthorization: c.handleAuthorization,
		roomarch.TypeCreateRoom:    c.handleCreateRoom,
		roomarch.TypeJoinRoom:      c.handleJoinRoom,
		roomarch.TypeLeaveRoom:     c.handleLeaveRoom,
		roomarch.TypeModification:  c.handleModify,
		roomarch.TypeKick:          c.handleKick,
		roomarch.TypePass:          c.handlePass,
	}

	return c
}

// HandleConnect creates the session for a new connection.
func (c *Controller) HandleConnect(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[conn.ID()] = newSession(conn)
}

// HandleDisconnect finalizes the session: it detaches from any current
// room exactly as an explicit leave would, applying the host-teardown
// cascade when the departing session hosts the room.
func (c *Controller) HandleDisconnect(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[conn.ID()]
	if !ok {
		return
	}
	delete(c.sessions, conn.ID())

	if s.Room() != nil {
		c.detach(s)
	}
}

// HandleMessage decodes one inbound message and dispatches it. Malformed
// envelopes and unregistered tags are connection-fatal.
func (c *Controller) HandleMessage(conn Conn, data []byte) {
	n, err := roomarch.Decode(data)
	if err != nil {
		c.log.WithField("conn", conn.ID()).Debug("malformed request")
		conn.CloseWithReason(websocket.ClosePolicyViolation, roomarch.CloseInvalidRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[conn.ID()]
	if !ok {
		return
	}

	handler, ok := c.handlers[n.Type]
	if !ok {
		conn.CloseWithReason(websocket.ClosePolicyViolation, roomarch.CloseInvalidRequest)
		return
	}

	handler(s, n)
}

// RoomCount returns the number of registered rooms.
func (c *Controller) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// detach clears the session's room link, dropping the room from the
// registry first when the session is its host. Callers hold c.mu.
func (c *Controller) detach(s *Session) {
	if room := s.Room(); room != nil && room.Host() == s {
		delete(c.rooms, room.NormalizedName())
	}
	s.SetRoom(nil)
}

// filter rejects commands from unauthorized sessions by closing the
// connection. Every handler except authorization runs behind it.
func (c *Controller) filter(s *Session) bool {
	if s.Authorized() {
		return true
	}
	s.conn.CloseWithReason(websocket.ClosePolicyViolation, roomarch.CloseUnauthorizedAccess)
	return false
}

// validateRoomRequest checks the shared preconditions of create and join:
// a present room config with name and sender between 1 and 16 runes after
// trimming. Failures are in-band replies; the connection stays open.
func (c *Controller) validateRoomRequest(s *Session, n *roomarch.Notification) bool {
	if n.Room == nil {
		s.sendStatus(roomarch.RoomConfigurationNotSpecified)
		return false
	}

	if l := utf8.RuneCountInString(normalize(n.Room.Name)); l == 0 || l > MaxNameLength {
		s.sendStatus(roomarch.InvalidRoomName)
		return false
	}

	if l := utf8.RuneCountInString(normalize(n.Room.Sender)); l == 0 || l > MaxNameLength {
		s.sendStatus(roomarch.InvalidUsername)
		return false
	}

	return true
}

func (c *Controller) handleAuthorization(s *Session, n *roomarch.Notification) {
	if s.Authorized() {
		return
	}

	if n.Credential == nil {
		s.conn.CloseWithReason(websocket.ClosePolicyViolation, roomarch.CloseInvalidCredential)
		return
	}

	if !slices.Contains(c.cfg.APIKeys, n.Credential.APIKey) {
		s.conn.CloseWithReason(websocket.ClosePolicyViolation, roomarch.CloseInvalidAPIKey)
		return
	}

	if !slices.Contains(c.cfg.SupportedVersions, n.Credential.Version) {
		s.conn.CloseWithReason(websocket.ClosePolicyViolation, roomarch.CloseUnsupportedVersion)
		return
	}

	s.conn.Authorize()
	s.sendStatus(roomarch.AuthorizationSuccess)
}

func (c *Controller) handleCreateRoom(s *Session, n *roomarch.Notification) {
	if !c.filter(s) || !c.validateRoomRequest(s, n) {
		return
	}

	if s.Room() != nil {
		s.sendStatus(roomarch.LeaveBeforeCreating)
		return
	}

	key := normalize(n.Room.Name)
	if _, taken := c.rooms[key]; taken {
		s.sendStatus(roomarch.RoomNameTaken)
		return
	}

	s.SetName(n.Room.Sender)
	room := newRoom(n.Room, s, c.cfg.ClientLimit)
	c.rooms[key] = room
	s.SetRoom(room)

	c.log.WithFields(logrus.Fields{
		"room": key,
		"host": s.NormalizedName(),
	}).Info("room created")

	s.sendStatus(roomarch.RoomCreated)
}

func (c *Controller) handleJoinRoom(s *Session, n *roomarch.Notification) {
	if !c.filter(s) || !c.validateRoomRequest(s, n) {
		return
	}

	if s.Room() != nil {
		s.sendStatus(roomarch.LeaveBeforeJoining)
		return
	}

	room, ok := c.rooms[normalize(n.Room.Name)]
	if !ok {
		s.sendStatus(roomarch.RoomDoesNotExist)
		return
	}

	if room.Count() >= room.ClientLimit() {
		s.sendStatus(roomarch.ClientLimitReached)
		return
	}

	if room.Locked() {
		s.sendStatus(roomarch.RoomLocked)
		return
	}

	if room.HasMemberNamed(n.Room.Sender) {
		s.sendStatus(roomarch.UsernameTaken)
		return
	}

	if room.Password() != "" && room.Password() != n.Room.Password {
		s.sendStatus(roomarch.InvalidPassword)
		return
	}

	s.SetName(n.Room.Sender)
	s.SetRoom(room)
	s.sendStatus(roomarch.RoomJoined)
}

func (c *Controller) handleLeaveRoom(s *Session, n *roomarch.Notification) {
	if !c.filter(s) {
		return
	}

	if s.Room() == nil {
		s.sendStatus(roomarch.NoRoomToLeave)
		return
	}

	c.detach(s)
	s.sendStatus(roomarch.RoomLeft)
}

func (c *Controller) handleModify(s *Session, n *roomarch.Notification) {
	if !c.filter(s) {
		return
	}

	if n.State == nil {
		s.sendStatus(roomarch.RoomModificationNotSpecified)
		return
	}

	room := s.Room()
	if room == nil || room.Host() != s {
		s.sendStatus(roomarch.UnallowedRequest)
		return
	}

	if n.State.Locked != nil {
		room.locked = *n.State.Locked
	}
	if n.State.Limit != nil && *n.State.Limit != 0 && *n.State.Limit <= c.cfg.ClientLimit {
		room.clientLimit = *n.State.Limit
	}
	// An empty string is a valid password value: it disables the check.
	if n.State.Password != nil {
		room.password = *n.State.Password
	}

	// No acknowledgment on success; clients observe the absence of a reply.
}

func (c *Controller) handleKick(s *Session, n *roomarch.Notification) {
	if !c.filter(s) || n.Clients == nil {
		return
	}

	room := s.Room()
	if room == nil || room.Host() != s {
		s.sendStatus(roomarch.UnallowedRequest)
		return
	}

	evicted := room.EvictNamed(roomarch.NewStatus(roomarch.KickedOutByHost), n.Clients)

	// A host naming itself tears the room down; the registry entry goes
	// with it.
	if slices.Contains(evicted, room.Host()) {
		delete(c.rooms, room.NormalizedName())
	}
}

func (c *Controller) handlePass(s *Session, n *roomarch.Notification) {
	if !c.filter(s) || !n.HasMethod() || !n.HasValue() {
		return
	}

	room := s.Room()
	if room == nil {
		return
	}

	relay := roomarch.NewPass(s.Name(), n.Method, n.Value)
	if n.Clients == nil {
		room.BroadcastToOthers(s, relay)
	} else {
		room.BroadcastToNamed(relay, n.Clients)
	}
}

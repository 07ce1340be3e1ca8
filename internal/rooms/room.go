package rooms

import (
	"github.com/roomarch/roomarch"
)

// Room is one named room: its host, policy fields and ordered membership.
// The host is fixed for the room's lifetime and is always a member while
// the room exists. All mutation happens under the Controller's lock.
type Room struct {
	name        string
	host        *Session
	password    string
	locked      bool
	clientLimit int
	members     []*Session
}

func newRoom(cfg *roomarch.RoomConfiguration, host *Session, clientLimit int) *Room {
	r := &Room{
		name:        cfg.Name,
		password:    cfg.Password,
		host:        host,
		clientLimit: clientLimit,
	}
	r.members = append(r.members, host)
	return r
}

// Name returns the display form of the room name.
func (r *Room) Name() string {
	return r.name
}

// NormalizedName returns the registry key for the room.
func (r *Room) NormalizedName() string {
	return normalize(r.name)
}

// Host returns the session that created the room.
func (r *Room) Host() *Session {
	return r.host
}

// Count returns the current number of members, host included.
func (r *Room) Count() int {
	return len(r.members)
}

// Locked reports whether joining is currently blocked.
func (r *Room) Locked() bool {
	return r.locked
}

// ClientLimit returns the membership capacity.
func (r *Room) ClientLimit() int {
	return r.clientLimit
}

// Password returns the join password; empty means no password check.
func (r *Room) Password() string {
	return r.password
}

// HasMember reports whether the session is a member.
func (r *Room) HasMember(s *Session) bool {
	for _, m := range r.members {
		if m == s {
			return true
		}
	}
	return false
}

// HasMemberNamed reports whether any member matches the name,
// case-insensitively.
func (r *Room) HasMemberNamed(name string) bool {
	return r.memberNamed(name) != nil
}

func (r *Room) memberNamed(name string) *Session {
	key := normalize(name)
	for _, m := range r.members {
		if m.NormalizedName() == key {
			return m
		}
	}
	return nil
}

// addMember appends the session in registration order and announces it to
// the existing members.
func (r *Room) addMember(s *Session) {
	r.members = append(r.members, s)
	r.BroadcastToOthers(s, roomarch.NewPresence(s.Name(), true))
}

// removeMember takes the session out of the membership list and reports
// whether it was a member. Removing the host tears the room down: every
// remaining member is detached and told KickedOut, in registration order.
// A non-host removal announces the departure to the remaining members.
func (r *Room) removeMember(s *Session) bool {
	idx := -1
	for i, m := range r.members {
		if m == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	r.members = append(r.members[:idx], r.members[idx+1:]...)

	if s == r.host {
		kicked := roomarch.NewStatus(roomarch.KickedOut)
		remaining := r.members
		r.members = nil
		for _, m := range remaining {
			m.room = nil
			m.send(kicked)
		}
	} else {
		r.BroadcastToOthers(s, roomarch.NewPresence(s.Name(), false))
	}

	return true
}

// BroadcastToOthers sends the notification to every member except the
// sender, in registration order, best effort.
func (r *Room) BroadcastToOthers(sender *Session, n *roomarch.Notification) {
	data, err := n.Encode()
	if err != nil {
		return
	}
	for _, m := range r.members {
		if m != sender {
			m.conn.Send(data)
		}
	}
}

// BroadcastToNamed sends the notification only to the members whose
// normalized name appears in names. Unmatched names are ignored.
func (r *Room) BroadcastToNamed(n *roomarch.Notification, names []string) {
	data, err := n.Encode()
	if err != nil {
		return
	}
	for _, name := range names {
		if m := r.memberNamed(name); m != nil {
			m.conn.Send(data)
		}
	}
}

// EvictNamed detaches each named member and sends it the given message.
// Unmatched names are ignored. The detach runs through SetRoom, so the
// remaining members see the usual departure side effects; evicting the host
// by name tears the room down. Returns the evicted sessions.
func (r *Room) EvictNamed(n *roomarch.Notification, names []string) []*Session {
	var evicted []*Session
	for _, name := range names {
		m := r.memberNamed(name)
		if m == nil {
			continue
		}
		m.SetRoom(nil)
		m.send(n)
		evicted = append(evicted, m)
	}
	return evicted
}

// Package roomarch implements a real-time multi-party session server over
// WebSocket, plus the shared wire vocabulary its clients speak.
//
// Clients connect to a single upgrade endpoint, authorize with an API key,
// and then create or join named rooms. The session that creates a room is
// its host and holds exclusive authority over locking, capacity, password
// policy and kicking; when the host leaves, the room is torn down and every
// remaining member is evicted. Members exchange presence events and opaque
// relayed payloads ("pass" messages) that the server never interprets.
//
// # Wire Protocol
//
// Every message is one text-framed JSON envelope (Notification). The "type"
// tag selects the command:
//
//	auth   authorize with {key, ver, os}; must be the first command
//	add    create a room {name, sender, pass?}
//	join   join a room {name, sender, pass?}
//	leave  leave the current room
//	mod    host only: update {lock?, limit?, pass?}
//	kick   host only: evict the named members
//	pass   relay {method, value} to the room or to named members
//
// The server replies with "msg" envelopes carrying a NotificationCode, and
// pushes "presence" and "pass" envelopes to room members. Room names and
// member names are case-insensitive: "ROOM", " room " and "room" are the
// same room.
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.APIKeys = []string{"api-key"}
//	srv := ws.New(cfg, logrus.StandardLogger())
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The client package dials the endpoint and routes incoming pass payloads
// to registered handlers by method name.
//
// # Failure Model
//
// Protocol violations are connection-fatal: an oversized or malformed
// message, a command before authorization, or a bad credential closes the
// connection with a close reason from this package (CloseInvalidRequest and
// friends). Application-level failures such as a taken room name come back
// as in-band "msg" replies on the still-open connection. Broadcasts are
// best-effort: a closed peer never surfaces an error to the sender.
package roomarch

package ws

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/roomarch/roomarch"
)

const (
	testAPIKey  = "test-api-key"
	testVersion = "1.0"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()

	cfg := Default()
	cfg.APIKeys = []string{testAPIKey}
	cfg.SupportedVersions = []string{testVersion}
	cfg.AuthorizationTimeout = 2 * time.Second
	cfg.IdleTimeout = 10 * time.Second
	cfg.RateLimit.Enabled = false

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := New(cfg, log)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	return srv, "ws" + strings.TrimPrefix(httpSrv.URL, "http")
}

// testClient drives one raw websocket connection through the protocol.
type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialClient(t *testing.T, url string) *testClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(n *roomarch.Notification) {
	c.t.Helper()

	data, err := n.Encode()
	if err != nil {
		c.t.Fatalf("encode: %v", err)
	}
	c.sendRaw(data)
}

func (c *testClient) sendRaw(data []byte) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *testClient) recv() *roomarch.Notification {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	n, err := roomarch.Decode(data)
	if err != nil {
		c.t.Fatalf("server sent malformed envelope %q: %v", data, err)
	}
	return n
}

func (c *testClient) expectCode(want roomarch.NotificationCode) {
	c.t.Helper()

	n := c.recv()
	if n.Code == nil {
		c.t.Fatalf("expected code %v, got notification without code: %+v", want, n)
	}
	if *n.Code != want {
		c.t.Fatalf("got code %v, want %v", *n.Code, want)
	}
}

func (c *testClient) expectPresence(sender string, present bool) {
	c.t.Helper()

	n := c.recv()
	if n.Type != roomarch.TypePresence {
		c.t.Fatalf("expected presence, got %+v", n)
	}
	if n.Sender != sender {
		c.t.Fatalf("presence sender = %q, want %q", n.Sender, sender)
	}
	wantValue := "false"
	if present {
		wantValue = "true"
	}
	if n.Value != wantValue {
		c.t.Fatalf("presence value = %q, want %q", n.Value, wantValue)
	}
}

func (c *testClient) expectClose(code int, reason string) {
	c.t.Helper()

	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			c.t.Fatalf("expected close frame, got: %v", err)
		}
		if closeErr.Code != code {
			c.t.Fatalf("close code = %d, want %d", closeErr.Code, code)
		}
		if closeErr.Text != reason {
			c.t.Fatalf("close reason = %q, want %q", closeErr.Text, reason)
		}
		return
	}
}

func (c *testClient) authorize() {
	c.t.Helper()

	c.send(roomarch.NewAuthorization(roomarch.Credential{
		APIKey:  testAPIKey,
		Version: testVersion,
		OS:      "Linux",
	}))
	c.expectCode(roomarch.AuthorizationSuccess)
}

func create(name, sender, password string) *roomarch.Notification {
	return &roomarch.Notification{
		Type: roomarch.TypeCreateRoom,
		Room: &roomarch.RoomConfiguration{Name: name, Sender: sender, Password: password},
	}
}

func join(name, sender, password string) *roomarch.Notification {
	return &roomarch.Notification{
		Type: roomarch.TypeJoinRoom,
		Room: &roomarch.RoomConfiguration{Name: name, Sender: sender, Password: password},
	}
}

func TestBasicFlow(t *testing.T) {
	srv, url := startServer(t)

	host := dialClient(t, url)
	host.authorize()
	host.send(create("room", "user", ""))
	host.expectCode(roomarch.RoomCreated)

	guest := dialClient(t, url)
	guest.authorize()
	guest.send(join("room", "user2", ""))
	guest.expectCode(roomarch.RoomJoined)
	host.expectPresence("user2", true)

	guest.send(&roomarch.Notification{Type: roomarch.TypeLeaveRoom})
	guest.expectCode(roomarch.RoomLeft)
	host.expectPresence("user2", false)

	host.send(&roomarch.Notification{Type: roomarch.TypeLeaveRoom})
	host.expectCode(roomarch.RoomLeft)

	if n := srv.Controller().RoomCount(); n != 0 {
		t.Fatalf("room count = %d after host left, want 0", n)
	}
}

func TestInvalidAPIKeyCloses(t *testing.T) {
	_, url := startServer(t)

	c := dialClient(t, url)
	c.send(roomarch.NewAuthorization(roomarch.Credential{
		APIKey: "wrong", Version: testVersion, OS: "Linux",
	}))
	c.expectClose(websocket.ClosePolicyViolation, roomarch.CloseInvalidAPIKey)
}

func TestUnsupportedVersionCloses(t *testing.T) {
	_, url := startServer(t)

	c := dialClient(t, url)
	c.send(roomarch.NewAuthorization(roomarch.Credential{
		APIKey: testAPIKey, Version: "0.1", OS: "Linux",
	}))
	c.expectClose(websocket.ClosePolicyViolation, roomarch.CloseUnsupportedVersion)
}

func TestUnauthorizedAccessCloses(t *testing.T) {
	_, url := startServer(t)

	c := dialClient(t, url)
	c.send(create("room", "user", ""))
	c.expectClose(websocket.ClosePolicyViolation, roomarch.CloseUnauthorizedAccess)
}

func TestInvalidRequestCloses(t *testing.T) {
	vectors := []string{
		"abcdefg",
		"{}",
		`{"type":"auth","cred":{}}`,
		`{"type":"presence"}`,
		`{"type":"bogus"}`,
	}

	for _, vector := range vectors {
		_, url := startServer(t)
		c := dialClient(t, url)
		c.authorize()
		c.sendRaw([]byte(vector))
		c.expectClose(websocket.ClosePolicyViolation, roomarch.CloseInvalidRequest)
	}
}

func TestRoomValidationRepliesInBand(t *testing.T) {
	_, url := startServer(t)

	// Name and sender failures are application replies, not protocol
	// violations; the same connection carries on and can still create.
	c := dialClient(t, url)
	c.authorize()

	c.send(create("", "user", ""))
	c.expectCode(roomarch.InvalidRoomName)

	c.send(create("room", "", ""))
	c.expectCode(roomarch.InvalidUsername)

	c.send(create("room", "user", ""))
	c.expectCode(roomarch.RoomCreated)
}

func TestPasswordFlow(t *testing.T) {
	_, url := startServer(t)

	host := dialClient(t, url)
	host.authorize()
	host.send(create("room", "user", "123"))
	host.expectCode(roomarch.RoomCreated)

	guest := dialClient(t, url)
	guest.authorize()

	guest.send(join("room", "user2", ""))
	guest.expectCode(roomarch.InvalidPassword)
	guest.send(join("room", "user2", "321"))
	guest.expectCode(roomarch.InvalidPassword)
	guest.send(join("room", "user2", "123"))
	guest.expectCode(roomarch.RoomJoined)
}

func TestPassData(t *testing.T) {
	_, url := startServer(t)

	host := dialClient(t, url)
	host.authorize()
	host.send(create("room", "user", ""))
	host.expectCode(roomarch.RoomCreated)

	guest := dialClient(t, url)
	guest.authorize()
	guest.send(join("room", "user2", ""))
	guest.expectCode(roomarch.RoomJoined)
	host.expectPresence("user2", true)

	guest.send(&roomarch.Notification{Type: roomarch.TypePass, Method: "none", Value: "bingo"})

	relay := host.recv()
	if relay.Type != roomarch.TypePass || relay.Method != "none" ||
		relay.Value != "bingo" || relay.Sender != "user2" {
		t.Fatalf("unexpected relay: %+v", relay)
	}
}

func TestKickFlow(t *testing.T) {
	_, url := startServer(t)

	host := dialClient(t, url)
	host.authorize()
	host.send(create("room", "user", ""))
	host.expectCode(roomarch.RoomCreated)

	guest := dialClient(t, url)
	guest.authorize()
	guest.send(join("room", "user2", ""))
	guest.expectCode(roomarch.RoomJoined)
	host.expectPresence("user2", true)

	host.send(&roomarch.Notification{Type: roomarch.TypeKick, Clients: []string{"user2"}})
	guest.expectCode(roomarch.KickedOutByHost)
	host.expectPresence("user2", false)

	// Not a ban: the kicked member can come straight back.
	guest.send(join("room", "user2", ""))
	guest.expectCode(roomarch.RoomJoined)
	host.expectPresence("user2", true)
}

func TestHostDisconnectTearsDownRoom(t *testing.T) {
	srv, url := startServer(t)

	host := dialClient(t, url)
	host.authorize()
	host.send(create("room", "user", ""))
	host.expectCode(roomarch.RoomCreated)

	guest := dialClient(t, url)
	guest.authorize()
	guest.send(join("room", "user2", ""))
	guest.expectCode(roomarch.RoomJoined)

	host.conn.Close()
	guest.expectCode(roomarch.KickedOut)

	deadline := time.Now().Add(2 * time.Second)
	for srv.Controller().RoomCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("room registry not cleaned up after host disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartAndStop(t *testing.T) {
	cfg := Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.APIKeys = []string{testAPIKey}

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := New(cfg, log)
	ctx := t.Context()

	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if srv.Addr() == nil {
		t.Fatal("no listen address after start")
	}
	if err := srv.Start(ctx); err == nil {
		t.Fatal("second start should fail")
	}
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStartReportsBindFailure(t *testing.T) {
	cfg := Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.APIKeys = []string{testAPIKey}

	log := logrus.New()
	log.SetOutput(io.Discard)

	first := New(cfg, log)
	if err := first.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Binding the occupied port must fail synchronously from Start.
	taken := Default()
	taken.Addr = first.Addr().String()
	taken.APIKeys = []string{testAPIKey}

	second := New(taken, log)
	if err := second.Start(t.Context()); err == nil {
		t.Fatal("start on an occupied port should fail")
	}
}

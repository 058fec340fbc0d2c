package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/studycrew-backend/internal/auth"
	"github.com/AnshRaj112/studycrew-backend/internal/chat"
	"github.com/AnshRaj112/studycrew-backend/internal/middleware"
	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

// stubDirectory is an in-memory group directory: group -> user -> username.
type stubDirectory struct {
	mu     sync.Mutex
	groups map[string]map[string]string
	admins map[string][]string
}

func newStubDirectory() *stubDirectory {
	return &stubDirectory{
		groups: make(map[string]map[string]string),
		admins: make(map[string][]string),
	}
}

func (d *stubDirectory) add(groupID, userID, username string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.groups[groupID] == nil {
		d.groups[groupID] = make(map[string]string)
	}
	d.groups[groupID][userID] = username
}

func (d *stubDirectory) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.groups[groupID][userID]
	return ok, nil
}

func (d *stubDirectory) GroupAdmins(ctx context.Context, groupID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.groups[groupID]; !ok {
		return nil, chat.ErrGroupNotFound
	}
	return d.admins[groupID], nil
}

func (d *stubDirectory) GroupMembers(ctx context.Context, groupID string) ([]chat.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []chat.Member
	for id, name := range d.groups[groupID] {
		out = append(out, chat.Member{UserID: id, Username: name})
	}
	return out, nil
}

func (d *stubDirectory) Username(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, members := range d.groups {
		if name, ok := members[userID]; ok {
			return name, nil
		}
	}
	return "", chat.ErrUserNotFound
}

// tokenAuth accepts "token-<userID>".
type tokenAuth struct{}

func (tokenAuth) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	if !strings.HasPrefix(token, "token-") {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return auth.Identity{UserID: strings.TrimPrefix(token, "token-")}, nil
}

type testServer struct {
	*httptest.Server
	svc     *chat.Service
	dir     *stubDirectory
	handler *ChatHandler
}

func newTestServer(t *testing.T, uploader Uploader) *testServer {
	t.Helper()

	dir := newStubDirectory()
	dir.add("g1", "alice", "alice")
	dir.add("g1", "bob", "bob")
	dir.add("g2", "carol", "carol")

	svc := chat.NewService(chat.NewMemoryStore(), dir, chat.Options{})
	t.Cleanup(svc.Close)

	h := NewChatHandler(svc, auth.Chain{tokenAuth{}}, dir, uploader, []string{"http://localhost:5173"})

	r := chi.NewRouter()
	r.Get("/ws/chat", h.ServeWS)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.Identify))
		r.Get("/api/messages/groups/{groupID}/messages", h.GetMessages)
		r.Post("/api/messages/groups/{groupID}/messages", h.SendMessage)
		r.Get("/api/messages/groups/{groupID}/messages/{messageID}", h.GetMessage)
		r.Put("/api/messages/messages/{messageID}", h.EditMessage)
		r.Delete("/api/messages/messages/{messageID}", h.DeleteMessage)
		r.Post("/api/chat/upload", h.UploadFile)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, svc: svc, dir: dir, handler: h}
}

func (s *testServer) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws/chat"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

// testClient is a raw socket client that records every frame it reads.
type testClient struct {
	t      *testing.T
	conn   *websocket.Conn
	frames chan protocol.Envelope
	nextID uint64
}

func (s *testServer) dial(t *testing.T, userID string) *testClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("token-"+userID), nil)
	require.NoError(t, err)
	c := &testClient{t: t, conn: conn, frames: make(chan protocol.Envelope, 64)}
	go c.readLoop()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *testClient) readLoop() {
	defer close(c.frames)
	for {
		var env protocol.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		c.frames <- env
	}
}

func (c *testClient) send(event string, data any) uint64 {
	c.t.Helper()

	c.nextID++
	frame, err := protocol.Encode(event, c.nextID, data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
	return c.nextID
}

// next waits for the first frame matching match, discarding the others.
func (c *testClient) next(match func(protocol.Envelope) bool) protocol.Envelope {
	c.t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.frames:
			require.True(c.t, ok, "connection closed")
			if match(env) {
				return env
			}
		case <-timeout:
			c.t.Fatal("timed out waiting for frame")
			return protocol.Envelope{}
		}
	}
}

func (c *testClient) event(name string) protocol.Envelope {
	c.t.Helper()
	return c.next(func(env protocol.Envelope) bool { return env.Event == name })
}

func (c *testClient) ack(id uint64) protocol.Envelope {
	c.t.Helper()
	return c.next(func(env protocol.Envelope) bool { return env.Event == protocol.EventAck && env.ID == id })
}

func (c *testClient) join(groupID string) {
	c.t.Helper()

	id := c.send(protocol.EventJoinRoom, protocol.RoomRequest{GroupID: groupID})
	ack := c.ack(id)
	require.Nil(c.t, ack.Error)
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) *http.Response {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer token-"+userID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

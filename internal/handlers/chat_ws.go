package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AnshRaj112/studycrew-backend/internal/auth"
	"github.com/AnshRaj112/studycrew-backend/internal/chat"
	"github.com/AnshRaj112/studycrew-backend/internal/metrics"
	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 90 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameSize  = 64 * 1024
	sendQueueSize = 256
)

// ChatHandler serves the chat socket and the chat HTTP endpoints.
type ChatHandler struct {
	svc      *chat.Service
	authn    auth.Authenticator
	groups   chat.GroupDirectory
	uploader Uploader
	upgrader websocket.Upgrader
}

// NewChatHandler wires the handler. uploader may be nil when attachments are
// not configured; allowedOrigins restricts browser socket connections.
func NewChatHandler(svc *chat.Service, authn auth.Authenticator, groups chat.GroupDirectory, uploader Uploader, allowedOrigins []string) *ChatHandler {
	h := &ChatHandler{
		svc:      svc,
		authn:    authn,
		groups:   groups,
		uploader: uploader,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and browser requests from an allowed origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Identify resolves a credential to an identity with a display name from the
// group directory.
func (h *ChatHandler) Identify(ctx context.Context, token string) (auth.Identity, error) {
	id, err := h.authn.Authenticate(ctx, token)
	if err != nil {
		return auth.Identity{}, err
	}

	name, err := h.groups.Username(ctx, id.UserID)
	switch {
	case errors.Is(err, chat.ErrUserNotFound):
		return auth.Identity{}, fmt.Errorf("%w: unknown user", auth.ErrInvalidToken)
	case err != nil:
		log.Printf("chat_ws: username lookup for %s failed: %v", id.UserID, err)
	default:
		id.Username = name
	}
	return id, nil
}

func authFailure(err error) *chat.Error {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return chat.AuthenticationError("authentication token is required", err)
	case errors.Is(err, auth.ErrInvalidToken):
		return chat.AuthenticationError("invalid or expired authentication token", err)
	default:
		return chat.AuthenticationError("authentication unavailable", err)
	}
}

// ServeWS handles GET /ws/chat. The credential comes from the Authorization
// header or the token query parameter; a connection that fails to
// authenticate receives an error event and is closed.
func (h *ChatHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	identity, err := h.Identify(ctx, token)
	if err != nil {
		ce := authFailure(err)
		if !errors.Is(err, auth.ErrMissingToken) && !errors.Is(err, auth.ErrInvalidToken) {
			log.Printf("chat_ws: authentication failed: %v", err)
		}
		metrics.Errors.WithLabelValues(string(ce.Kind)).Inc()
		rejectConnection(conn, ce)
		return
	}

	c := newWSConn(conn, identity)
	h.svc.Connect(c)
	go c.writePump()

	c.readPump(ctx, h)

	h.svc.Disconnect(c)
	c.close()
}

func rejectConnection(conn *websocket.Conn, ce *chat.Error) {
	defer conn.Close()

	deadline := time.Now().Add(writeWait)
	if frame, err := protocol.EncodeError(0, ce.Payload()); err == nil {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, frame)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ce.Message), deadline)
}

// wsConn is one authenticated socket. Frames are queued on send and written
// by a single writer goroutine, which preserves per-connection order.
type wsConn struct {
	id       string
	identity auth.Identity
	conn     *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, identity auth.Identity) *wsConn {
	return &wsConn{
		id:       uuid.NewString(),
		identity: identity,
		conn:     conn,
		send:     make(chan []byte, sendQueueSize),
		done:     make(chan struct{}),
	}
}

func (c *wsConn) ID() string       { return c.id }
func (c *wsConn) UserID() string   { return c.identity.UserID }
func (c *wsConn) Username() string { return c.identity.Username }

// Emit queues an event. It never blocks; a full queue closes the connection.
func (c *wsConn) Emit(event string, payload any) {
	frame, err := protocol.Encode(event, 0, payload)
	if err != nil {
		log.Printf("chat_ws: encode %s: %v", event, err)
		return
	}
	c.enqueue(frame)
}

func (c *wsConn) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- frame:
	case <-c.done:
	default:
		metrics.DroppedConnections.Inc()
		log.Printf("chat_ws: dropping slow connection %s of user %s", c.id, c.identity.UserID)
		c.close()
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *wsConn) ack(id uint64, payload any) {
	if id == 0 {
		return
	}
	frame, err := protocol.Encode(protocol.EventAck, id, payload)
	if err != nil {
		log.Printf("chat_ws: encode ack: %v", err)
		return
	}
	c.enqueue(frame)
}

// fail reports err as an error event and, for requests with an id, as a
// failed ack.
func (c *wsConn) fail(env protocol.Envelope, groupID string, err error) {
	ce := chat.AsError(err)
	metrics.Errors.WithLabelValues(string(ce.Kind)).Inc()
	if ce.Kind == chat.KindInternal {
		log.Printf("chat_ws: %s by user %s failed: %v", env.Event, c.identity.UserID, ce)
	}

	payload := ce.Payload()
	payload.Event = env.Event
	payload.GroupID = groupID

	if frame, err := protocol.EncodeError(0, payload); err == nil {
		c.enqueue(frame)
	}
	if env.ID != 0 {
		if frame, err := protocol.EncodeError(env.ID, payload); err == nil {
			c.enqueue(frame)
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsConn) readPump(ctx context.Context, h *ChatHandler) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("chat_ws: read from %s: %v", c.id, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.fail(protocol.Envelope{}, "", chat.ValidationError("malformed frame"))
			continue
		}
		h.dispatch(ctx, c, env)
	}
}

func decodeData(env protocol.Envelope, v any) error {
	if len(env.Data) == 0 {
		return chat.ValidationError("missing event data")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return chat.ValidationError("malformed event data")
	}
	return nil
}

func (h *ChatHandler) dispatch(ctx context.Context, c *wsConn, env protocol.Envelope) {
	var target struct {
		GroupID string `json:"groupId"`
	}
	_ = json.Unmarshal(env.Data, &target)

	defer func() {
		if r := recover(); r != nil {
			c.fail(env, target.GroupID, fmt.Errorf("panic in %s handler: %v", env.Event, r))
		}
	}()

	actor := chat.ActorOf(c)

	switch env.Event {
	case protocol.EventJoinRoom:
		var req protocol.RoomRequest
		if err := decodeData(env, &req); err != nil {
			c.fail(env, target.GroupID, err)
			return
		}
		if err := h.svc.JoinRoom(ctx, c, req.GroupID); err != nil {
			c.fail(env, req.GroupID, err)
			return
		}
		c.ack(env.ID, protocol.RoomJoined{GroupID: req.GroupID})

	case protocol.EventLeaveRoom:
		var req protocol.RoomRequest
		if err := decodeData(env, &req); err != nil {
			c.fail(env, target.GroupID, err)
			return
		}
		if err := h.svc.LeaveRoom(ctx, c, req.GroupID); err != nil {
			c.fail(env, req.GroupID, err)
			return
		}
		c.ack(env.ID, protocol.RoomRequest{GroupID: req.GroupID})

	case protocol.EventSendMessage:
		var req protocol.SendMessageRequest
		if err := decodeData(env, &req); err != nil {
			c.fail(env, target.GroupID, err)
			return
		}
		msg, err := h.svc.SendMessage(ctx, actor, req)
		if err != nil {
			c.fail(env, req.GroupID, err)
			return
		}
		c.ack(env.ID, msg.ToWire())

	case protocol.EventEditMessage:
		var req protocol.EditMessageRequest
		if err := decodeData(env, &req); err != nil {
			c.fail(env, target.GroupID, err)
			return
		}
		msg, err := h.svc.EditMessage(ctx, actor, req)
		if err != nil {
			c.fail(env, req.GroupID, err)
			return
		}
		c.ack(env.ID, msg.ToWire())

	case protocol.EventDeleteMessage:
		var req protocol.DeleteMessageRequest
		if err := decodeData(env, &req); err != nil {
			c.fail(env, target.GroupID, err)
			return
		}
		if _, err := h.svc.DeleteMessage(ctx, actor, req); err != nil {
			c.fail(env, req.GroupID, err)
			return
		}
		c.ack(env.ID, protocol.MessageDeleted{MessageID: req.MessageID, GroupID: req.GroupID})

	case protocol.EventTyping:
		var req protocol.TypingRequest
		if err := decodeData(env, &req); err != nil {
			c.fail(env, target.GroupID, err)
			return
		}
		if err := h.svc.SetTyping(ctx, actor, req.GroupID, req.IsTyping); err != nil {
			c.fail(env, req.GroupID, err)
			return
		}
		c.ack(env.ID, nil)

	default:
		c.fail(env, target.GroupID, chat.ValidationError(fmt.Sprintf("unknown event %q", env.Event)))
	}
}

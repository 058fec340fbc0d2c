// Package chatclient is a Go client for the StudyCrew chat socket. It keeps a
// connection alive across drops, re-joins rooms after reconnecting and turns
// acknowledged events into plain request/response calls.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

const (
	DefaultReconnectDelay       = time.Second
	DefaultMaxReconnectDelay    = 5 * time.Second
	DefaultMaxReconnectAttempts = 5

	rejoinTimeout = 10 * time.Second
)

var (
	// ErrDisconnected fails requests whose connection dropped before the ack.
	ErrDisconnected = errors.New("chatclient: disconnected")
	ErrClosed       = errors.New("chatclient: closed")
	// ErrUnknownPlaceholder is returned by Room.Retry for an unknown temp id.
	ErrUnknownPlaceholder = errors.New("chatclient: no unresolved placeholder with that temp id")
)

// Status is the connection state reported to OnStatus handlers.
type Status int

const (
	StatusConnected Status = iota
	StatusReconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

type Config struct {
	// URL is the socket endpoint, e.g. ws://localhost:8080/ws/chat.
	URL string
	// BaseURL is the HTTP API root used by History. Derived from URL when empty.
	BaseURL string
	Token   string

	Dialer     *websocket.Dialer
	HTTPClient *http.Client

	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int
}

func (cfg *Config) setDefaults() {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.BaseURL == "" {
		if u, err := url.Parse(cfg.URL); err == nil {
			scheme := "http"
			if u.Scheme == "wss" {
				scheme = "https"
			}
			cfg.BaseURL = scheme + "://" + u.Host
		}
	}
}

type result struct {
	data json.RawMessage
	err  error
}

type Client struct {
	cfg Config

	writeMu sync.Mutex

	mu         sync.Mutex
	conn       *websocket.Conn
	closed     bool
	nextID     uint64
	pending    map[uint64]chan result
	rooms      map[string]struct{}
	handlers   map[string]map[uint64]func(json.RawMessage)
	statusSubs map[uint64]func(Status)
	handlerSeq uint64

	done chan struct{}
}

// Dial connects and starts the read loop. The connection is re-established
// automatically until Close is called or the reconnect attempts run out.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	cfg.setDefaults()

	c := &Client{
		cfg:        cfg,
		pending:    make(map[uint64]chan result),
		rooms:      make(map[string]struct{}),
		handlers:   make(map[string]map[uint64]func(json.RawMessage)),
		statusSubs: make(map[uint64]func(Status)),
		done:       make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("chatclient: dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("chatclient: dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// Close shuts the connection down and fails outstanding requests.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	c.failPending(ErrClosed)
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) run(conn *websocket.Conn) {
	for {
		c.readLoop(conn)
		if c.isClosed() {
			return
		}

		c.failPending(ErrDisconnected)
		c.setStatus(StatusReconnecting)

		next, err := c.reconnect()
		if err != nil {
			c.Close()
			c.setStatus(StatusDisconnected)
			return
		}
		conn = next
		c.setStatus(StatusConnected)
		c.rejoin()
	}
}

func (c *Client) reconnect() (*websocket.Conn, error) {
	delay := c.cfg.ReconnectDelay
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return nil, ErrClosed
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MaxReconnectDelay*2)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				conn.Close()
				return nil, ErrClosed
			}
			c.conn = conn
			c.mu.Unlock()
			return conn, nil
		}
		lastErr = err

		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
	return nil, lastErr
}

// rejoin re-subscribes every room joined before the drop.
func (c *Client) rejoin() {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for groupID := range c.rooms {
		rooms = append(rooms, groupID)
	}
	c.mu.Unlock()

	for _, groupID := range rooms {
		go c.rejoinRoom(groupID)
	}
}

// rejoinRoom re-joins one room, retrying failures other than a membership
// rejection with the reconnect backoff. When the attempts run out the last
// error is reported to OnError handlers; the room stays tracked for the next
// reconnect.
func (c *Client) rejoinRoom(groupID string) {
	delay := c.cfg.ReconnectDelay
	var err error
	for attempt := 0; attempt < c.cfg.MaxReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-c.done:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.MaxReconnectDelay {
				delay = c.cfg.MaxReconnectDelay
			}
		}
		if !c.tracksRoom(groupID) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), rejoinTimeout)
		err = c.JoinRoom(ctx, groupID)
		cancel()
		switch {
		case err == nil, ErrorCode(err) == protocol.CodeUnauthorized:
			return
		case errors.Is(err, ErrClosed), errors.Is(err, ErrDisconnected):
			// The next reconnect re-joins.
			return
		}
	}

	code := ErrorCode(err)
	if code == "" {
		code = protocol.CodeInternal
	}
	c.emitLocal(protocol.EventError, protocol.ErrorPayload{
		Message: "rejoin failed: " + err.Error(),
		Code:    code,
		Event:   protocol.EventJoinRoom,
		GroupID: groupID,
	})
}

func (c *Client) tracksRoom(groupID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[groupID]
	return ok
}

// emitLocal delivers a client-side event to subscribers as if it had been
// received from the server.
func (c *Client) emitLocal(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.dispatch(protocol.Envelope{Event: event, Data: data})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	if env.Event == protocol.EventAck {
		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if !ok {
			return
		}
		if env.Error != nil {
			ch <- result{err: env.Error}
		} else {
			ch <- result{data: env.Data}
		}
		return
	}

	c.mu.Lock()
	subs := make([]func(json.RawMessage), 0, len(c.handlers[env.Event]))
	for _, fn := range c.handlers[env.Event] {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(env.Data)
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan result)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	subs := make([]func(Status), 0, len(c.statusSubs))
	for _, fn := range c.statusSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}

func (c *Client) write(frame []byte) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return ErrDisconnected
	}
	return nil
}

// request sends event and waits for its ack.
func (c *Client) request(ctx context.Context, event string, data any) (json.RawMessage, error) {
	ch := make(chan result, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	frame, err := protocol.Encode(event, id, data)
	if err == nil {
		err = c.write(frame)
	}
	if err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) subscribe(event string, fn func(json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlerSeq++
	id := c.handlerSeq
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]func(json.RawMessage))
	}
	c.handlers[event][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
	}
}

func on[T any](c *Client, event string, fn func(T)) func() {
	return c.subscribe(event, func(raw json.RawMessage) {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			fn(v)
		}
	})
}

// Subscriptions. Each returns a func that removes the handler. Handlers run
// on the read goroutine in arrival order and must not block; a rejoin that
// ran out of attempts is reported to OnError from its own goroutine.

func (c *Client) OnMessage(fn func(protocol.Message)) func() {
	return on(c, protocol.EventMessage, fn)
}

func (c *Client) OnMessageUpdated(fn func(protocol.MessageUpdated)) func() {
	return on(c, protocol.EventMessageUpdated, fn)
}

func (c *Client) OnMessageDeleted(fn func(protocol.MessageDeleted)) func() {
	return on(c, protocol.EventMessageDeleted, fn)
}

func (c *Client) OnTyping(fn func(protocol.Typing)) func() {
	return on(c, protocol.EventTyping, fn)
}

func (c *Client) OnRoomMembers(fn func(protocol.RoomMembers)) func() {
	return on(c, protocol.EventRoomMembersUpdated, fn)
}

func (c *Client) OnRoomJoined(fn func(protocol.RoomJoined)) func() {
	return on(c, protocol.EventRoomJoined, fn)
}

func (c *Client) OnError(fn func(protocol.ErrorPayload)) func() {
	return on(c, protocol.EventError, fn)
}

func (c *Client) OnStatus(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlerSeq++
	id := c.handlerSeq
	c.statusSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.statusSubs, id)
	}
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var p *protocol.ErrorPayload
	if errors.As(err, &p) {
		return p.Code
	}
	return ""
}

// JoinRoom subscribes to a group. Joined rooms are re-joined after a
// reconnect until LeaveRoom; only a membership rejection forgets the room.
func (c *Client) JoinRoom(ctx context.Context, groupID string) error {
	c.mu.Lock()
	c.rooms[groupID] = struct{}{}
	c.mu.Unlock()

	_, err := c.request(ctx, protocol.EventJoinRoom, protocol.RoomRequest{GroupID: groupID})
	if ErrorCode(err) == protocol.CodeUnauthorized {
		c.mu.Lock()
		delete(c.rooms, groupID)
		c.mu.Unlock()
	}
	return err
}

func (c *Client) LeaveRoom(ctx context.Context, groupID string) error {
	c.mu.Lock()
	delete(c.rooms, groupID)
	c.mu.Unlock()

	_, err := c.request(ctx, protocol.EventLeaveRoom, protocol.RoomRequest{GroupID: groupID})
	return err
}

// SendMessage sends a message and returns the persisted message from the ack.
func (c *Client) SendMessage(ctx context.Context, req protocol.SendMessageRequest) (protocol.Message, error) {
	data, err := c.request(ctx, protocol.EventSendMessage, req)
	if err != nil {
		return protocol.Message{}, err
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("chatclient: decode ack: %w", err)
	}
	return msg, nil
}

func (c *Client) EditMessage(ctx context.Context, groupID, messageID, text string) (protocol.Message, error) {
	data, err := c.request(ctx, protocol.EventEditMessage, protocol.EditMessageRequest{
		MessageID: messageID,
		Text:      text,
		GroupID:   groupID,
	})
	if err != nil {
		return protocol.Message{}, err
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("chatclient: decode ack: %w", err)
	}
	return msg, nil
}

func (c *Client) DeleteMessage(ctx context.Context, groupID, messageID string) error {
	_, err := c.request(ctx, protocol.EventDeleteMessage, protocol.DeleteMessageRequest{
		MessageID: messageID,
		GroupID:   groupID,
	})
	return err
}

// Typing reports the local user's typing state without waiting for an ack.
func (c *Client) Typing(groupID string, isTyping bool) error {
	frame, err := protocol.Encode(protocol.EventTyping, 0, protocol.TypingRequest{GroupID: groupID, IsTyping: isTyping})
	if err != nil {
		return err
	}
	return c.write(frame)
}

// HistoryPage is one page of GET /api/messages/groups/{groupID}/messages.
type HistoryPage struct {
	Success  bool               `json:"success"`
	Messages []protocol.Message `json:"messages"`
	HasMore  bool               `json:"has_more"`
	Message  string             `json:"message,omitempty"`
	Code     string             `json:"code,omitempty"`
}

// History fetches messages older than before (a message id, or "" for the
// latest page), oldest first.
func (c *Client) History(ctx context.Context, groupID, before string, limit int) (HistoryPage, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/messages/groups/" + url.PathEscape(groupID) + "/messages"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return HistoryPage{}, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("chatclient: history: %w", err)
	}
	defer resp.Body.Close()

	var page HistoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return HistoryPage{}, fmt.Errorf("chatclient: decode history: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return HistoryPage{}, &protocol.ErrorPayload{Message: page.Message, Code: page.Code}
	}
	return page, nil
}

package chatclient

import (
	"context"
	"sync"

	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

// Room binds a Client and a Timeline for one group.
type Room struct {
	client   *Client
	groupID  string
	self     protocol.Sender
	timeline *Timeline

	mu        sync.Mutex
	unsubs    []func()
	removed   bool
	onRemoved func(protocol.ErrorPayload)
	onChange  func()
}

// NewRoom creates a room view; self is the local user, used for placeholders.
func NewRoom(c *Client, groupID string, self protocol.Sender) *Room {
	return &Room{
		client:   c,
		groupID:  groupID,
		self:     self,
		timeline: NewTimeline(),
	}
}

func (r *Room) GroupID() string     { return r.groupID }
func (r *Room) Timeline() *Timeline { return r.timeline }
func (r *Room) Entries() []Entry    { return r.timeline.Entries() }

// OnRemoved is called once when the server rejects the room as unauthorized,
// e.g. after the user was removed from the group.
func (r *Room) OnRemoved(fn func(protocol.ErrorPayload)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemoved = fn
}

// OnChange is called after every change to the timeline.
func (r *Room) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Room) changed(ok bool) {
	if !ok {
		return
	}
	r.mu.Lock()
	fn := r.onChange
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Join listens to the group's broadcasts and subscribes to the room.
func (r *Room) Join(ctx context.Context) error {
	r.mu.Lock()
	if len(r.unsubs) == 0 {
		r.unsubs = []func(){
			r.client.OnMessage(func(m protocol.Message) {
				if m.GroupID == r.groupID {
					r.changed(r.timeline.Reconcile(m))
				}
			}),
			r.client.OnMessageUpdated(func(u protocol.MessageUpdated) {
				r.changed(r.timeline.ApplyUpdate(u))
			}),
			r.client.OnMessageDeleted(func(d protocol.MessageDeleted) {
				if d.GroupID == r.groupID {
					r.changed(r.timeline.ApplyDelete(d))
				}
			}),
			r.client.OnError(func(p protocol.ErrorPayload) {
				if p.GroupID == r.groupID && p.Event == protocol.EventJoinRoom && p.Code == protocol.CodeUnauthorized {
					r.remove(p)
				}
			}),
		}
	}
	r.mu.Unlock()

	err := r.client.JoinRoom(ctx, r.groupID)
	if ErrorCode(err) == protocol.CodeUnauthorized {
		r.remove(protocol.ErrorPayload{Message: err.Error(), Code: protocol.CodeUnauthorized, Event: protocol.EventJoinRoom, GroupID: r.groupID})
	}
	return err
}

func (r *Room) detach() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
}

// remove detaches the room without retrying and notifies OnRemoved once.
func (r *Room) remove(p protocol.ErrorPayload) {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return
	}
	r.removed = true
	fn := r.onRemoved
	r.mu.Unlock()

	r.detach()
	if fn != nil {
		fn(p)
	}
}

// Leave unsubscribes from the room and stops applying its broadcasts.
func (r *Room) Leave(ctx context.Context) error {
	r.detach()
	return r.client.LeaveRoom(ctx, r.groupID)
}

// Send inserts an optimistic placeholder, sends it and reconciles the ack.
// On failure the placeholder is marked failed and can be retried with Retry.
func (r *Room) Send(ctx context.Context, req protocol.SendMessageRequest) (protocol.Message, error) {
	req.GroupID = r.groupID

	draft := protocol.Message{
		GroupID:      r.groupID,
		Sender:       r.self,
		Type:         req.Type,
		ClientTempID: req.ClientTempID,
		ReplyTo:      req.ReplyTo,
	}
	if req.Text != "" {
		text := req.Text
		draft.Text = &text
	}
	if req.FileURL != "" {
		draft.FileURL = &req.FileURL
		draft.FileName = &req.FileName
	}

	ph := r.timeline.AddPending(draft)
	r.changed(true)
	req.ClientTempID = ph.ClientTempID

	return r.deliver(ctx, req)
}

// Retry resends a failed placeholder with its original clientTempId, so a
// send that did reach the server is not duplicated.
func (r *Room) Retry(ctx context.Context, tempID string, req protocol.SendMessageRequest) (protocol.Message, error) {
	if _, ok := r.timeline.MarkPending(tempID); !ok {
		return protocol.Message{}, ErrUnknownPlaceholder
	}
	r.changed(true)

	req.GroupID = r.groupID
	req.ClientTempID = tempID
	return r.deliver(ctx, req)
}

func (r *Room) deliver(ctx context.Context, req protocol.SendMessageRequest) (protocol.Message, error) {
	msg, err := r.client.SendMessage(ctx, req)
	if err != nil {
		r.changed(r.timeline.MarkFailed(req.ClientTempID))
		return protocol.Message{}, err
	}
	r.changed(r.timeline.Reconcile(msg))
	return msg, nil
}

// LoadOlder prepends the page before the oldest loaded message and reports
// whether more history remains.
func (r *Room) LoadOlder(ctx context.Context, limit int) (bool, error) {
	before, _ := r.timeline.Oldest()
	page, err := r.client.History(ctx, r.groupID, before, limit)
	if err != nil {
		return false, err
	}
	r.changed(r.timeline.PrependHistory(page.Messages) > 0)
	return page.HasMore, nil
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/studycrew-backend/internal/models"
	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

func actor(userID string) Actor {
	return Actor{UserID: userID, Username: "user-" + userID}
}

func TestSendMessageBroadcastsCanonicalMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addAdmin("g1", "alice")
	f.dir.addMember("g1", "bob")

	alice := f.joined(t, "c1", "alice", "g1")
	aliceTab := f.joined(t, "c2", "alice", "g1")
	bob := f.joined(t, "c3", "bob", "g1")

	msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{
		GroupID:      "g1",
		Text:         "  hi  ",
		ClientTempID: "t1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)

	for _, p := range []*fakePeer{alice, aliceTab, bob} {
		got := p.eventsNamed(protocol.EventMessage)
		require.Len(t, got, 1, p.ID())
		wire := got[0].(protocol.Message)
		assert.Equal(t, msg.ID, wire.ID)
		require.NotNil(t, wire.Text)
		assert.Equal(t, "hi", *wire.Text)
		assert.Equal(t, "t1", wire.ClientTempID)
		assert.False(t, wire.Edited)
		assert.False(t, wire.Deleted)
		assert.Equal(t, "alice", wire.Sender.ID)
	}
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")

	tests := []struct {
		name string
		req  protocol.SendMessageRequest
	}{
		{"missing group", protocol.SendMessageRequest{Text: "hi"}},
		{"empty body", protocol.SendMessageRequest{GroupID: "g1"}},
		{"markup only", protocol.SendMessageRequest{GroupID: "g1", Text: "<script>alert(1)</script>"}},
		{"unknown type", protocol.SendMessageRequest{GroupID: "g1", Text: "hi", Type: "video"}},
		{"system from user", protocol.SendMessageRequest{GroupID: "g1", Text: "hi", Type: "system"}},
		{"image without file", protocol.SendMessageRequest{GroupID: "g1", Text: "look", Type: "image"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendMessage(context.Background(), actor("alice"), tt.req)
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")

	_, err := f.svc.SendMessage(context.Background(), actor("mallory"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, KindUnauthorized, KindOf(err))
	assert.Equal(t, msgNotMember, AsError(err).Message)
}

func TestSendMessageDirectoryFailureIsInternal(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.err = errors.New("connection refused")

	_, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.NotContains(t, AsError(err).Payload().Message, "connection refused")
}

func TestSendMessageSanitizesText(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")

	msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{
		GroupID: "g1",
		Text:    `hello <b>there</b><script>steal()</script>`,
	})
	require.NoError(t, err)
	text, _ := msg.Text()
	assert.Equal(t, "hello there", text)
}

func TestSendMessageInfersAttachmentKind(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")

	msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{
		GroupID:  "g1",
		FileURL:  "https://cdn.example.com/notes.pdf",
		FileName: "notes.pdf",
		FileMime: "application/pdf",
		FileSize: 1024,
	})
	require.NoError(t, err)
	assert.Equal(t, models.KindPDF, msg.Kind)
	file, ok := msg.File()
	require.True(t, ok)
	assert.Equal(t, "notes.pdf", file.Name)
	_, hasText := msg.Text()
	assert.False(t, hasText)
}

func TestSendMessageReplyMustBeInSameGroup(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g2", "alice")

	other, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g2", Text: "elsewhere"})
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "re", ReplyTo: other.ID})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "re", ReplyTo: "missing"})
	assert.Equal(t, KindNotFound, KindOf(err))

	first, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "first"})
	require.NoError(t, err)
	reply, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "re", ReplyTo: first.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, reply.ReplyTo)
}

func TestSendMessageIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")
	alice := f.joined(t, "c1", "alice", "g1")

	req := protocol.SendMessageRequest{GroupID: "g1", Text: "hi", ClientTempID: "t1"}
	first, err := f.svc.SendMessage(context.Background(), actor("alice"), req)
	require.NoError(t, err)
	second, err := f.svc.SendMessage(context.Background(), actor("alice"), req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, alice.eventsNamed(protocol.EventMessage), 1)

	msgs, _, err := f.store.List(context.Background(), "g1", Cursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendMessageIdempotentUnderConcurrentRetries(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 100})
	f.dir.addMember("g1", "alice")

	const retries = 8
	ids := make([]string, retries)
	var wg sync.WaitGroup
	for i := 0; i < retries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{
				GroupID: "g1", Text: "hi", ClientTempID: "t1",
			})
			if assert.NoError(t, err) {
				ids[i] = msg.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	msgs, _, err := f.store.List(context.Background(), "g1", Cursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestSendMessageTempIDScopedToSender(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g1", "bob")

	a, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "a", ClientTempID: "t1"})
	require.NoError(t, err)
	b, err := f.svc.SendMessage(context.Background(), actor("bob"), protocol.SendMessageRequest{GroupID: "g1", Text: "b", ClientTempID: "t1"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSendMessageRateLimitBoundary(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 5, RateWindow: time.Minute})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g1", "bob")

	send := func(userID string) error {
		_, err := f.svc.SendMessage(context.Background(), actor(userID), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
		return err
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, send("alice"), "send %d", i+1)
	}
	err := send("alice")
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))

	// Other users are unaffected.
	require.NoError(t, send("bob"))

	f.clock.Advance(60 * time.Second)
	require.NoError(t, send("alice"))
}

func TestDuplicateSendDoesNotConsumeRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 1, RateWindow: time.Minute})
	f.dir.addMember("g1", "alice")

	req := protocol.SendMessageRequest{GroupID: "g1", Text: "hi", ClientTempID: "t1"}
	_, err := f.svc.SendMessage(context.Background(), actor("alice"), req)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(context.Background(), actor("alice"), req)
	require.NoError(t, err)
}

// failingInsertStore rejects inserts while fail is set.
type failingInsertStore struct {
	*MemoryStore
	mu   sync.Mutex
	fail bool
}

func (s *failingInsertStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *failingInsertStore) Insert(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("insert: connection reset")
	}
	return s.MemoryStore.Insert(ctx, msg)
}

func TestRejectedSendDoesNotConsumeRateLimit(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 1, RateWindow: time.Minute})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g2", "alice")

	other, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g2", Text: "elsewhere"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)

	_, err = f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "re", ReplyTo: "missing"})
	assert.Equal(t, KindNotFound, KindOf(err))
	_, err = f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "re", ReplyTo: other.ID})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	require.NoError(t, err, "rejected replies must not use up the window")
}

func TestFailedPersistDoesNotConsumeRateLimit(t *testing.T) {
	clock := newFakeClock()
	store := &failingInsertStore{MemoryStore: NewMemoryStore(), fail: true}
	dir := newFakeDirectory()
	dir.addMember("g1", "alice")
	svc := NewService(store, dir, Options{RateLimit: 1, RateWindow: time.Minute, Now: clock.Now})
	t.Cleanup(svc.Close)

	_, err := svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	assert.Equal(t, KindInternal, KindOf(err))

	store.setFail(false)
	_, err = svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "again"})
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestMessagesAreOrderedPerRoom(t *testing.T) {
	// A frozen clock forces the pipeline to break timestamp ties itself.
	f := newFixture(t, Options{RateLimit: 100})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g1", "bob")
	watcher := f.joined(t, "c1", "bob", "g1")

	var sent []string
	for i := 0; i < 10; i++ {
		msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{
			GroupID: "g1", Text: fmt.Sprintf("m%d", i),
		})
		require.NoError(t, err)
		sent = append(sent, msg.ID)
	}

	got := watcher.eventsNamed(protocol.EventMessage)
	require.Len(t, got, len(sent))
	var prev time.Time
	for i, p := range got {
		wire := p.(protocol.Message)
		assert.Equal(t, sent[i], wire.ID)
		assert.True(t, wire.CreatedAt.After(prev), "createdAt must increase")
		prev = wire.CreatedAt
	}

	history, _, err := f.svc.FetchMessages(context.Background(), actor("bob"), "g1", 50, "")
	require.NoError(t, err)
	require.Len(t, history, len(sent))
	for i, m := range history {
		assert.Equal(t, sent[i], m.ID)
	}
}

func TestConcurrentSendsBroadcastInCreatedAtOrder(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 1000, Now: time.Now})
	f.dir.addMember("g1", "watcher")
	watcher := f.joined(t, "c1", "watcher", "g1")

	var wg sync.WaitGroup
	for u := 0; u < 4; u++ {
		userID := fmt.Sprintf("u%d", u)
		f.dir.addMember("g1", userID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := f.svc.SendMessage(context.Background(), actor(userID), protocol.SendMessageRequest{GroupID: "g1", Text: "x"})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got := watcher.eventsNamed(protocol.EventMessage)
	require.Len(t, got, 40)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].(protocol.Message).CreatedAt.After(got[i-1].(protocol.Message).CreatedAt))
	}
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g1", "bob")
	bob := f.joined(t, "c1", "bob", "g1")

	msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	require.NoError(t, err)

	_, err = f.svc.EditMessage(context.Background(), actor("bob"), protocol.EditMessageRequest{MessageID: msg.ID, GroupID: "g1", Text: "hacked"})
	assert.Equal(t, KindUnauthorized, KindOf(err))

	_, err = f.svc.EditMessage(context.Background(), actor("alice"), protocol.EditMessageRequest{MessageID: msg.ID, GroupID: "g2", Text: "x"})
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.svc.EditMessage(context.Background(), actor("alice"), protocol.EditMessageRequest{MessageID: msg.ID, GroupID: "g1", Text: "<i></i>"})
	assert.Equal(t, KindValidation, KindOf(err))

	f.clock.Advance(time.Second)
	updated, err := f.svc.EditMessage(context.Background(), actor("alice"), protocol.EditMessageRequest{MessageID: msg.ID, GroupID: "g1", Text: "hi there"})
	require.NoError(t, err)
	assert.True(t, updated.Edited)

	got := bob.eventsNamed(protocol.EventMessageUpdated)
	require.Len(t, got, 1)
	payload := got[0].(protocol.MessageUpdated)
	assert.Equal(t, msg.ID, payload.ID)
	require.NotNil(t, payload.Text)
	assert.Equal(t, "hi there", *payload.Text)
	assert.True(t, payload.Edited)
	assert.True(t, payload.UpdatedAt.After(msg.CreatedAt))
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addAdmin("g1", "admin")
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g1", "bob")
	watcher := f.joined(t, "c1", "bob", "g1")

	msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	require.NoError(t, err)

	_, err = f.svc.DeleteMessage(context.Background(), actor("bob"), protocol.DeleteMessageRequest{MessageID: msg.ID, GroupID: "g1"})
	assert.Equal(t, KindUnauthorized, KindOf(err))

	_, err = f.svc.DeleteMessage(context.Background(), actor("admin"), protocol.DeleteMessageRequest{MessageID: msg.ID, GroupID: "g1"})
	require.NoError(t, err)

	got := watcher.eventsNamed(protocol.EventMessageDeleted)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.MessageDeleted{MessageID: msg.ID, GroupID: "g1"}, got[0])

	// Deleting again succeeds quietly.
	_, err = f.svc.DeleteMessage(context.Background(), actor("alice"), protocol.DeleteMessageRequest{MessageID: msg.ID, GroupID: "g1"})
	require.NoError(t, err)
	assert.Len(t, watcher.eventsNamed(protocol.EventMessageDeleted), 1)
}

func TestSenderCanDeleteOwnMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")

	msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "oops"})
	require.NoError(t, err)
	deleted, err := f.svc.DeleteMessage(context.Background(), actor("alice"), protocol.DeleteMessageRequest{MessageID: msg.ID, GroupID: "g1"})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)
}

func TestTombstoneIsIrreversible(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")

	msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{
		GroupID: "g1", Type: "image", Text: "look", FileURL: "https://cdn.example.com/a.png",
	})
	require.NoError(t, err)
	_, err = f.svc.DeleteMessage(context.Background(), actor("alice"), protocol.DeleteMessageRequest{MessageID: msg.ID, GroupID: "g1"})
	require.NoError(t, err)

	_, err = f.svc.EditMessage(context.Background(), actor("alice"), protocol.EditMessageRequest{MessageID: msg.ID, GroupID: "g1", Text: "back"})
	assert.Equal(t, KindValidation, KindOf(err))

	stored, err := f.svc.Message(context.Background(), actor("alice"), "g1", msg.ID)
	require.NoError(t, err)
	wire := stored.ToWire()
	assert.True(t, wire.Deleted)
	assert.Nil(t, wire.Text)
	assert.Nil(t, wire.FileURL)

	history, _, err := f.svc.FetchMessages(context.Background(), actor("alice"), "g1", 10, "")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestFetchMessagesPagination(t *testing.T) {
	f := newFixture(t, Options{RateLimit: 100})
	f.dir.addMember("g1", "alice")

	var ids []string
	for i := 0; i < 7; i++ {
		f.clock.Advance(time.Second)
		msg, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, hasMore, err := f.svc.FetchMessages(context.Background(), actor("alice"), "g1", 3, "")
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, page, 3)
	assert.Equal(t, ids[4:], []string{page[0].ID, page[1].ID, page[2].ID})

	page, hasMore, err = f.svc.FetchMessages(context.Background(), actor("alice"), "g1", 3, page[0].ID)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Equal(t, ids[1:4], []string{page[0].ID, page[1].ID, page[2].ID})

	page, hasMore, err = f.svc.FetchMessages(context.Background(), actor("alice"), "g1", 3, page[0].CreatedAt.Format(time.RFC3339Nano))
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, page, 1)
	assert.Equal(t, ids[0], page[0].ID)

	_, _, err = f.svc.FetchMessages(context.Background(), actor("alice"), "g1", 3, "not-a-cursor")
	assert.Equal(t, KindValidation, KindOf(err))

	_, _, err = f.svc.FetchMessages(context.Background(), actor("stranger"), "g1", 3, "")
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestJoinRoom(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addAdmin("g1", "alice")
	f.dir.addMember("g1", "bob")

	alice := f.joined(t, "c1", "alice", "g1")
	assert.Len(t, alice.eventsNamed(protocol.EventRoomJoined), 1)
	require.Len(t, alice.eventsNamed(protocol.EventRoomMembersUpdated), 1)

	bob := f.joined(t, "c2", "bob", "g1")
	snapshots := alice.eventsNamed(protocol.EventRoomMembersUpdated)
	require.Len(t, snapshots, 2)
	snapshot := snapshots[1].(protocol.RoomMembers)
	assert.Equal(t, "g1", snapshot.GroupID)
	assert.Len(t, snapshot.Members, 2)
	assert.Equal(t, []string{"alice"}, snapshot.Admins)

	// A repeated join refreshes only the caller.
	require.NoError(t, f.svc.JoinRoom(context.Background(), bob, "g1"))
	assert.Len(t, alice.eventsNamed(protocol.EventRoomMembersUpdated), 2)
	assert.Len(t, bob.eventsNamed(protocol.EventRoomJoined), 2)
	assert.Len(t, f.svc.Rooms().Subscribers("g1"), 2)
}

func TestJoinRoomRejectsNonMembers(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")

	p := newFakePeer("c1", "mallory")
	f.svc.Connect(p)
	err := f.svc.JoinRoom(context.Background(), p, "g1")
	require.Error(t, err)
	assert.Equal(t, KindUnauthorized, KindOf(err))
	assert.False(t, f.svc.Rooms().IsSubscribed(p, "g1"))

	err = f.svc.JoinRoom(context.Background(), p, " ")
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g1", "bob")
	bob := f.joined(t, "c1", "bob", "g1")

	require.NoError(t, f.svc.LeaveRoom(context.Background(), bob, "g1"))
	require.NoError(t, f.svc.LeaveRoom(context.Background(), bob, "g1"))

	_, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	require.NoError(t, err)
	assert.Empty(t, bob.eventsNamed(protocol.EventMessage))
}

func TestSendClearsTyping(t *testing.T) {
	f := newFixture(t, Options{TypingTimeout: time.Hour})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g1", "bob")
	f.joined(t, "c1", "alice", "g1")
	bob := f.joined(t, "c2", "bob", "g1")

	require.NoError(t, f.svc.SetTyping(context.Background(), actor("alice"), "g1", true))
	_, err := f.svc.SendMessage(context.Background(), actor("alice"), protocol.SendMessageRequest{GroupID: "g1", Text: "hi"})
	require.NoError(t, err)

	got := bob.eventsNamed(protocol.EventTyping)
	require.Len(t, got, 2)
	assert.True(t, got[0].(protocol.Typing).IsTyping)
	assert.False(t, got[1].(protocol.Typing).IsTyping)
	assert.False(t, f.svc.Typing().IsTyping("alice", "g1"))
}

func TestSetTypingRequiresSubscription(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addMember("g1", "alice")

	err := f.svc.SetTyping(context.Background(), actor("alice"), "g1", true)
	assert.Equal(t, KindUnauthorized, KindOf(err))
}

func TestDisconnectStopsTypingAndUnsubscribes(t *testing.T) {
	f := newFixture(t, Options{TypingTimeout: time.Hour})
	f.dir.addMember("g1", "alice")
	f.dir.addMember("g1", "bob")
	alice := f.joined(t, "c1", "alice", "g1")
	bob := f.joined(t, "c2", "bob", "g1")

	require.NoError(t, f.svc.SetTyping(context.Background(), actor("alice"), "g1", true))
	f.svc.Disconnect(alice)

	got := bob.eventsNamed(protocol.EventTyping)
	require.Len(t, got, 2)
	assert.False(t, got[1].(protocol.Typing).IsTyping)
	assert.Empty(t, f.svc.Rooms().Rooms(alice))
	assert.Equal(t, 1, f.svc.Rooms().Connections())
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, Options{})
	f.dir.addAdmin("G", "admin")
	f.dir.addMember("G", "A")
	f.dir.addMember("G", "B")

	a := f.joined(t, "ca", "A", "G")
	b := f.joined(t, "cb", "B", "G")
	f.joined(t, "cadmin", "admin", "G")
	ctx := context.Background()

	sent, err := f.svc.SendMessage(ctx, actor("A"), protocol.SendMessageRequest{GroupID: "G", Text: "hi", ClientTempID: "t1"})
	require.NoError(t, err)
	msgs := b.eventsNamed(protocol.EventMessage)
	require.Len(t, msgs, 1)
	wire := msgs[0].(protocol.Message)
	assert.Equal(t, "hi", *wire.Text)
	assert.Equal(t, "t1", wire.ClientTempID)
	assert.False(t, wire.Edited)
	assert.False(t, wire.Deleted)

	_, err = f.svc.EditMessage(ctx, actor("A"), protocol.EditMessageRequest{MessageID: sent.ID, GroupID: "G", Text: "hi there"})
	require.NoError(t, err)
	updates := a.eventsNamed(protocol.EventMessageUpdated)
	require.Len(t, updates, 1)
	assert.True(t, updates[0].(protocol.MessageUpdated).Edited)

	_, err = f.svc.DeleteMessage(ctx, actor("B"), protocol.DeleteMessageRequest{MessageID: sent.ID, GroupID: "G"})
	require.Error(t, err)
	assert.Equal(t, KindUnauthorized, KindOf(err))

	_, err = f.svc.DeleteMessage(ctx, actor("admin"), protocol.DeleteMessageRequest{MessageID: sent.ID, GroupID: "G"})
	require.NoError(t, err)
	require.Len(t, a.eventsNamed(protocol.EventMessageDeleted), 1)

	stored, err := f.svc.Message(ctx, actor("A"), "G", sent.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ToWire().Text)
}

package chat

import (
	"sync"
	"time"

	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

const DefaultTypingTimeout = 3 * time.Second

type typingKey struct {
	userID  string
	groupID string
}

type typingEntry struct {
	timer     *time.Timer
	expiresAt time.Time
	gen       uint64
}

// TypingCoordinator keeps one expiry timer per (user, room). Repeated starts
// restart the timer; stops and expiries broadcast isTyping=false. Broadcasts
// are emitted under mu, so observers see transitions in the order they were
// applied.
type TypingCoordinator struct {
	mu      sync.Mutex
	timeout time.Duration
	rooms   *RoomManager
	entries map[typingKey]*typingEntry
	gen     uint64
	closed  bool
}

func NewTypingCoordinator(rooms *RoomManager, timeout time.Duration) *TypingCoordinator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingCoordinator{
		timeout: timeout,
		rooms:   rooms,
		entries: make(map[typingKey]*typingEntry),
	}
}

// SetTyping starts or stops the typing state of userID in groupID.
func (tc *TypingCoordinator) SetTyping(userID, groupID string, isTyping bool) {
	if !isTyping {
		tc.Stop(userID, groupID)
		return
	}

	key := typingKey{userID: userID, groupID: groupID}

	tc.mu.Lock()
	if tc.closed {
		tc.mu.Unlock()
		return
	}
	if e, ok := tc.entries[key]; ok {
		e.timer.Stop()
	}
	tc.gen++
	gen := tc.gen
	tc.entries[key] = &typingEntry{
		timer:     time.AfterFunc(tc.timeout, func() { tc.expire(key, gen) }),
		expiresAt: time.Now().Add(tc.timeout),
		gen:       gen,
	}
	tc.broadcast(userID, groupID, true)
	tc.mu.Unlock()
}

// Stop clears the typing state and broadcasts isTyping=false to the room.
func (tc *TypingCoordinator) Stop(userID, groupID string) {
	key := typingKey{userID: userID, groupID: groupID}

	tc.mu.Lock()
	if e, ok := tc.entries[key]; ok {
		e.timer.Stop()
		delete(tc.entries, key)
	}
	tc.broadcast(userID, groupID, false)
	tc.mu.Unlock()
}

// StopIfActive is Stop limited to users that currently have typing state.
// It reports whether a broadcast was sent.
func (tc *TypingCoordinator) StopIfActive(userID, groupID string) bool {
	key := typingKey{userID: userID, groupID: groupID}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	e, ok := tc.entries[key]
	if ok {
		e.timer.Stop()
		delete(tc.entries, key)
		tc.broadcast(userID, groupID, false)
	}
	return ok
}

// IsTyping reports whether userID has live typing state in groupID.
func (tc *TypingCoordinator) IsTyping(userID, groupID string) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	_, ok := tc.entries[typingKey{userID: userID, groupID: groupID}]
	return ok
}

func (tc *TypingCoordinator) expire(key typingKey, gen uint64) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	e, ok := tc.entries[key]
	// A restart or stop raced with this timer firing.
	if !ok || e.gen != gen {
		return
	}
	delete(tc.entries, key)
	tc.broadcast(key.userID, key.groupID, false)
}

// broadcast must be called with mu held.
func (tc *TypingCoordinator) broadcast(userID, groupID string, isTyping bool) {
	tc.rooms.BroadcastExcept(groupID, userID, protocol.EventTyping, protocol.Typing{
		UserID:   userID,
		GroupID:  groupID,
		IsTyping: isTyping,
	})
}

// Close cancels every pending timer without broadcasting.
func (tc *TypingCoordinator) Close() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.closed = true
	for key, e := range tc.entries {
		e.timer.Stop()
		delete(tc.entries, key)
	}
}

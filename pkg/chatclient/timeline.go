package chatclient

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

// Entry is one rendered row of a room timeline.
type Entry struct {
	Message protocol.Message
	// Pending is set on an optimistic placeholder awaiting the server.
	Pending bool
	// Failed is set when the send of a placeholder was rejected or lost.
	Failed bool
}

// Timeline is the local view of one room. A sent message is inserted as a
// placeholder keyed by its clientTempId and replaced in place by whichever
// of the ack or the broadcast arrives first; the other is dropped by _id.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
}

func NewTimeline() *Timeline {
	return &Timeline{now: time.Now}
}

func (tl *Timeline) indexByID(id string) int {
	if id == "" {
		return -1
	}
	for i := range tl.entries {
		if tl.entries[i].Message.ID == id {
			return i
		}
	}
	return -1
}

// placeholder finds an unresolved placeholder (no _id yet) by temp id.
func (tl *Timeline) placeholder(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i := range tl.entries {
		e := &tl.entries[i]
		if e.Message.ID == "" && e.Message.ClientTempID == tempID {
			return i
		}
	}
	return -1
}

// AddPending appends an optimistic placeholder for draft, generating a
// clientTempId when draft has none, and returns the placeholder.
func (tl *Timeline) AddPending(draft protocol.Message) protocol.Message {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	draft.ID = ""
	if draft.ClientTempID == "" {
		draft.ClientTempID = uuid.NewString()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = tl.now().UTC()
		draft.UpdatedAt = draft.CreatedAt
	}
	if draft.Type == "" {
		draft.Type = "text"
	}
	tl.entries = append(tl.entries, Entry{Message: draft, Pending: true})
	return draft
}

// Reconcile merges a server message. It reports whether the timeline changed:
// a message whose _id is already present is dropped, a message matching an
// unresolved placeholder replaces it in place, anything else is appended.
func (tl *Timeline) Reconcile(msg protocol.Message) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.indexByID(msg.ID) >= 0 {
		return false
	}
	if i := tl.placeholder(msg.ClientTempID); i >= 0 {
		ph := tl.entries[i].Message
		if ph.Sender.ID == "" || ph.Sender.ID == msg.Sender.ID {
			tl.entries[i] = Entry{Message: msg}
			return true
		}
	}
	tl.entries = append(tl.entries, Entry{Message: msg})
	return true
}

// MarkFailed flags an unresolved placeholder as failed.
func (tl *Timeline) MarkFailed(tempID string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	i := tl.placeholder(tempID)
	if i < 0 {
		return false
	}
	tl.entries[i].Pending = false
	tl.entries[i].Failed = true
	return true
}

// MarkPending flags an unresolved placeholder as pending again for a retry
// and returns it.
func (tl *Timeline) MarkPending(tempID string) (protocol.Message, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	i := tl.placeholder(tempID)
	if i < 0 {
		return protocol.Message{}, false
	}
	tl.entries[i].Pending = true
	tl.entries[i].Failed = false
	return tl.entries[i].Message, true
}

// ApplyUpdate applies an edit. Unknown ids are ignored.
func (tl *Timeline) ApplyUpdate(u protocol.MessageUpdated) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	i := tl.indexByID(u.ID)
	if i < 0 {
		return false
	}
	m := &tl.entries[i].Message
	if m.Deleted {
		return false
	}
	m.Text = u.Text
	m.Edited = u.Edited
	m.UpdatedAt = u.UpdatedAt
	return true
}

// ApplyDelete turns a message into a tombstone. Unknown ids are ignored.
func (tl *Timeline) ApplyDelete(d protocol.MessageDeleted) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	i := tl.indexByID(d.MessageID)
	if i < 0 {
		return false
	}
	m := &tl.entries[i].Message
	m.Deleted = true
	m.Text = nil
	m.FileURL = nil
	m.FileDownloadURL = nil
	m.FileName = nil
	m.FileSize = nil
	m.FileMime = nil
	return true
}

// PrependHistory inserts an older page (oldest first) ahead of the current
// entries, skipping messages already present. It returns how many were added.
func (tl *Timeline) PrependHistory(msgs []protocol.Message) int {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	older := make([]Entry, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup || tl.indexByID(m.ID) >= 0 {
			continue
		}
		seen[m.ID] = struct{}{}
		older = append(older, Entry{Message: m})
	}
	tl.entries = append(older, tl.entries...)
	return len(older)
}

// Oldest returns the _id of the oldest persisted message, used as the
// history cursor.
func (tl *Timeline) Oldest() (string, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	for _, e := range tl.entries {
		if e.Message.ID != "" {
			return e.Message.ID, true
		}
	}
	return "", false
}

// Entries returns a snapshot of the timeline.
func (tl *Timeline) Entries() []Entry {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := make([]Entry, len(tl.entries))
	copy(out, tl.entries)
	return out
}

func (tl *Timeline) Len() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.entries)
}

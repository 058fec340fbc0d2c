package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type emitted struct {
	Event   string
	Payload any
}

type fakePeer struct {
	id       string
	userID   string
	username string

	mu     sync.Mutex
	events []emitted
	notify chan struct{}
}

func newFakePeer(id, userID string) *fakePeer {
	return &fakePeer{id: id, userID: userID, username: "user-" + userID, notify: make(chan struct{}, 64)}
}

func (p *fakePeer) ID() string       { return p.id }
func (p *fakePeer) UserID() string   { return p.userID }
func (p *fakePeer) Username() string { return p.username }

func (p *fakePeer) Emit(event string, payload any) {
	p.mu.Lock()
	p.events = append(p.events, emitted{Event: event, Payload: payload})
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *fakePeer) eventsNamed(event string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []any
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

// waitFor blocks until at least n events named event were emitted.
func (p *fakePeer) waitFor(t *testing.T, event string, n int, timeout time.Duration) []any {
	t.Helper()

	deadline := time.After(timeout)
	for {
		if got := p.eventsNamed(event); len(got) >= n {
			return got
		}
		select {
		case <-p.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d %q events, got %d", n, event, len(p.eventsNamed(event)))
		}
	}
}

type fakeDirectory struct {
	mu      sync.Mutex
	members map[string]map[string]string
	admins  map[string][]string
	err     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members: make(map[string]map[string]string),
		admins:  make(map[string][]string),
	}
}

func (d *fakeDirectory) addMember(groupID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[groupID] == nil {
		d.members[groupID] = make(map[string]string)
	}
	d.members[groupID][userID] = "user-" + userID
}

func (d *fakeDirectory) addAdmin(groupID, userID string) {
	d.addMember(groupID, userID)
	d.mu.Lock()
	d.admins[groupID] = append(d.admins[groupID], userID)
	d.mu.Unlock()
}

func (d *fakeDirectory) IsMember(ctx context.Context, userID, groupID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	_, ok := d.members[groupID][userID]
	return ok, nil
}

func (d *fakeDirectory) GroupAdmins(ctx context.Context, groupID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.members[groupID]; !ok {
		return nil, ErrGroupNotFound
	}
	return append([]string(nil), d.admins[groupID]...), nil
}

func (d *fakeDirectory) GroupMembers(ctx context.Context, groupID string) ([]Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.members[groupID]; !ok {
		return nil, ErrGroupNotFound
	}
	var out []Member
	for id, name := range d.members[groupID] {
		out = append(out, Member{UserID: id, Username: name})
	}
	return out, nil
}

func (d *fakeDirectory) Username(ctx context.Context, userID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, members := range d.members {
		if name, ok := members[userID]; ok {
			return name, nil
		}
	}
	return "", ErrUserNotFound
}

// fakeClock is a settable clock shared by the pipeline and the rate limiter.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	dir   *fakeDirectory
	clock *fakeClock
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	clock := newFakeClock()
	if opts.Now == nil {
		opts.Now = clock.Now
	}
	store := NewMemoryStore()
	dir := newFakeDirectory()
	svc := NewService(store, dir, opts)
	t.Cleanup(svc.Close)

	return &fixture{svc: svc, store: store, dir: dir, clock: clock}
}

// joined connects a peer for userID and subscribes it to groupID.
func (f *fixture) joined(t *testing.T, peerID, userID, groupID string) *fakePeer {
	t.Helper()

	p := newFakePeer(peerID, userID)
	f.svc.Connect(p)
	require.NoError(t, f.svc.JoinRoom(context.Background(), p, groupID))
	return p
}

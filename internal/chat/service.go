// Package chat implements the realtime group chat core: room subscriptions,
// the message pipeline, typing indicators and per-user send limits. It is
// transport independent; internal/handlers adapts it to WebSocket and HTTP.
package chat

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/AnshRaj112/studycrew-backend/internal/metrics"
	"github.com/AnshRaj112/studycrew-backend/pkg/protocol"
)

const DefaultStoreTimeout = 5 * time.Second

// Actor is the verified identity performing an operation.
type Actor struct {
	UserID   string
	Username string
}

// ActorOf returns the identity bound to a connection.
func ActorOf(p Peer) Actor {
	return Actor{UserID: p.UserID(), Username: p.Username()}
}

type Options struct {
	RateLimit     int
	RateWindow    time.Duration
	TypingTimeout time.Duration
	StoreTimeout  time.Duration
	// Now overrides the clock used for message timestamps and rate windows.
	Now func() time.Time
}

// Service owns all in-memory chat state. Create one per server with
// NewService and release it with Close.
type Service struct {
	store        MessageStore
	groups       GroupDirectory
	rooms        *RoomManager
	typing       *TypingCoordinator
	limiter      *RateLimiter
	storeTimeout time.Duration
	now          func() time.Time

	locksMu sync.Mutex
	locks   map[string]*roomLock

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// roomLock serializes timestamp assignment, persistence and broadcast for a
// room so subscribers observe messages in createdAt order.
type roomLock struct {
	mu   sync.Mutex
	last time.Time
}

func NewService(store MessageStore, groups GroupDirectory, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rooms := NewRoomManager()
	s := &Service{
		store:        store,
		groups:       groups,
		rooms:        rooms,
		typing:       NewTypingCoordinator(rooms, opts.TypingTimeout),
		limiter:      NewRateLimiter(opts.RateLimit, opts.RateWindow, opts.Now),
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
		locks:        make(map[string]*roomLock),
		stop:         make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sweepLimiter(s.limiter.window)

	return s
}

// Close stops background work and pending typing timers.
func (s *Service) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.typing.Close()
	})
	s.wg.Wait()
}

func (s *Service) Rooms() *RoomManager {
	return s.rooms
}

func (s *Service) Typing() *TypingCoordinator {
	return s.typing
}

func (s *Service) sweepLimiter(every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.limiter.Sweep()
		}
	}
}

// Connect registers an authenticated connection.
func (s *Service) Connect(p Peer) {
	s.rooms.Register(p)
	metrics.Connections.Inc()
}

// Disconnect treats a dropped connection as an implicit typing stop in every
// room it had joined, then forgets its subscriptions.
func (s *Service) Disconnect(p Peer) {
	for _, groupID := range s.rooms.Rooms(p) {
		s.typing.StopIfActive(p.UserID(), groupID)
	}
	s.rooms.Unregister(p)
	metrics.Connections.Dec()
}

// JoinRoom re-validates membership and subscribes p to the group room.
// A first subscription broadcasts a membership snapshot to the whole room;
// a repeated join only refreshes the caller.
func (s *Service) JoinRoom(ctx context.Context, p Peer, groupID string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return ValidationError("groupId is required")
	}
	if err := s.requireMember(ctx, p.UserID(), groupID); err != nil {
		return err
	}

	added := s.rooms.Subscribe(p, groupID)
	p.Emit(protocol.EventRoomJoined, protocol.RoomJoined{GroupID: groupID})

	snapshot, err := s.membersSnapshot(ctx, groupID)
	if err != nil {
		log.Printf("chat: members snapshot for group %s failed: %v", groupID, err)
		return nil
	}
	if !added {
		p.Emit(protocol.EventRoomMembersUpdated, snapshot)
		return nil
	}

	log.Printf("chat: user %s joined room %s", p.UserID(), groupID)
	metrics.RoomJoins.Inc()
	s.rooms.Broadcast(groupID, protocol.EventRoomMembersUpdated, snapshot)
	return nil
}

// LeaveRoom unsubscribes p and clears the user's typing state in the room.
func (s *Service) LeaveRoom(ctx context.Context, p Peer, groupID string) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return ValidationError("groupId is required")
	}
	if s.rooms.Unsubscribe(p, groupID) {
		log.Printf("chat: user %s left room %s", p.UserID(), groupID)
	}
	s.typing.StopIfActive(p.UserID(), groupID)
	return nil
}

// SetTyping updates the typing indicator of actor in a room it has joined.
func (s *Service) SetTyping(ctx context.Context, actor Actor, groupID string, isTyping bool) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return ValidationError("groupId is required")
	}
	if !s.rooms.UserInRoom(actor.UserID, groupID) {
		return AuthorizationError("join the room before sending typing updates")
	}
	s.typing.SetTyping(actor.UserID, groupID, isTyping)
	return nil
}

func (s *Service) membersSnapshot(ctx context.Context, groupID string) (protocol.RoomMembers, error) {
	members, err := s.groups.GroupMembers(ctx, groupID)
	if err != nil {
		return protocol.RoomMembers{}, err
	}
	admins, err := s.groups.GroupAdmins(ctx, groupID)
	if err != nil {
		return protocol.RoomMembers{}, err
	}

	out := protocol.RoomMembers{
		GroupID: groupID,
		Members: make([]protocol.Member, 0, len(members)),
		Admins:  admins,
	}
	for _, m := range members {
		out.Members = append(out.Members, protocol.Member{ID: m.UserID, Username: m.Username})
	}
	if out.Admins == nil {
		out.Admins = []string{}
	}
	return out, nil
}

func (s *Service) roomLock(groupID string) *roomLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[groupID]
	if !ok {
		l = &roomLock{}
		s.locks[groupID] = l
	}
	return l
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func observeStore(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

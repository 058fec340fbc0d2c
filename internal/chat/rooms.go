package chat

import (
	"sort"
	"sync"
)

// Peer is one live connection of an authenticated user. Emit must not block;
// transports queue the frame and drop slow consumers.
type Peer interface {
	ID() string
	UserID() string
	Username() string
	Emit(event string, payload any)
}

// RoomManager tracks which connections are subscribed to which group rooms.
type RoomManager struct {
	mu     sync.RWMutex
	peers  map[string]*peerState
	rooms  map[string]map[string]Peer
	byUser map[string]map[string]Peer
}

type peerState struct {
	peer  Peer
	rooms map[string]struct{}
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		peers:  make(map[string]*peerState),
		rooms:  make(map[string]map[string]Peer),
		byUser: make(map[string]map[string]Peer),
	}
}

// Register adds a connection with no subscriptions.
func (rm *RoomManager) Register(p Peer) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.peers[p.ID()]; ok {
		return
	}
	rm.peers[p.ID()] = &peerState{peer: p, rooms: make(map[string]struct{})}
	conns, ok := rm.byUser[p.UserID()]
	if !ok {
		conns = make(map[string]Peer)
		rm.byUser[p.UserID()] = conns
	}
	conns[p.ID()] = p
}

// Unregister removes a connection and all its subscriptions, returning the
// rooms it was subscribed to.
func (rm *RoomManager) Unregister(p Peer) []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ps, ok := rm.peers[p.ID()]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(ps.rooms))
	for groupID := range ps.rooms {
		rooms = append(rooms, groupID)
		rm.removeFromRoom(groupID, p.ID())
	}
	delete(rm.peers, p.ID())
	if conns, ok := rm.byUser[p.UserID()]; ok {
		delete(conns, p.ID())
		if len(conns) == 0 {
			delete(rm.byUser, p.UserID())
		}
	}
	sort.Strings(rooms)
	return rooms
}

// Subscribe adds p to the room. It returns false when p was already subscribed
// or is not registered.
func (rm *RoomManager) Subscribe(p Peer, groupID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ps, ok := rm.peers[p.ID()]
	if !ok {
		return false
	}
	if _, joined := ps.rooms[groupID]; joined {
		return false
	}
	ps.rooms[groupID] = struct{}{}
	room, ok := rm.rooms[groupID]
	if !ok {
		room = make(map[string]Peer)
		rm.rooms[groupID] = room
	}
	room[p.ID()] = p
	return true
}

// Unsubscribe removes p from the room and reports whether it was subscribed.
func (rm *RoomManager) Unsubscribe(p Peer, groupID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ps, ok := rm.peers[p.ID()]
	if !ok {
		return false
	}
	if _, joined := ps.rooms[groupID]; !joined {
		return false
	}
	delete(ps.rooms, groupID)
	rm.removeFromRoom(groupID, p.ID())
	return true
}

func (rm *RoomManager) removeFromRoom(groupID, peerID string) {
	room, ok := rm.rooms[groupID]
	if !ok {
		return
	}
	delete(room, peerID)
	if len(room) == 0 {
		delete(rm.rooms, groupID)
	}
}

// IsSubscribed reports whether p is subscribed to the room.
func (rm *RoomManager) IsSubscribed(p Peer, groupID string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.rooms[groupID][p.ID()]
	return ok
}

// Rooms returns the rooms p is subscribed to, sorted.
func (rm *RoomManager) Rooms(p Peer) []string {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	ps, ok := rm.peers[p.ID()]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(ps.rooms))
	for groupID := range ps.rooms {
		rooms = append(rooms, groupID)
	}
	sort.Strings(rooms)
	return rooms
}

// Subscribers returns a snapshot of the room's connections.
func (rm *RoomManager) Subscribers(groupID string) []Peer {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room := rm.rooms[groupID]
	out := make([]Peer, 0, len(room))
	for _, p := range room {
		out = append(out, p)
	}
	return out
}

// UserInRoom reports whether any connection of userID is subscribed to the room.
func (rm *RoomManager) UserInRoom(userID, groupID string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	for peerID := range rm.byUser[userID] {
		if _, ok := rm.rooms[groupID][peerID]; ok {
			return true
		}
	}
	return false
}

// Broadcast emits to every connection subscribed to the room. The read lock is
// held while emitting so a concurrent subscribe sees the whole broadcast or
// none of it.
func (rm *RoomManager) Broadcast(groupID, event string, payload any) int {
	return rm.BroadcastExcept(groupID, "", event, payload)
}

// BroadcastExcept is Broadcast skipping every connection of exceptUserID.
func (rm *RoomManager) BroadcastExcept(groupID, exceptUserID, event string, payload any) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	n := 0
	for _, p := range rm.rooms[groupID] {
		if exceptUserID != "" && p.UserID() == exceptUserID {
			continue
		}
		p.Emit(event, payload)
		n++
	}
	return n
}

// Connections returns the number of registered connections.
func (rm *RoomManager) Connections() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.peers)
}

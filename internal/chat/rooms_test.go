package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomManagerSubscriptions(t *testing.T) {
	rm := NewRoomManager()
	a1 := newFakePeer("a1", "alice")
	a2 := newFakePeer("a2", "alice")
	b := newFakePeer("b", "bob")
	for _, p := range []*fakePeer{a1, a2, b} {
		rm.Register(p)
	}

	assert.True(t, rm.Subscribe(a1, "g1"))
	assert.False(t, rm.Subscribe(a1, "g1"))
	assert.True(t, rm.Subscribe(a1, "g2"))
	assert.True(t, rm.Subscribe(b, "g1"))

	assert.True(t, rm.UserInRoom("alice", "g1"))
	assert.False(t, rm.UserInRoom("alice", "g3"))
	assert.Equal(t, []string{"g1", "g2"}, rm.Rooms(a1))
	assert.Len(t, rm.Subscribers("g1"), 2)

	assert.Equal(t, 2, rm.Broadcast("g1", "message", "x"))
	assert.Equal(t, 1, rm.BroadcastExcept("g1", "alice", "typing", "y"))
	assert.Len(t, a1.eventsNamed("typing"), 0)
	assert.Len(t, b.eventsNamed("typing"), 1)
	assert.Empty(t, a2.eventsNamed("message"))

	assert.True(t, rm.Unsubscribe(a1, "g2"))
	assert.False(t, rm.Unsubscribe(a1, "g2"))

	assert.Equal(t, []string{"g1"}, rm.Unregister(a1))
	assert.False(t, rm.UserInRoom("alice", "g1"))
	assert.Equal(t, 2, rm.Connections())
}

func TestRoomManagerIgnoresUnregisteredPeers(t *testing.T) {
	rm := NewRoomManager()
	p := newFakePeer("p", "alice")

	assert.False(t, rm.Subscribe(p, "g1"))
	assert.Nil(t, rm.Unregister(p))
	assert.Equal(t, 0, rm.Broadcast("g1", "message", nil))
}

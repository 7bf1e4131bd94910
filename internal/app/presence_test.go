package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paircall/paircall/internal/core"
	"github.com/paircall/paircall/internal/domain"
)

// fakeConn records every frame pushed at it. Shared by the app tests.
type fakeConn struct {
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func TestPresenceJoinAndLookup(t *testing.T) {
	r := NewPresenceRegistry()
	conn := &fakeConn{}

	r.Join("alice", "Alice", "conn-1", conn)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, conn, got.(*fakeConn))

	entry, ok := r.Entry("alice")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), entry.UserID)
	assert.Equal(t, "Alice", entry.DisplayName)
	assert.Equal(t, domain.ConnID("conn-1"), entry.ConnID)

	uid, ok := r.UserOfConn("conn-1")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), uid)

	_, ok = r.Lookup("bob")
	assert.False(t, ok)
}

func TestPresenceReconnectReplacesConnection(t *testing.T) {
	r := NewPresenceRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	r.Join("alice", "Alice", "conn-1", first)
	r.Join("alice", "Alice v2", "conn-2", second)

	// One entry per user, backed by the new connection.
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got.(*fakeConn))

	entry, _ := r.Entry("alice")
	assert.Equal(t, "Alice v2", entry.DisplayName)

	// The stale conn id no longer resolves.
	_, ok = r.UserOfConn("conn-1")
	assert.False(t, ok)
	uid, ok := r.UserOfConn("conn-2")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), uid)

	assert.Len(t, r.Snapshot(), 1)
}

func TestPresenceRemoveConn(t *testing.T) {
	r := NewPresenceRegistry()
	r.Join("alice", "Alice", "conn-1", &fakeConn{})

	entry, ok := r.RemoveConn("conn-1")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), entry.UserID)
	assert.Equal(t, "Alice", entry.DisplayName)

	_, ok = r.Lookup("alice")
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot())

	// Removing again is a no-op, not a panic.
	_, ok = r.RemoveConn("conn-1")
	assert.False(t, ok)
}

func TestPresenceStaleConnRemovesNothing(t *testing.T) {
	r := NewPresenceRegistry()
	r.Join("alice", "Alice", "conn-1", &fakeConn{})
	r.Join("alice", "Alice", "conn-2", &fakeConn{})

	// The old socket's deferred cleanup fires after the reconnect; the live
	// entry must survive it.
	_, ok := r.RemoveConn("conn-1")
	assert.False(t, ok)

	_, ok = r.Lookup("alice")
	assert.True(t, ok)
}

func TestPresenceBroadcastReachesEveryConn(t *testing.T) {
	r := NewPresenceRegistry()
	a := &fakeConn{}
	b := &fakeConn{}
	r.Join("alice", "Alice", "conn-1", a)
	r.Join("bob", "Bob", "conn-2", b)

	r.Broadcast(map[string]string{"type": "test"})

	require.Len(t, a.frames, 1)
	require.Len(t, b.frames, 1)
	assert.JSONEq(t, `{"type":"test"}`, string(a.frames[0]))
}

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paircall/paircall/internal/domain"
)

func TestCallTableReserveBlocksBothParties(t *testing.T) {
	tbl := NewCallTable()

	require.NoError(t, tbl.TryReserve("alice", "bob"))

	// Either participant keying a new call is refused, in either role.
	assert.ErrorIs(t, tbl.TryReserve("alice", "carol"), ErrBusy)
	assert.ErrorIs(t, tbl.TryReserve("carol", "alice"), ErrBusy)
	assert.ErrorIs(t, tbl.TryReserve("bob", "carol"), ErrBusy)
	assert.ErrorIs(t, tbl.TryReserve("carol", "bob"), ErrBusy)

	// An unrelated pair is fine.
	assert.NoError(t, tbl.TryReserve("carol", "dave"))
}

func TestCallTableActivate(t *testing.T) {
	tbl := NewCallTable()
	require.NoError(t, tbl.TryReserve("alice", "bob"))

	require.NoError(t, tbl.Activate("alice", "bob"))

	// A second activation finds no Pending session.
	assert.ErrorIs(t, tbl.Activate("alice", "bob"), ErrNoSession)
	// Nor does activating a pair that never reserved.
	assert.ErrorIs(t, tbl.Activate("carol", "dave"), ErrNoSession)

	peer, ok := tbl.PeerOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), peer)
}

func TestCallTableReleaseByEitherParty(t *testing.T) {
	tbl := NewCallTable()
	require.NoError(t, tbl.TryReserve("alice", "bob"))

	peer, ok := tbl.Release("bob")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), peer)

	// Both keys are gone and both parties can call again.
	_, ok = tbl.PeerOf("alice")
	assert.False(t, ok)
	assert.NoError(t, tbl.TryReserve("alice", "bob"))
}

func TestCallTableReleaseIdempotent(t *testing.T) {
	tbl := NewCallTable()
	require.NoError(t, tbl.TryReserve("alice", "bob"))

	_, ok := tbl.Release("alice")
	require.True(t, ok)
	_, ok = tbl.Release("alice")
	assert.False(t, ok)
	_, ok = tbl.Release("bob")
	assert.False(t, ok)
}

func TestCallTableReleaseIfPending(t *testing.T) {
	tbl := NewCallTable()
	require.NoError(t, tbl.TryReserve("alice", "bob"))

	// Answered in time: the timeout path must not fire.
	require.NoError(t, tbl.Activate("alice", "bob"))
	assert.False(t, tbl.ReleaseIfPending("alice", "bob"))
	_, ok := tbl.PeerOf("alice")
	assert.True(t, ok)

	// Still pending: the timeout path releases.
	_, _ = tbl.Release("alice")
	require.NoError(t, tbl.TryReserve("alice", "bob"))
	assert.True(t, tbl.ReleaseIfPending("alice", "bob"))
	_, ok = tbl.PeerOf("alice")
	assert.False(t, ok)
}

package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paircall/paircall/internal/domain"
	"github.com/paircall/paircall/internal/protocol"
)

func newTestRelay(ringTimeout time.Duration) *Relay {
	return NewRelay(NewPresenceRegistry(), NewCallTable(), ringTimeout)
}

// kinds extracts the type field of every frame a fake conn received.
func kinds(t *testing.T, c *fakeConn) []string {
	t.Helper()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		k, err := protocol.Kind(f)
		require.NoError(t, err)
		out = append(out, k)
	}
	return out
}

func lastFrame[T any](t *testing.T, c *fakeConn, wantKind string) T {
	t.Helper()
	var decoded T
	for i := len(c.frames) - 1; i >= 0; i-- {
		k, err := protocol.Kind(c.frames[i])
		require.NoError(t, err)
		if k == wantKind {
			require.NoError(t, json.Unmarshal(c.frames[i], &decoded))
			return decoded
		}
	}
	t.Fatalf("no %q frame received (got %v)", wantKind, kinds(t, c))
	return decoded
}

func TestRelayJoinAcknowledgesAndBroadcasts(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	bob := &fakeConn{}

	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	ack := lastFrame[protocol.PresenceID](t, alice, protocol.TypePresenceID)
	assert.Equal(t, domain.ConnID("conn-a"), ack.ID)

	// Bob's join re-broadcast the list to everyone, alice included.
	online := lastFrame[protocol.OnlineUsers](t, alice, protocol.TypeOnlineUsers)
	assert.Len(t, online.Users, 2)
}

func TestRelayCallRoundTrip(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	bob := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	offer := json.RawMessage(`{"sdp":"offer-sdp","type":"offer"}`)
	r.RequestCall(protocol.CallRequest{
		Type: protocol.TypeCallRequest, CalleeID: "bob", Offer: offer,
		From: "alice", Name: "Alice",
	}, alice)

	incoming := lastFrame[protocol.IncomingCall](t, bob, protocol.TypeIncomingCall)
	assert.Equal(t, domain.UserID("alice"), incoming.From)
	assert.JSONEq(t, string(offer), string(incoming.Offer))

	answer := json.RawMessage(`{"sdp":"answer-sdp","type":"answer"}`)
	r.AcceptCall(protocol.CallAnswer{Type: protocol.TypeCallAnswer, Answer: answer, From: "bob", To: "alice"})

	answered := lastFrame[protocol.CallAnswered](t, alice, protocol.TypeCallAnswered)
	assert.Equal(t, domain.UserID("bob"), answered.From)
	assert.JSONEq(t, string(answer), string(answered.Answer))

	// Both parties are paired now.
	peer, ok := r.Calls.PeerOf("alice")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("bob"), peer)

	r.EndCall("alice", protocol.CallEnd{Type: protocol.TypeCallEnd, To: "bob", Name: "Alice"})
	ended := lastFrame[protocol.CallEnded](t, bob, protocol.TypeCallEnded)
	assert.Equal(t, "Alice", ended.Name)
	_, ok = r.Calls.PeerOf("alice")
	assert.False(t, ok)
}

func TestRelayCalleeOffline(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)

	r.RequestCall(protocol.CallRequest{
		Type: protocol.TypeCallRequest, CalleeID: "ghost", From: "alice", Name: "Alice",
	}, alice)

	lastFrame[protocol.CalleeUnavailable](t, alice, protocol.TypeCalleeUnavailable)
	// No reservation was taken for an offline target.
	_, ok := r.Calls.PeerOf("alice")
	assert.False(t, ok)
}

func TestRelayBusyCalleeGetsMissedCall(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	bob := &fakeConn{}
	carol := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)
	r.Join("carol", "Carol", "conn-c", carol)

	r.RequestCall(protocol.CallRequest{
		Type: protocol.TypeCallRequest, CalleeID: "bob", From: "alice", Name: "Alice",
	}, alice)

	// Carol dials bob while he is still ringing with alice.
	r.RequestCall(protocol.CallRequest{
		Type: protocol.TypeCallRequest, CalleeID: "bob", From: "carol", Name: "Carol",
	}, carol)

	lastFrame[protocol.CalleeBusy](t, carol, protocol.TypeCalleeBusy)
	missed := lastFrame[protocol.MissedCall](t, bob, protocol.TypeMissedCall)
	assert.Equal(t, domain.UserID("carol"), missed.From)
	assert.Equal(t, "Carol", missed.Name)

	// The refused attempt did not disturb the pending pair.
	peer, ok := r.Calls.PeerOf("bob")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("alice"), peer)
}

func TestRelaySimultaneousDialOneWinner(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	bob := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	r.RequestCall(protocol.CallRequest{Type: protocol.TypeCallRequest, CalleeID: "bob", From: "alice", Name: "Alice"}, alice)
	r.RequestCall(protocol.CallRequest{Type: protocol.TypeCallRequest, CalleeID: "alice", From: "bob", Name: "Bob"}, bob)

	// First dial rang, second bounced off the reservation.
	lastFrame[protocol.IncomingCall](t, bob, protocol.TypeIncomingCall)
	lastFrame[protocol.CalleeBusy](t, bob, protocol.TypeCalleeBusy)
	assert.NotContains(t, kinds(t, alice), protocol.TypeIncomingCall)
}

func TestRelayRejectReleasesAndNotifies(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	bob := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	r.RequestCall(protocol.CallRequest{Type: protocol.TypeCallRequest, CalleeID: "bob", From: "alice", Name: "Alice"}, alice)
	r.RejectCall("bob", protocol.CallReject{Type: protocol.TypeCallReject, To: "alice", Name: "Bob"})

	rejected := lastFrame[protocol.CallRejected](t, alice, protocol.TypeCallRejected)
	assert.Equal(t, "Bob", rejected.Name)
	_, ok := r.Calls.PeerOf("alice")
	assert.False(t, ok)

	// Bob is free to be called again immediately.
	assert.NoError(t, r.Calls.TryReserve("carol", "bob"))
}

func TestRelayStaleAnswerDropped(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	bob := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	// Answer without any reservation: nothing reaches alice.
	r.AcceptCall(protocol.CallAnswer{Type: protocol.TypeCallAnswer, From: "bob", To: "alice"})
	assert.NotContains(t, kinds(t, alice), protocol.TypeCallAnswered)
}

func TestRelayDisconnectTearsDownActiveCall(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	bob := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	r.RequestCall(protocol.CallRequest{Type: protocol.TypeCallRequest, CalleeID: "bob", From: "alice", Name: "Alice"}, alice)
	r.AcceptCall(protocol.CallAnswer{Type: protocol.TypeCallAnswer, From: "bob", To: "alice"})

	r.HandleDisconnect("conn-a")

	ended := lastFrame[protocol.CallEnded](t, bob, protocol.TypeCallEnded)
	assert.Equal(t, "Alice", ended.Name)
	gone := lastFrame[protocol.PeerDisconnected](t, bob, protocol.TypePeerDisconnected)
	assert.Equal(t, domain.ConnID("conn-a"), gone.ID)
	online := lastFrame[protocol.OnlineUsers](t, bob, protocol.TypeOnlineUsers)
	assert.Len(t, online.Users, 1)

	_, ok := r.Calls.PeerOf("bob")
	assert.False(t, ok)
}

func TestRelayDisconnectReleasesPendingReservation(t *testing.T) {
	r := newTestRelay(0)
	alice := &fakeConn{}
	bob := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	// Alice dials and drops before bob answers. The reservation must go with
	// her, otherwise bob stays unreachable forever.
	r.RequestCall(protocol.CallRequest{Type: protocol.TypeCallRequest, CalleeID: "bob", From: "alice", Name: "Alice"}, alice)
	r.HandleDisconnect("conn-a")

	lastFrame[protocol.CallEnded](t, bob, protocol.TypeCallEnded)
	assert.NoError(t, r.Calls.TryReserve("carol", "bob"))
}

func TestRelayRingTimeoutReleasesPendingCall(t *testing.T) {
	r := newTestRelay(30 * time.Millisecond)
	alice := &fakeConn{}
	bob := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	r.RequestCall(protocol.CallRequest{Type: protocol.TypeCallRequest, CalleeID: "bob", From: "alice", Name: "Alice"}, alice)

	assert.Eventually(t, func() bool {
		_, ok := r.Calls.PeerOf("alice")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestRelayRingTimeoutSparesAnsweredCall(t *testing.T) {
	r := newTestRelay(20 * time.Millisecond)
	alice := &fakeConn{}
	bob := &fakeConn{}
	r.Join("alice", "Alice", "conn-a", alice)
	r.Join("bob", "Bob", "conn-b", bob)

	r.RequestCall(protocol.CallRequest{Type: protocol.TypeCallRequest, CalleeID: "bob", From: "alice", Name: "Alice"}, alice)
	r.AcceptCall(protocol.CallAnswer{Type: protocol.TypeCallAnswer, From: "bob", To: "alice"})

	time.Sleep(60 * time.Millisecond)

	peer, ok := r.Calls.PeerOf("alice")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("bob"), peer)
}

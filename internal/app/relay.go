package app

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/core"
	"github.com/paircall/paircall/internal/domain"
	"github.com/paircall/paircall/internal/protocol"
)

// ErrUnavailable means the call target is not present in the registry.
var ErrUnavailable = errors.New("callee not online")

// Relay routes signaling envelopes between exactly two parties. It holds no
// per-call state of its own: the presence registry answers "who is online"
// and the call table answers "who is paired". Forwarding is fire-and-forget;
// the protocol requires no acknowledgement.
type Relay struct {
	Presence *PresenceRegistry
	Calls    *CallTable

	// RingTimeout, when non-zero, bounds how long a Pending session may ring
	// before the reservation is released and both parties are notified. Zero
	// preserves the classic behaviour: ring until the caller gives up.
	RingTimeout time.Duration
}

func NewRelay(presence *PresenceRegistry, calls *CallTable, ringTimeout time.Duration) *Relay {
	return &Relay{Presence: presence, Calls: calls, RingTimeout: ringTimeout}
}

// Join registers the user's connection, acknowledges with their connection id
// and broadcasts the updated online list to everyone.
func (r *Relay) Join(id domain.UserID, name string, connID domain.ConnID, conn core.SignalConnection) {
	r.Presence.Join(id, name, connID, conn)
	r.send(conn, protocol.PresenceID{Type: protocol.TypePresenceID, ID: connID})
	r.broadcastOnline()
}

// RequestCall admits or refuses an outgoing call. The reservation is taken
// before the offer is forwarded, so two users dialing each other at the same
// instant resolve to exactly one ringing call; the loser sees busy.
func (r *Relay) RequestCall(req protocol.CallRequest, caller core.SignalConnection) {
	callee, ok := r.Presence.Lookup(req.CalleeID)
	if !ok {
		r.send(caller, protocol.CalleeUnavailable{Type: protocol.TypeCalleeUnavailable, Message: "User is offline."})
		return
	}
	if err := r.Calls.TryReserve(req.From, req.CalleeID); err != nil {
		r.send(caller, protocol.CalleeBusy{Type: protocol.TypeCalleeBusy, Message: "User is currently in another call."})
		r.send(callee, protocol.MissedCall{
			Type:   protocol.TypeMissedCall,
			From:   req.From,
			Name:   req.Name,
			Email:  req.Email,
			Avatar: req.Avatar,
		})
		return
	}
	r.send(callee, protocol.IncomingCall{
		Type:   protocol.TypeIncomingCall,
		Offer:  req.Offer,
		From:   req.From,
		Name:   req.Name,
		Email:  req.Email,
		Avatar: req.Avatar,
	})
	if r.RingTimeout > 0 {
		r.armRingTimeout(req.From, req.CalleeID)
	}
}

// AcceptCall activates the pending session and relays the answer back to the
// caller. A stale accept (session already gone) is dropped.
func (r *Relay) AcceptCall(ans protocol.CallAnswer) {
	if err := r.Calls.Activate(ans.To, ans.From); err != nil {
		log.Warn().Str("module", "app.relay").Str("from", string(ans.From)).Str("to", string(ans.To)).Msg("stale answer dropped")
		return
	}
	caller, ok := r.Presence.Lookup(ans.To)
	if !ok {
		// Caller vanished between offer and answer; their disconnect cleanup
		// already released the session, but Activate won the race. Undo.
		r.Calls.Release(ans.From)
		return
	}
	r.send(caller, protocol.CallAnswered{Type: protocol.TypeCallAnswered, Answer: ans.Answer, From: ans.From})
}

// RejectCall releases the never-activated session and tells the caller.
func (r *Relay) RejectCall(calleeID domain.UserID, rej protocol.CallReject) {
	r.Calls.Release(calleeID)
	caller, ok := r.Presence.Lookup(rej.To)
	if !ok {
		return
	}
	r.send(caller, protocol.CallRejected{Type: protocol.TypeCallRejected, Name: rej.Name, Avatar: rej.Avatar})
}

// EndCall tears down whatever session the requester is part of, Pending or
// Active, and notifies the peer. Ending is always legal once a session exists.
func (r *Relay) EndCall(requesterID domain.UserID, end protocol.CallEnd) {
	peerID, ok := r.Calls.Release(requesterID)
	if !ok {
		// The peer may have ended at the same moment; nothing left to do.
		peerID = end.To
	}
	peer, ok := r.Presence.Lookup(peerID)
	if !ok {
		return
	}
	r.send(peer, protocol.CallEnded{Type: protocol.TypeCallEnded, Name: end.Name})
}

// HandleDisconnect is the teardown path for a dropped connection: release any
// session the user was part of (Pending included, so an abandoned dial cannot
// leave the callee reserved), notify the peer, drop the presence entry and
// re-broadcast the online list.
func (r *Relay) HandleDisconnect(connID domain.ConnID) {
	entry, ok := r.Presence.RemoveConn(connID)
	if !ok {
		return
	}
	if peerID, had := r.Calls.Release(entry.UserID); had {
		if peer, online := r.Presence.Lookup(peerID); online {
			r.send(peer, protocol.CallEnded{Type: protocol.TypeCallEnded, Name: entry.DisplayName})
		}
	}
	r.Presence.Broadcast(protocol.PeerDisconnected{Type: protocol.TypePeerDisconnected, ID: connID})
	r.broadcastOnline()
}

func (r *Relay) armRingTimeout(caller, callee domain.UserID) {
	callerConn, _ := r.Presence.Lookup(caller)
	calleeConn, _ := r.Presence.Lookup(callee)
	callerName := ""
	if e, ok := r.Presence.Entry(caller); ok {
		callerName = e.DisplayName
	}
	time.AfterFunc(r.RingTimeout, func() {
		if !r.Calls.ReleaseIfPending(caller, callee) {
			return
		}
		ended := protocol.CallEnded{Type: protocol.TypeCallEnded, Name: callerName}
		if callerConn != nil {
			r.send(callerConn, ended)
		}
		if calleeConn != nil {
			r.send(calleeConn, ended)
		}
	})
}

func (r *Relay) broadcastOnline() {
	r.Presence.Broadcast(protocol.OnlineUsers{Type: protocol.TypeOnlineUsers, Users: r.Presence.Snapshot()})
}

func (r *Relay) send(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("send marshal")
		return
	}
	if err := conn.TrySend(core.Frame(b)); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("send dropped")
	}
}

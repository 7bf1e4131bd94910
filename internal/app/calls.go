package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/domain"
)

var (
	// ErrBusy means one of the parties already keys a call session.
	ErrBusy = errors.New("party already in a call")
	// ErrNoSession means the expected pending session does not exist.
	ErrNoSession = errors.New("no such call session")
)

// CallTable is the admission-control mechanism: a user may key at most one
// session, so a second outgoing or incoming call is refused while paired.
// One logical session is stored under both participants' keys.
type CallTable struct {
	mu       sync.Mutex
	sessions map[domain.UserID]*domain.CallSession
}

func NewCallTable() *CallTable {
	return &CallTable{sessions: make(map[domain.UserID]*domain.CallSession)}
}

// TryReserve inserts a Pending session for the pair, or fails with ErrBusy if
// either party is already keyed. This check is authoritative: whichever of
// two racing callers reserves first wins, the other observes ErrBusy.
func (t *CallTable) TryReserve(caller, callee domain.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[caller]; ok {
		return ErrBusy
	}
	if _, ok := t.sessions[callee]; ok {
		return ErrBusy
	}
	s := &domain.CallSession{PartyA: caller, PartyB: callee, State: domain.CallPending}
	t.sessions[caller] = s
	t.sessions[callee] = s
	log.Info().Str("module", "app.calls").Str("caller", string(caller)).Str("callee", string(callee)).Msg("reserved")
	return nil
}

// Activate transitions the pair's Pending session to Active. Should not fail
// in a correct run; the error is defensive.
func (t *CallTable) Activate(caller, callee domain.UserID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[caller]
	if !ok || s.PeerOf(caller) != callee || s.State != domain.CallPending {
		return ErrNoSession
	}
	s.State = domain.CallActive
	log.Info().Str("module", "app.calls").Str("caller", string(caller)).Str("callee", string(callee)).Msg("activated")
	return nil
}

// Release removes the session keyed by id (both keys) and returns the peer so
// the caller can notify them. Idempotent: releasing an absent session reports
// ok=false and is not an error.
func (t *CallTable) Release(id domain.UserID) (peer domain.UserID, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return "", false
	}
	peer = s.PeerOf(id)
	delete(t.sessions, id)
	delete(t.sessions, peer)
	log.Info().Str("module", "app.calls").Str("user", string(id)).Str("peer", string(peer)).Msg("released")
	return peer, true
}

// ReleaseIfPending removes the pair's session only if it is still Pending.
// Used by the ring timeout so it cannot tear down a call that was answered in
// the meantime.
func (t *CallTable) ReleaseIfPending(caller, callee domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[caller]
	if !ok || s.PeerOf(caller) != callee || s.State != domain.CallPending {
		return false
	}
	delete(t.sessions, caller)
	delete(t.sessions, callee)
	log.Info().Str("module", "app.calls").Str("caller", string(caller)).Str("callee", string(callee)).Msg("ring timeout release")
	return true
}

// PeerOf reports who id is currently paired with, if anyone.
func (t *CallTable) PeerOf(id domain.UserID) (domain.UserID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return "", false
	}
	return s.PeerOf(id), true
}

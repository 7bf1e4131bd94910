package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/core"
	"github.com/paircall/paircall/internal/domain"
	"github.com/paircall/paircall/internal/protocol"
)

type presenceEntry struct {
	domain.PresenceEntry
	Conn core.SignalConnection
}

// PresenceRegistry is the single source of truth for "is user X online".
// It maps each user to their one live connection; a reconnect replaces the
// connection instead of adding a second entry.
type PresenceRegistry struct {
	mu      sync.RWMutex
	byUser  map[domain.UserID]*presenceEntry
	byConn  map[domain.ConnID]domain.UserID
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		byUser: make(map[domain.UserID]*presenceEntry),
		byConn: make(map[domain.ConnID]domain.UserID),
	}
}

// Join upserts the presence entry for a user. If the user is already present
// (a reconnect) the stale connection mapping is dropped so ConnIDs stay
// unique across entries.
func (r *PresenceRegistry) Join(id domain.UserID, name string, connID domain.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.byUser[id]; ok {
		delete(r.byConn, old.ConnID)
		old.DisplayName = name
		old.ConnID = connID
		old.Conn = conn
		r.byConn[connID] = id
		log.Info().Str("module", "app.presence").Str("user", string(id)).Str("conn", string(connID)).Msg("reconnected")
		return
	}
	r.byUser[id] = &presenceEntry{
		PresenceEntry: domain.PresenceEntry{UserID: id, DisplayName: name, ConnID: connID},
		Conn:          conn,
	}
	r.byConn[connID] = id
	log.Info().Str("module", "app.presence").Str("user", string(id)).Str("conn", string(connID)).Msg("joined")
}

// Lookup returns the live connection for a user, if any.
func (r *PresenceRegistry) Lookup(id domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUser[id]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// Entry returns the presence metadata for a user, if online.
func (r *PresenceRegistry) Entry(id domain.UserID) (domain.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byUser[id]
	if !ok {
		return domain.PresenceEntry{}, false
	}
	return e.PresenceEntry, true
}

// UserOfConn resolves which user owns a connection.
func (r *PresenceRegistry) UserOfConn(connID domain.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	return id, ok
}

// RemoveConn removes the entry owning connID and returns it. A stale
// connection (already replaced by a reconnect) removes nothing.
func (r *PresenceRegistry) RemoveConn(connID domain.ConnID) (domain.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[connID]
	if !ok {
		return domain.PresenceEntry{}, false
	}
	e := r.byUser[id]
	delete(r.byConn, connID)
	delete(r.byUser, id)
	log.Info().Str("module", "app.presence").Str("user", string(id)).Str("conn", string(connID)).Msg("removed")
	return e.PresenceEntry, true
}

// Snapshot lists everybody currently online.
func (r *PresenceRegistry) Snapshot() []protocol.OnlineUser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.OnlineUser, 0, len(r.byUser))
	for _, e := range r.byUser {
		out = append(out, protocol.OnlineUser{ID: e.UserID, Name: e.DisplayName})
	}
	return out
}

// Broadcast sends a frame to every live connection. Delivery is
// fire-and-forget; slow consumers are the write pump's problem.
func (r *PresenceRegistry) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.presence").Msg("broadcast marshal")
		return
	}
	r.mu.RLock()
	conns := make([]core.SignalConnection, 0, len(r.byUser))
	for _, e := range r.byUser {
		conns = append(conns, e.Conn)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		_ = c.TrySend(core.Frame(b))
	}
}

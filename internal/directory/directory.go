// Package directory is the boundary to the external user/auth service. The
// core only ever asks it for the list of registered users; accounts, logins
// and profiles are somebody else's problem.
package directory

import (
	"context"
	"sync"

	"github.com/paircall/paircall/internal/domain"
)

type Service interface {
	List(ctx context.Context) ([]domain.User, error)
}

// Memory is an in-process stand-in for the real directory, seeded at startup.
type Memory struct {
	mu    sync.RWMutex
	users []domain.User
}

func NewMemory(seed ...domain.User) *Memory {
	return &Memory{users: seed}
}

func (m *Memory) Add(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, u)
}

func (m *Memory) List(ctx context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, len(m.users))
	copy(out, m.users)
	return out, nil
}

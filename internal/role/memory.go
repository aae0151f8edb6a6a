package role

import (
	"context"
	"sort"
	"sync"
)

// MemoryModerators is a ModeratorStore kept in process memory. Grants are
// lost on restart; use PostgresModerators for durable storage.
type MemoryModerators struct {
	mu   sync.RWMutex
	mods map[string]struct{}
}

func NewMemoryModerators() *MemoryModerators {
	return &MemoryModerators{mods: make(map[string]struct{})}
}

func (m *MemoryModerators) IsModerator(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	_, ok := m.mods[email]
	m.mu.RUnlock()
	return ok, nil
}

func (m *MemoryModerators) SetModerator(_ context.Context, email string, moderator bool) error {
	m.mu.Lock()
	if moderator {
		m.mods[email] = struct{}{}
	} else {
		delete(m.mods, email)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryModerators) Moderators(_ context.Context) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0, len(m.mods))
	for email := range m.mods {
		out = append(out, email)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

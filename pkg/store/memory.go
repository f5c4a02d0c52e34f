package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-converse/pkg/core/types"
)

// Memory is an in-process Store. Documents are copied on the way in and out.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
	users    map[string]*types.User

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*types.Session),
		users:    make(map[string]*types.User),
		now:      time.Now,
	}
}

// WithClock replaces the clock used to stamp UpdatedAt.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory) CreateSession(ctx context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return ErrConflict
	}
	if _, ok := m.users[s.UserID]; !ok {
		return ErrNotFound
	}
	cp := s.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = m.now()
	}
	m.sessions[s.ID] = cp
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) UpdateSession(ctx context.Context, id string, fn func(*types.Session) error) (*types.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	next.UpdatedAt = m.now()
	m.sessions[id] = next
	return next.Clone(), nil
}

func (m *Memory) ListSessions(ctx context.Context, f SessionFilter) ([]*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Session
	for _, s := range m.sessions {
		if f.matches(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountSessions(ctx context.Context, f SessionFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if f.matches(s) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (m *Memory) FindUserByUsername(ctx context.Context, username string) (*types.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) EnsureUser(ctx context.Context, u *types.User) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.users[u.ID]; ok {
		return cur.Clone(), nil
	}
	if m.usernameTakenLocked(u.Username, u.ID) {
		return nil, ErrConflict
	}
	cp := u.Clone()
	m.users[u.ID] = cp
	return cp.Clone(), nil
}

func (m *Memory) UpdateUser(ctx context.Context, id string, fn func(*types.User) error) (*types.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.Username != cur.Username && m.usernameTakenLocked(next.Username, id) {
		return nil, ErrConflict
	}
	next.ID = id
	next.UpdatedAt = m.now()
	m.users[id] = next
	return next.Clone(), nil
}

func (m *Memory) usernameTakenLocked(username, exceptID string) bool {
	if username == "" {
		return false
	}
	for id, u := range m.users {
		if id != exceptID && strings.EqualFold(u.Username, username) {
			return true
		}
	}
	return false
}

func (m *Memory) Close() error { return nil }

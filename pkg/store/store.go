// Package store defines the durable session and user store.
//
// Every write is a per-entity atomic read-modify-write: Update* loads the
// current document, hands a copy to fn and persists the result only if fn
// returns nil. Implementations must not let two updates of the same entity
// interleave.
package store

import (
	"context"
	"errors"

	"github.com/vango-go/vai-converse/pkg/core/types"
)

var (
	// ErrNotFound is returned when a session or user does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a write violates uniqueness (duplicate id or username).
	ErrConflict = errors.New("store: conflict")
)

// SessionFilter selects sessions. Zero values match everything.
type SessionFilter struct {
	UserID   string
	Statuses []types.SessionStatus
	// Limit caps the result size; 0 means unlimited.
	Limit int
}

func (f SessionFilter) matches(s *types.Session) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

// Store persists sessions and users.
type Store interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSession(ctx context.Context, id string, fn func(*types.Session) error) (*types.Session, error)
	// ListSessions returns matching sessions, most recently updated first.
	ListSessions(ctx context.Context, f SessionFilter) ([]*types.Session, error)
	CountSessions(ctx context.Context, f SessionFilter) (int, error)

	GetUser(ctx context.Context, id string) (*types.User, error)
	FindUserByUsername(ctx context.Context, username string) (*types.User, error)
	// EnsureUser inserts u unless a user with the same id exists, and returns the stored user.
	EnsureUser(ctx context.Context, u *types.User) (*types.User, error)
	UpdateUser(ctx context.Context, id string, fn func(*types.User) error) (*types.User, error)

	Close() error
}

// Package profile handles user-initiated profile changes that must be
// confirmed through a one-time verification link before they apply.
package profile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/store"
	"github.com/vango-go/vai-converse/pkg/tokenstore"
)

// DefaultTokenTTL is how long a verification link stays valid.
const DefaultTokenTTL = time.Hour

const tokenKeyPrefix = "profile-update:"

// Changes is a requested profile edit. Empty fields are left alone.
type Changes struct {
	Username string `json:"username,omitempty"`
}

func (c Changes) empty() bool {
	return strings.TrimSpace(c.Username) == ""
}

// Notifier delivers a verification link to the user.
type Notifier interface {
	Notify(ctx context.Context, user *types.User, link string) error
}

// LogNotifier writes verification links to a logger instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, user *types.User, link string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("profile update verification link", "user_id", user.ID, "link", link)
	return nil
}

type pending struct {
	UserID      string    `json:"userId"`
	Changes     Changes   `json:"changes"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Options configures a Service.
type Options struct {
	FrontendURL string
	TokenTTL    time.Duration
}

// Service issues and redeems profile update tokens.
type Service struct {
	store    store.Store
	tokens   tokenstore.Store
	notifier Notifier
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a profile service. A nil notifier logs links.
func NewService(st store.Store, tokens tokenstore.Store, notifier Notifier, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	opts.FrontendURL = strings.TrimRight(opts.FrontendURL, "/")
	return &Service{
		store:    st,
		tokens:   tokens,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the user document.
func (s *Service) Get(ctx context.Context, userID string) (*types.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, storeError(err)
	}
	return u, nil
}

// RequestUpdate validates c, parks it under a fresh token and sends the
// verification link. It returns the token.
func (s *Service) RequestUpdate(ctx context.Context, userID string, c Changes) (string, error) {
	c.Username = strings.TrimSpace(c.Username)
	if c.empty() {
		return "", core.NewInvalidRequestError("no profile changes requested")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return "", storeError(err)
	}
	if strings.EqualFold(user.Username, c.Username) {
		return "", core.NewInvalidRequestErrorWithParam("username is unchanged", "username")
	}
	if err := s.checkUsername(ctx, userID, c.Username); err != nil {
		return "", err
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("profile: generate token: %w", err)
	}
	raw, err := sonic.Marshal(pending{UserID: userID, Changes: c, RequestedAt: s.now()})
	if err != nil {
		return "", fmt.Errorf("profile: encode pending change: %w", err)
	}
	if err := s.tokens.Put(ctx, tokenKeyPrefix+token, raw, s.opts.TokenTTL); err != nil {
		return "", core.NewPersistenceError("verification token store", err)
	}

	if err := s.notifier.Notify(ctx, user, s.Link(token)); err != nil {
		_ = s.tokens.Delete(ctx, tokenKeyPrefix+token)
		return "", fmt.Errorf("profile: notify: %w", err)
	}
	return token, nil
}

// Link builds the verification URL for token.
func (s *Service) Link(token string) string {
	return s.opts.FrontendURL + "/verify-profile-update?token=" + url.QueryEscape(token)
}

// Check reports whether token is still redeemable without consuming it.
func (s *Service) Check(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, err := s.tokens.Get(ctx, tokenKeyPrefix+token)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, tokenstore.ErrNotFound):
		return false, nil
	default:
		return false, core.NewPersistenceError("verification token lookup", err)
	}
}

// Verify redeems token and applies the parked changes. A token can be
// redeemed once.
func (s *Service) Verify(ctx context.Context, token string) (*types.User, error) {
	if token == "" {
		return nil, core.NewInvalidRequestErrorWithParam("token is required", "token")
	}
	raw, err := s.tokens.Take(ctx, tokenKeyPrefix+token)
	if err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return nil, core.NewInvalidRequestErrorWithParam("invalid or expired verification token", "token")
		}
		return nil, core.NewPersistenceError("verification token lookup", err)
	}
	var p pending
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("profile: decode pending change: %w", err)
	}

	user, err := s.store.UpdateUser(ctx, p.UserID, func(u *types.User) error {
		if p.Changes.Username != "" {
			u.Username = p.Changes.Username
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, core.NewInvalidRequestErrorWithParam("username is already taken", "username")
		}
		return nil, storeError(err)
	}
	s.logger.Info("profile updated", "user_id", user.ID)
	return user, nil
}

func (s *Service) checkUsername(ctx context.Context, userID, username string) error {
	other, err := s.store.FindUserByUsername(ctx, username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return storeError(err)
	case other.ID != userID:
		return core.NewInvalidRequestErrorWithParam("username is already taken", "username")
	}
	return nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return core.NewNotFoundError("user not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return core.NewPersistenceError("user store", err)
	}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

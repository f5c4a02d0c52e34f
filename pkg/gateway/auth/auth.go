package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated caller. UserID is always set; APIKey is
// empty when the identity came from a trusted header.
type Principal struct {
	UserID string
	APIKey string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil && p.UserID != ""
}

// UserIDFrom returns the authenticated user id, if any.
func UserIDFrom(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return "", false
	}
	return p.UserID, true
}

func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// ParseQueryToken reads the access_token query parameter. Browsers cannot
// set headers on a WebSocket handshake, so upgrades authenticate this way.
func ParseQueryToken(r *http.Request) (string, bool) {
	token := strings.TrimSpace(r.URL.Query().Get("access_token"))
	return token, token != ""
}

package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-converse/pkg/gateway/auth"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
)

// whoami reports the authenticated user in a response header.
func whoami() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := auth.UserIDFrom(r.Context()); ok {
			w.Header().Set("X-Test-User", id)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func requiredCfg() config.Config {
	return config.Config{AuthMode: config.AuthModeRequired, APIKeys: map[string]string{"sk_test": "u1"}}
}

func TestAuth_RequiredRejectsMissingBearer(t *testing.T) {
	h := Auth(requiredCfg(), whoami())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestAuth_KeyMapsToUser(t *testing.T) {
	h := Auth(requiredCfg(), whoami())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer sk_test")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("X-Test-User") != "u1" {
		t.Fatalf("status=%d user=%q", rr.Code, rr.Header().Get("X-Test-User"))
	}
}

func TestAuth_InvalidKeyRejected(t *testing.T) {
	h := Auth(config.Config{AuthMode: config.AuthModeOptional, APIKeys: map[string]string{"sk_test": "u1"}}, whoami())

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer sk_wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestAuth_WebSocketUpgradeUsesQueryToken(t *testing.T) {
	h := Auth(requiredCfg(), whoami())

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/voice/ws?access_token=sk_test", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent || rr.Header().Get("X-Test-User") != "u1" {
		t.Fatalf("status=%d user=%q", rr.Code, rr.Header().Get("X-Test-User"))
	}

	plain := httptest.NewRequest(http.MethodGet, "/v1/profile?access_token=sk_test", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, plain)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("query token outside an upgrade must not authenticate, status=%d", rr.Code)
	}
}

func TestAuth_DisabledTakesUserHeader(t *testing.T) {
	h := Auth(config.Config{AuthMode: config.AuthModeDisabled}, whoami())

	req := httptest.NewRequest(http.MethodGet, "/v1/profile", nil)
	req.Header.Set(UserIDHeader, "u9")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Header().Get("X-Test-User") != "u9" {
		t.Fatalf("user=%q", rr.Header().Get("X-Test-User"))
	}
}

func TestAuth_PublicPathsSkipCredentials(t *testing.T) {
	h := Auth(requiredCfg(), whoami())
	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/v1/profile/verify/abc"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}
}

package mw

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
)

const preflightMaxAge = 10 * time.Minute

var (
	corsMethods = "GET, POST"
	corsHeaders = strings.Join([]string{"Authorization", "Content-Type", "X-Request-ID", UserIDHeader}, ", ")
	corsExposed = "X-Request-ID, Retry-After"
)

// OriginPolicy is the set of browser origins allowed to call the API and open
// voice sockets. An empty policy admits no cross-origin browser callers.
type OriginPolicy struct {
	origins map[string]struct{}
}

func NewOriginPolicy(cfg config.Config) OriginPolicy {
	return OriginPolicy{origins: cfg.CORSAllowedOrigins}
}

func (p OriginPolicy) listed(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := p.origins[origin]
	return ok
}

// CheckOrigin vets a WebSocket upgrade. Non-browser clients send no Origin;
// browsers must be same-host or listed.
func (p OriginPolicy) CheckOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || p.listed(origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// CORS answers preflights and marks responses to listed origins readable.
// Preflights from anywhere else get a 403 envelope and never reach next.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	policy := NewOriginPolicy(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		allowed := policy.listed(origin)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				reqID, _ := RequestIDFrom(r.Context())
				writeJSONError(w, http.StatusForbidden, &core.Error{
					Type:      core.ErrInvalidRequest,
					Message:   "origin not allowed",
					Param:     "Origin",
					RequestID: reqID,
				})
				return
			}
			h := w.Header()
			allowOrigin(h, origin)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", strconv.Itoa(int(preflightMaxAge.Seconds())))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if allowed {
			allowOrigin(w.Header(), origin)
			w.Header().Set("Access-Control-Expose-Headers", corsExposed)
		}
		next.ServeHTTP(w, r)
	})
}

func allowOrigin(h http.Header, origin string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
}

package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
	"github.com/vango-go/vai-converse/pkg/gateway/principal"
	"github.com/vango-go/vai-converse/pkg/gateway/ratelimit"
)

// RateLimit applies the per-caller request budget. onLimited, if set, is
// told the principal kind of every rejected request.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, onLimited func(kind principal.Kind), next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health and scrape endpoints must remain cheap and reliable.
		switch r.URL.Path {
		case "/healthz", "/readyz", "/metrics":
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		p := principal.Resolve(r, cfg)
		dec := limiter.AcquireRequest(p.Key, time.Now())
		if !dec.Allowed {
			if onLimited != nil {
				onLimited(p.Kind)
			}
			reqID, _ := RequestIDFrom(r.Context())
			ce := &core.Error{
				Type:      core.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			}
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
				v := dec.RetryAfter
				ce.RetryAfter = &v
			}
			writeJSONError(w, http.StatusTooManyRequests, ce)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}

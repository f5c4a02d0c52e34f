package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/gateway/apierror"
	"github.com/vango-go/vai-converse/pkg/gateway/auth"
	"github.com/vango-go/vai-converse/pkg/gateway/mw"
)

// writeError renders err as the JSON error envelope. A cancelled request
// writes nothing: the client is gone.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if apierror.IsSilent(err) {
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	if status >= http.StatusInternalServerError {
		loggerOr(logger).Error("request failed", "request_id", reqID, "path", r.URL.Path, "status", status, "error", err)
	}
	writeCoreErrorJSON(w, status, coreErr)
}

func writeCoreErrorJSON(w http.ResponseWriter, status int, coreErr *core.Error) {
	if coreErr.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*coreErr.RetryAfter))
	}
	writeJSON(w, status, apierror.Envelope{Error: coreErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// readJSON decodes a bounded JSON body into dst.
func readJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.NewInvalidRequestError("request body too large")
		}
		return core.NewInvalidRequestError("failed to read request body")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return core.NewInvalidRequestError("request body is required")
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		return core.NewInvalidRequestError("request body is not valid JSON")
	}
	return nil
}

// requireUser returns the authenticated user id or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	if userID, ok := auth.UserIDFrom(r.Context()); ok {
		return userID, true
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr := core.NewAuthenticationError("authentication required")
	coreErr.RequestID = reqID
	writeCoreErrorJSON(w, http.StatusUnauthorized, coreErr)
	return "", false
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vango-go/vai-converse/pkg/core"
)

func TestFromError_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType core.ErrorType
		status   int
	}{
		{"validation", core.NewInvalidRequestError("text is required"), core.ErrInvalidRequest, http.StatusBadRequest},
		{"not found", core.NewNotFoundError("session not found"), core.ErrNotFound, http.StatusNotFound},
		{"upstream", core.NewUpstreamError("completion", errors.New("reset")), core.ErrUpstream, http.StatusBadGateway},
		{"persistence", core.NewPersistenceError("session commit", errors.New("disk full")), core.ErrPersistence, http.StatusInternalServerError},
		{"overloaded", core.NewOverloadedError("server is shutting down"), core.ErrOverloaded, http.StatusServiceUnavailable},
		{"auth", core.NewAuthenticationError("invalid api key"), core.ErrAuthentication, http.StatusUnauthorized},
		{"rate limit", core.NewRateLimitError("slow down", 2), core.ErrRateLimit, http.StatusTooManyRequests},
		{"deadline", fmt.Errorf("completion: %w", context.DeadlineExceeded), core.ErrUpstream, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), core.ErrAPI, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, status := FromError(tt.err, "req_test")
			if status != tt.status {
				t.Fatalf("status=%d, want %d", status, tt.status)
			}
			if ce.Type != tt.wantType {
				t.Fatalf("type=%q, want %q", ce.Type, tt.wantType)
			}
			if ce.RequestID != "req_test" {
				t.Fatalf("request_id=%q", ce.RequestID)
			}
		})
	}
}

func TestFromError_UnknownDoesNotLeakDetails(t *testing.T) {
	ce, _ := FromError(errors.New("pq: password authentication failed"), "req_test")
	if ce.Message != "internal error" {
		t.Fatalf("message=%q", ce.Message)
	}
}

func TestFromError_ContextCanceledIsSilent(t *testing.T) {
	if !IsSilent(fmt.Errorf("turn: %w", context.Canceled)) {
		t.Fatalf("expected cancellation to be silent")
	}
	if IsSilent(context.DeadlineExceeded) {
		t.Fatalf("deadline must be reported")
	}
	ce, status := FromError(context.Canceled, "req_test")
	if status != http.StatusRequestTimeout || ce.Code != "cancelled" {
		t.Fatalf("status=%d code=%q", status, ce.Code)
	}
}

func TestWire_CopiesFields(t *testing.T) {
	ce, _ := FromError(core.NewInvalidRequestErrorWithParam("text is required", "text"), "req_1")
	w := Wire(ce)
	if w.Type != "invalid_request_error" || w.Param != "text" || w.RequestID != "req_1" {
		t.Fatalf("wire=%+v", w)
	}
	if got := Wire(nil); got.Type != string(core.ErrAPI) {
		t.Fatalf("nil wire=%+v", got)
	}
}

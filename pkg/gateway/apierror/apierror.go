package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

// IsSilent reports whether err means the caller went away, in which case
// nothing should be written back.
func IsSilent(err error) bool {
	return errors.Is(err, context.Canceled)
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// A deadline on an upstream call is an upstream timeout.
	if errors.Is(err, context.DeadlineExceeded) {
		var coreErr *core.Error
		if !errors.As(err, &coreErr) || coreErr.Type == core.ErrUpstream {
			return &core.Error{
				Type:      core.ErrUpstream,
				Message:   "upstream request timed out",
				Code:      "timeout",
				RequestID: requestID,
			}, http.StatusGatewayTimeout
		}
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// Wire converts a canonical error to its stream-event form.
func Wire(coreErr *core.Error) types.Error {
	if coreErr == nil {
		return types.Error{Type: string(core.ErrAPI), Message: "internal error"}
	}
	return types.Error{
		Type:       string(coreErr.Type),
		Message:    coreErr.Message,
		Param:      coreErr.Param,
		Code:       coreErr.Code,
		RequestID:  coreErr.RequestID,
		RetryAfter: coreErr.RetryAfter,
	}
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrUpstream:
		return http.StatusBadGateway
	case core.ErrPersistence:
		return http.StatusInternalServerError
	case core.ErrOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

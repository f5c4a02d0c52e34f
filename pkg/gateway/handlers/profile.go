package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/vai-converse/pkg/gateway/config"
	"github.com/vango-go/vai-converse/pkg/profile"
)

// ProfileHandler serves the user document and the verified username change
// flow. The verify routes are public: the token is the credential.
type ProfileHandler struct {
	Config   config.Config
	Profiles *profile.Service
	Logger   *slog.Logger
}

// Get handles GET /v1/profile.
func (h ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	u, err := h.Profiles.Get(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// RequestUpdate handles POST /v1/profile/update-requests.
func (h ProfileHandler) RequestUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Username string `json:"username"`
	}
	if err := readJSON(w, r, h.Config.MaxBodyBytes, &body); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if _, err := h.Profiles.RequestUpdate(r.Context(), userID, profile.Changes{Username: body.Username}); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "Verification link sent. Please confirm to apply the change.",
	})
}

// Verify handles POST /v1/profile/verify with {token}.
func (h ProfileHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := readJSON(w, r, h.Config.MaxBodyBytes, &body); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	u, err := h.Profiles.Verify(r.Context(), strings.TrimSpace(body.Token))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"user":    u,
	})
}

// Check handles GET /v1/profile/verify/{token} without consuming the token.
func (h ProfileHandler) Check(w http.ResponseWriter, r *http.Request) {
	valid, err := h.Profiles.Check(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-converse/pkg/conversation"
)

// SessionsHandler serves session lifecycle routes. Sessions are only
// visible to the user that owns them.
type SessionsHandler struct {
	Conversations *conversation.Service
	Logger        *slog.Logger
}

// Create handles POST /v1/sessions.
func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := h.Conversations.StartSession(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sess.ID})
}

// Get handles GET /v1/sessions/{id}.
func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	sess, err := h.Conversations.GetSession(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h SessionsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if _, err := h.Conversations.PauseSession(r.Context(), userID, r.PathValue("id")); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	res, err := h.Conversations.EndSession(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-converse/pkg/analysis"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
)

// AnalysisHandler runs a profile analysis for the caller and waits for it.
type AnalysisHandler struct {
	Config   config.Config
	Analyzer *analysis.Analyzer
	Logger   *slog.Logger
}

func (h AnalysisHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if h.Config.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.AnalysisTimeout)
		defer cancel()
	}
	res, err := h.Analyzer.Analyze(ctx, userID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

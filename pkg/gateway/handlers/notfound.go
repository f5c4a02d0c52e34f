package handlers

import (
	"net/http"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr := core.NewNotFoundError("not found")
	coreErr.RequestID = reqID
	writeCoreErrorJSON(w, http.StatusNotFound, coreErr)
}

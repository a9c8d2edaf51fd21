package api

import (
	"net/http"

	"github.com/advisorhq/advisor/internal/corpus"
	"github.com/advisorhq/advisor/internal/index"
)

// healthHandler reports liveness plus basic readiness facts: how many
// entries are loaded and which embedding model built the index.
type healthHandler struct {
	corpus *corpus.Repository
	index  *index.Index
}

func (h *healthHandler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"entries": h.corpus.Len(),
		"model":   h.index.Model(),
	})
}

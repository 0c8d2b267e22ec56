package api

import (
	"fmt"
	"net/http"
	"strconv"
)

// DecisionsHandler lists merge decisions.
type DecisionsHandler struct {
	deps     Dependencies
	maxLimit int
}

// NewDecisionsHandler creates a new decisions handler.
func NewDecisionsHandler(deps Dependencies, maxLimit int) *DecisionsHandler {
	return &DecisionsHandler{deps: deps, maxLimit: maxLimit}
}

// HandleList handles GET /decisions?limit=N.
func (h *DecisionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.decisions"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	limit := defaultDecisionsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > h.maxLimit {
			writeError(w, http.StatusBadRequest, "bad_request",
				WrapKind(op, ErrBadRequest, fmt.Errorf("limit must be between 1 and %d", h.maxLimit)))
			return
		}
		limit = n
	}

	decisions, err := h.deps.Decisions(r.Context(), limit)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, decisions)
}

package handler

import (
	"net/http"

	"tranche/internal/engine"
)

// CodeHandler exposes the read-only codes-listing surface for operator
// reference. Secrets are never included.
type CodeHandler struct {
	engine *engine.Engine
}

// NewCodeHandler creates a new code handler.
func NewCodeHandler(eng *engine.Engine) *CodeHandler {
	return &CodeHandler{engine: eng}
}

// List returns all codes' metadata for a transfer, in sequence order.
// GET /api/v1/transfers/{id}/codes
func (h *CodeHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	infos, err := h.engine.Codes(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	JSON(w, http.StatusOK, infos)
}

// PeekNext returns the next required code's metadata, or null when every
// stage has been released.
// GET /api/v1/transfers/{id}/codes/next
func (h *CodeHandler) PeekNext(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	info, err := h.engine.PeekNext(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	JSON(w, http.StatusOK, info)
}

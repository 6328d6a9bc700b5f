package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tranche/internal/codes"
	"tranche/internal/engine"
	"tranche/internal/models"
)

// TransferHandler handles transfer endpoints.
type TransferHandler struct {
	engine *engine.Engine
}

// NewTransferHandler creates a new transfer handler.
func NewTransferHandler(eng *engine.Engine) *TransferHandler {
	return &TransferHandler{engine: eng}
}

// CreateTransferRequest represents a transfer origination request.
type CreateTransferRequest struct {
	Amount    string                   `json:"amount"`
	Recipient string                   `json:"recipient"`
	Stages    []models.StageDefinition `json:"stages"`
}

// CreateTransferResponse returns the transfer plus the issued codes. The
// secrets appear here exactly once; every later surface is metadata only.
type CreateTransferResponse struct {
	Transfer *models.Transfer    `json:"transfer"`
	Codes    []models.IssuedCode `json:"codes"`
}

// Create originates a transfer with its gating stages.
// POST /api/v1/transfers
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Recipient == "" {
		BadRequest(w, "recipient is required")
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		BadRequest(w, "invalid amount")
		return
	}

	transfer, issued, err := h.engine.Create(r.Context(), models.CreateTransferParams{
		Amount:    amount,
		Recipient: req.Recipient,
		Stages:    req.Stages,
	})
	if err != nil {
		if errors.Is(err, codes.ErrInvalidStageDefinition) {
			Error(w, http.StatusBadRequest, "INVALID_STAGE_DEFINITION", err.Error())
			return
		}
		InternalError(w, "failed to create transfer")
		return
	}

	JSON(w, http.StatusCreated, CreateTransferResponse{Transfer: transfer, Codes: issued})
}

// Get returns a transfer by ID.
// GET /api/v1/transfers/{id}
func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	transfer, err := h.engine.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	JSON(w, http.StatusOK, transfer)
}

// List returns transfers with optional status filter and pagination.
// GET /api/v1/transfers
func (h *TransferHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := models.TransferFilter{
		Limit:  100,
		Offset: 0,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 1000 {
			filter.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	if status := r.URL.Query().Get("status"); status != "" {
		s := models.TransferStatus(status)
		filter.Status = &s
	}

	transfers, err := h.engine.List(r.Context(), filter)
	if err != nil {
		InternalError(w, "failed to list transfers")
		return
	}

	JSON(w, http.StatusOK, transfers)
}

// ApplyCodeRequest carries the operator-supplied validation code.
type ApplyCodeRequest struct {
	Code string `json:"code"`
}

// ApplyCode consumes the code at sequence and advances the transfer.
// POST /api/v1/transfers/{id}/codes/{sequence}
func (h *TransferHandler) ApplyCode(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	sequence, err := strconv.Atoi(chi.URLParam(r, "sequence"))
	if err != nil || sequence < 1 {
		BadRequest(w, "invalid sequence")
		return
	}

	var req ApplyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Code == "" {
		BadRequest(w, "code is required")
		return
	}

	transfer, err := h.engine.ApplyCode(r.Context(), id, sequence, req.Code)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	JSON(w, http.StatusOK, transfer)
}

// SuspendRequest carries the administrative suspension reason.
type SuspendRequest struct {
	Reason string `json:"reason"`
}

// Suspend freezes code application for a transfer.
// POST /api/v1/transfers/{id}/suspend
func (h *TransferHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	var req SuspendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	transfer, err := h.engine.Suspend(r.Context(), id, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	JSON(w, http.StatusOK, transfer)
}

// Resume restores the status a transfer was suspended from.
// POST /api/v1/transfers/{id}/resume
func (h *TransferHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := transferID(w, r)
	if !ok {
		return
	}

	transfer, err := h.engine.Resume(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	JSON(w, http.StatusOK, transfer)
}

func transferID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, "invalid transfer ID")
		return uuid.Nil, false
	}
	return id, true
}

// writeEngineError maps the gating taxonomy onto the response envelope.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		NotFound(w, "transfer not found")
	case errors.Is(err, codes.ErrCodeMismatch):
		UnprocessableEntity(w, "CODE_MISMATCH", "validation code does not match")
	case errors.Is(err, codes.ErrOutOfOrder):
		UnprocessableEntity(w, "OUT_OF_ORDER", "validation code is not the next required one")
	case errors.Is(err, codes.ErrAlreadyConsumed):
		Conflict(w, "validation code already consumed")
	case errors.Is(err, engine.ErrAlreadyCompleted):
		Conflict(w, "transfer already completed")
	case errors.Is(err, engine.ErrTransferSuspended):
		Locked(w, "TRANSFER_SUSPENDED", "transfer is suspended")
	case errors.Is(err, engine.ErrNotSuspended):
		Conflict(w, "transfer is not suspended")
	case errors.Is(err, models.ErrIllegalTransition):
		Conflict(w, err.Error())
	default:
		InternalError(w, "operation failed")
	}
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/visitscribe/backend/internal/application/services"
	"github.com/visitscribe/backend/internal/domain/entities"
)

// EscalationWorkflow defines the operator actions over post-commit incidents
type EscalationWorkflow interface {
	List(ctx context.Context, cursor string, limit int) ([]services.EscalationSummary, string, error)
	Acknowledge(ctx context.Context, visitID, operator string) (*entities.Visit, error)
	Resolve(ctx context.Context, visitID, operator, note string) (*entities.Visit, error)
	Reopen(ctx context.Context, visitID string) (*entities.Visit, error)
}

// EscalationHandler handles the operator escalation queue
type EscalationHandler struct {
	service EscalationWorkflow
}

// NewEscalationHandler creates a new escalation handler
func NewEscalationHandler(service EscalationWorkflow) *EscalationHandler {
	return &EscalationHandler{service: service}
}

// ListEscalations handles GET /api/escalations
func (h *EscalationHandler) ListEscalations(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	visits, nextCursor, err := h.service.List(r.Context(), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"escalations": visits,
		"count":       len(visits),
		"next_cursor": nextCursor,
	})
}

// AcknowledgeEscalation handles POST /api/escalations/{id}/acknowledge
func (h *EscalationHandler) AcknowledgeEscalation(w http.ResponseWriter, r *http.Request) {
	visitID, operator, ok := h.requireOperator(w, r)
	if !ok {
		return
	}

	visit, err := h.service.Acknowledge(r.Context(), visitID, operator)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, visit)
}

type resolveEscalationRequest struct {
	Note string `json:"note"`
}

// ResolveEscalation handles POST /api/escalations/{id}/resolve
func (h *EscalationHandler) ResolveEscalation(w http.ResponseWriter, r *http.Request) {
	visitID, operator, ok := h.requireOperator(w, r)
	if !ok {
		return
	}

	var req resolveEscalationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.Note == "" {
		respondWithError(w, http.StatusBadRequest, "a resolution note is required")
		return
	}

	visit, err := h.service.Resolve(r.Context(), visitID, operator, req.Note)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, visit)
}

// ReopenEscalation handles POST /api/escalations/{id}/reopen
func (h *EscalationHandler) ReopenEscalation(w http.ResponseWriter, r *http.Request) {
	visitID := r.PathValue("id")
	if visitID == "" {
		respondWithError(w, http.StatusBadRequest, "visit ID is required")
		return
	}

	visit, err := h.service.Reopen(r.Context(), visitID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, visit)
}

// requireOperator extracts the visit ID and the acting operator. Operator
// identity comes from the X-Operator-ID header set by the internal admin
// gateway.
func (h *EscalationHandler) requireOperator(w http.ResponseWriter, r *http.Request) (visitID, operator string, ok bool) {
	visitID = r.PathValue("id")
	if visitID == "" {
		respondWithError(w, http.StatusBadRequest, "visit ID is required")
		return "", "", false
	}
	operator = r.Header.Get("X-Operator-ID")
	if operator == "" {
		respondWithError(w, http.StatusUnauthorized, "X-Operator-ID header is required")
		return "", "", false
	}
	return visitID, operator, true
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/visitscribe/backend/internal/application/services"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/repositories"
	apperrors "github.com/visitscribe/backend/pkg/errors"
)

// VisitRetryService defines the processing operations the visit handler needs
type VisitRetryService interface {
	RequestManualRetry(ctx context.Context, visitID string) (*services.RetryOutcome, error)
}

// NotificationLister exposes the notification delivery history for a visit
type NotificationLister interface {
	ListByVisit(ctx context.Context, visitID string) ([]entities.VisitNotification, error)
}

// VisitHandler handles visit-related HTTP requests
type VisitHandler struct {
	visitRepo     repositories.VisitRepository
	retry         VisitRetryService
	notifications NotificationLister
}

// NewVisitHandler creates a new visit handler
func NewVisitHandler(visitRepo repositories.VisitRepository, retry VisitRetryService, notifications NotificationLister) *VisitHandler {
	return &VisitHandler{
		visitRepo: visitRepo,
		retry:     retry,

		notifications: notifications,
	}
}

type createVisitRequest struct {
	UserID          string   `json:"user_id"`
	PatientName     string   `json:"patient_name"`
	CaregiverEmails []string `json:"caregiver_emails"`
	PushToken       string   `json:"push_token"`
}

// CreateVisit handles POST /api/visits. The record is created when recording
// begins; audio arrives later through the storage finalize webhook.
func (h *VisitHandler) CreateVisit(w http.ResponseWriter, r *http.Request) {
	var req createVisitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.UserID == "" || req.PatientName == "" {
		respondWithError(w, http.StatusBadRequest, "user_id and patient_name are required")
		return
	}

	now := time.Now()
	visit := &entities.Visit{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		PatientName:      req.PatientName,
		Status:           entities.VisitStatusRecording,
		ProcessingStatus: entities.ProcessingStatusPending,
		CaregiverEmails:  req.CaregiverEmails,
		PushToken:        req.PushToken,
		PostCommit:       entities.PostCommitState{Status: entities.PostCommitStatusNone},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := h.visitRepo.Create(r.Context(), visit); err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, visit)
}

// GetVisit handles GET /api/visits/{id}
func (h *VisitHandler) GetVisit(w http.ResponseWriter, r *http.Request) {
	visitID := r.PathValue("id")
	if visitID == "" {
		respondWithError(w, http.StatusBadRequest, "visit ID is required")
		return
	}

	visit, err := h.visitRepo.GetByID(r.Context(), visitID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, visit)
}

// RetryVisit handles POST /api/visits/{id}/retry. Responses: 202 accepted,
// 429 with wait_seconds while throttled, 409 while a stage is already
// running.
func (h *VisitHandler) RetryVisit(w http.ResponseWriter, r *http.Request) {
	visitID := r.PathValue("id")
	if visitID == "" {
		respondWithError(w, http.StatusBadRequest, "visit ID is required")
		return
	}

	outcome, err := h.retry.RequestManualRetry(r.Context(), visitID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	switch {
	case outcome.AlreadyProcessing:
		respondWithError(w, http.StatusConflict, "visit is already processing")
	default:
		respondWithJSON(w, http.StatusAccepted, map[string]interface{}{
			"status": "accepted",
			"path":   outcome.Path,
		})
	}
}

// ListVisitNotifications handles GET /api/visits/{id}/notifications
func (h *VisitHandler) ListVisitNotifications(w http.ResponseWriter, r *http.Request) {
	visitID := r.PathValue("id")
	if visitID == "" {
		respondWithError(w, http.StatusBadRequest, "visit ID is required")
		return
	}

	// 404 for unknown visits rather than an empty list
	if _, err := h.visitRepo.GetByID(r.Context(), visitID); err != nil {
		respondWithAppError(w, err)
		return
	}

	records, err := h.notifications.ListByVisit(r.Context(), visitID)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": records,
		"count":         len(records),
	})
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondWithAppError maps the error taxonomy onto HTTP status codes.
func respondWithAppError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		switch appErr.Type {
		case apperrors.ErrorTypeNotFound:
			respondWithError(w, http.StatusNotFound, appErr.Message)
		case apperrors.ErrorTypeValidation:
			respondWithError(w, http.StatusBadRequest, appErr.Message)
		case apperrors.ErrorTypeConflict:
			respondWithError(w, http.StatusConflict, appErr.Message)
		case apperrors.ErrorTypeUnauthorized:
			respondWithError(w, http.StatusUnauthorized, appErr.Message)
		case apperrors.ErrorTypeRateLimited:
			respondWithJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":        appErr.Message,
				"wait_seconds": appErr.WaitSeconds,
			})
		case apperrors.ErrorTypeExternal:
			respondWithError(w, http.StatusBadGateway, appErr.Message)
		default:
			respondWithError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	respondWithError(w, http.StatusInternalServerError, "internal server error")
}

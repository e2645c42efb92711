package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/repositories"
	apperrors "github.com/visitscribe/backend/pkg/errors"
	"github.com/visitscribe/backend/pkg/retry"
)

// VisitSubmissionService defines the pipeline entry points webhooks drive
type VisitSubmissionService interface {
	Submit(ctx context.Context, visitID, audioURL string) error
	HandleTranscriptionCompleted(ctx context.Context, visitID, jobID string, result *entities.TranscriptionResult) error
}

// WebhookHandler handles inbound webhooks from object storage and the
// transcription service
type WebhookHandler struct {
	visitRepo  repositories.VisitRepository
	processing VisitSubmissionService
	logger     zerolog.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(visitRepo repositories.VisitRepository, processing VisitSubmissionService, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		visitRepo:  visitRepo,
		processing: processing,
		logger:     logger.With().Str("component", "webhooks").Logger(),
	}
}

type storageFinalizeEvent struct {
	VisitID  string `json:"visit_id"`
	AudioURL string `json:"audio_url"`
}

// HandleStorageFinalize handles POST /api/webhooks/storage/finalize: the
// object store finished writing a visit's audio. Storage can fire this before
// the visit row is visible to us, so the lookup retries briefly before giving
// up.
func (h *WebhookHandler) HandleStorageFinalize(w http.ResponseWriter, r *http.Request) {
	var event storageFinalizeEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if event.VisitID == "" || event.AudioURL == "" {
		respondWithError(w, http.StatusBadRequest, "visit_id and audio_url are required")
		return
	}

	lookupCfg := retry.Config{
		MaxAttempts:     5,
		InitialDelay:    200 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		BackoffFactor:   2.0,
		MaxTotalTimeout: 10 * time.Second,
	}
	err := retry.Do(r.Context(), lookupCfg, func() error {
		_, lookupErr := h.visitRepo.GetByID(r.Context(), event.VisitID)
		return lookupErr
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("visit_id", event.VisitID).
			Msg("finalize event arrived for unknown visit")
		respondWithError(w, http.StatusNotFound, "visit not found")
		return
	}

	if err := h.processing.Submit(r.Context(), event.VisitID, event.AudioURL); err != nil {
		if appErr, ok := err.(*apperrors.AppError); ok && appErr.Type == apperrors.ErrorTypeConflict {
			// Redundant finalize delivery; the first one already won.
			respondWithJSON(w, http.StatusOK, map[string]string{"status": "already_submitted"})
			return
		}
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

type transcriptionWebhookEvent struct {
	VisitID      string                       `json:"visit_id"`
	JobID        string                       `json:"job_id"`
	Status       string                       `json:"status"`
	Text         string                       `json:"text,omitempty"`
	Segments     []entities.TranscriptSegment `json:"segments,omitempty"`
	ErrorMessage string                       `json:"error_message,omitempty"`
}

// HandleTranscriptionWebhook handles POST /api/webhooks/transcription: the
// external service finished (or failed) a transcription job. Deliveries are
// at-least-once; the guarded transition underneath makes replays harmless.
func (h *WebhookHandler) HandleTranscriptionWebhook(w http.ResponseWriter, r *http.Request) {
	var event transcriptionWebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if event.VisitID == "" || event.JobID == "" {
		respondWithError(w, http.StatusBadRequest, "visit_id and job_id are required")
		return
	}

	result := &entities.TranscriptionResult{
		JobID:        event.JobID,
		Status:       entities.TranscriptionJobStatus(event.Status),
		Text:         event.Text,
		Segments:     event.Segments,
		ErrorMessage: event.ErrorMessage,
	}

	if err := h.processing.HandleTranscriptionCompleted(r.Context(), event.VisitID, event.JobID, result); err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

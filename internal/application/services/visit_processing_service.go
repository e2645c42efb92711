package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/providers"
	"github.com/visitscribe/backend/internal/domain/repositories"
	"github.com/visitscribe/backend/pkg/config"
	apperrors "github.com/visitscribe/backend/pkg/errors"
)

// VisitProcessingService drives the visit pipeline state machine:
// pending → transcribing → summarizing → completed, with failed reachable
// from either working state. All transitions go through guarded
// compare-then-update writes so a redundant webhook or a racing worker
// becomes a no-op instead of a duplicate transition.
type VisitProcessingService struct {
	repo          repositories.VisitRepository
	transcription providers.TranscriptionProvider
	summarization providers.SummarizationProvider
	eventBus      providers.EventBus
	cfg           config.PipelineConfig
	callbackURL   string
	logger        zerolog.Logger
}

// NewVisitProcessingService creates a new visit processing service
func NewVisitProcessingService(
	repo repositories.VisitRepository,
	transcription providers.TranscriptionProvider,
	summarization providers.SummarizationProvider,
	eventBus providers.EventBus,
	cfg config.PipelineConfig,
	callbackURL string,
	logger zerolog.Logger,
) *VisitProcessingService {
	return &VisitProcessingService{
		repo:          repo,
		transcription: transcription,
		summarization: summarization,
		eventBus:      eventBus,
		cfg:           cfg,
		callbackURL:   callbackURL,
		logger:        logger.With().Str("component", "visit_processing").Logger(),
	}
}

// Submit moves a pending visit into transcribing once its audio is available.
// Redundant finalize events are rejected: a visit with a transcription job
// already outstanding (or already past transcription) never gets a second
// external job.
func (s *VisitProcessingService) Submit(ctx context.Context, visitID, audioURL string) error {
	visit, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return err
	}

	if visit.TranscriptionID != "" {
		switch visit.ProcessingStatus {
		case entities.ProcessingStatusTranscribing,
			entities.ProcessingStatusSummarizing,
			entities.ProcessingStatusCompleted:
			return apperrors.NewConflictError(
				fmt.Sprintf("visit %s already has an outstanding submission", visitID))
		}
	}
	if visit.ProcessingStatus != entities.ProcessingStatusPending {
		return apperrors.NewConflictError(
			fmt.Sprintf("visit %s is not pending (current: %s)", visitID, visit.ProcessingStatus))
	}

	jobID, err := s.transcription.Submit(ctx, audioURL, s.callbackURL)
	if err != nil {
		return apperrors.NewExternalError("failed to submit transcription job", err)
	}

	now := time.Now()
	applied, err := s.repo.UpdateWhereProcessingStatus(ctx, visitID, entities.ProcessingStatusPending, repositories.VisitUpdate{
		ProcessingStatus:         repositories.Set(entities.ProcessingStatusTranscribing),
		Status:                   repositories.Set(entities.VisitStatusProcessing),
		ErrorMessage:             repositories.Clear[string](),
		AudioURL:                 repositories.Set(audioURL),
		TranscriptionID:          repositories.Set(jobID),
		TranscriptionSubmittedAt: repositories.Set(now),
		RetryCountDelta:          1,
	})
	if err != nil {
		return err
	}
	if !applied {
		// Lost the race to another submission. The job we created is now an
		// orphan; its eventual webhook will be discarded on job ID mismatch.
		s.logger.Warn().Str("visit_id", visitID).Str("job_id", jobID).
			Msg("submission raced a concurrent transition, discarding")
		return apperrors.NewConflictError(
			fmt.Sprintf("visit %s changed state during submission", visitID))
	}

	s.logger.Info().Str("visit_id", visitID).Str("job_id", jobID).Msg("transcription submitted")
	s.publishEvent(ctx, visitID, entities.VisitEventStatusChanged,
		entities.ProcessingStatusTranscribing, entities.VisitStatusProcessing)

	return nil
}

// HandleTranscriptionCompleted moves transcribing → summarizing when the
// external service reports a finished job, then runs summarization. A webhook
// carrying a job ID that no longer matches the visit belongs to a superseded
// submission and is discarded.
func (s *VisitProcessingService) HandleTranscriptionCompleted(ctx context.Context, visitID, jobID string, result *entities.TranscriptionResult) error {
	visit, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return err
	}

	if visit.TranscriptionID != jobID {
		s.logger.Warn().Str("visit_id", visitID).
			Str("webhook_job_id", jobID).
			Str("current_job_id", visit.TranscriptionID).
			Msg("discarding transcription result for superseded job")
		return nil
	}

	if result.Status == entities.TranscriptionJobError {
		return s.failVisit(ctx, visitID, entities.ProcessingStatusTranscribing,
			fmt.Sprintf("transcription failed: %s", result.ErrorMessage))
	}
	if result.Status != entities.TranscriptionJobCompleted {
		return apperrors.NewValidationError(
			fmt.Sprintf("unexpected transcription status %s for visit %s", result.Status, visitID))
	}

	transcriptText := result.Text
	if transcriptText == "" {
		transcriptText = FormatTranscript(result.Segments)
	}

	now := time.Now()
	applied, err := s.repo.UpdateWhereProcessingStatus(ctx, visitID, entities.ProcessingStatusTranscribing, repositories.VisitUpdate{
		ProcessingStatus:       repositories.Set(entities.ProcessingStatusSummarizing),
		Transcript:             repositories.Set(result.Segments),
		TranscriptText:         repositories.Set(transcriptText),
		SummarizationStartedAt: repositories.Set(now),
	})
	if err != nil {
		return err
	}
	if !applied {
		// Duplicate webhook delivery, or the sweeper got here first.
		s.logger.Info().Str("visit_id", visitID).Msg("transcription completion already applied")
		return nil
	}

	s.publishEvent(ctx, visitID, entities.VisitEventStatusChanged,
		entities.ProcessingStatusSummarizing, entities.VisitStatusProcessing)

	return s.runSummarization(ctx, visitID, transcriptText)
}

// StartSummarization re-runs summarization for a visit already holding a
// transcript. Used by manual retry and sweeper recovery.
func (s *VisitProcessingService) StartSummarization(ctx context.Context, visitID string) error {
	visit, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return err
	}
	if !visit.HasTranscript() {
		return apperrors.NewValidationError(
			fmt.Sprintf("visit %s has no transcript to summarize", visitID))
	}

	transcriptText := visit.TranscriptText
	if transcriptText == "" {
		transcriptText = FormatTranscript(visit.Transcript)
	}

	now := time.Now()
	if err := s.repo.Update(ctx, visitID, repositories.VisitUpdate{
		ProcessingStatus:       repositories.Set(entities.ProcessingStatusSummarizing),
		Status:                 repositories.Set(entities.VisitStatusProcessing),
		SummarizationStartedAt: repositories.Set(now),
	}); err != nil {
		return err
	}

	return s.runSummarization(ctx, visitID, transcriptText)
}

// runSummarization invokes the summarization provider and applies the result
// through a guarded summarizing → completed transition.
func (s *VisitProcessingService) runSummarization(ctx context.Context, visitID, transcriptText string) error {
	if s.summarization == nil {
		return apperrors.NewExternalError("summarization provider is not configured", nil)
	}

	summary, err := s.summarization.Summarize(ctx, transcriptText)
	if err != nil {
		// Leave the visit in summarizing with the start marker cleared so the
		// sweeper (or a manual retry) can trigger another attempt.
		s.logger.Error().Err(err).Str("visit_id", visitID).Msg("summarization failed")
		_ = s.repo.Update(ctx, visitID, repositories.VisitUpdate{
			SummarizationStartedAt: repositories.Clear[time.Time](),
			ErrorMessage:           repositories.Set(fmt.Sprintf("summarization failed: %v", err)),
		})
		return apperrors.NewExternalError("summarization failed", err)
	}

	applied, err := s.repo.UpdateWhereProcessingStatus(ctx, visitID, entities.ProcessingStatusSummarizing, repositories.VisitUpdate{
		ProcessingStatus:       repositories.Set(entities.ProcessingStatusCompleted),
		Status:                 repositories.Set(entities.VisitStatusCompleted),
		ErrorMessage:           repositories.Clear[string](),
		Summary:                repositories.Set(summary.Summary),
		Diagnoses:              repositories.Set(summary.Diagnoses),
		Medications:            repositories.Set(summary.Medications),
		NextSteps:              repositories.Set(summary.NextSteps),
		SummarizationStartedAt: repositories.Clear[time.Time](),
		PostCommitStatus:       repositories.Set(entities.PostCommitStatusNone),
	})
	if err != nil {
		return err
	}
	if !applied {
		s.logger.Info().Str("visit_id", visitID).Msg("summarization result already applied")
		return nil
	}

	s.logger.Info().Str("visit_id", visitID).Msg("visit completed")
	s.publishEvent(ctx, visitID, entities.VisitEventCompleted,
		entities.ProcessingStatusCompleted, entities.VisitStatusCompleted)

	return nil
}

// RetryOutcome is the result of a manual retry request.
type RetryOutcome struct {
	Accepted          bool
	AlreadyProcessing bool
	Path              RetryPath
}

// RequestManualRetry handles a user-initiated retry of a failed or stuck
// visit. Throttled to one per minimum interval (a RATE_LIMITED error
// carrying the remaining wait); rejected while a stage is actively
// processing. Prior result fields are cleared so stale content cannot leak
// into the new attempt.
func (s *VisitProcessingService) RequestManualRetry(ctx context.Context, visitID string) (*RetryOutcome, error) {
	visit, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}

	if wait := RetryWaitSeconds(visit.LastRetryAt, time.Now(), s.cfg.ManualRetryMinInterval); wait > 0 {
		return nil, apperrors.NewRateLimitedError(
			fmt.Sprintf("retry requested too soon, wait %d seconds", wait), wait)
	}

	switch visit.ProcessingStatus {
	case entities.ProcessingStatusTranscribing, entities.ProcessingStatusSummarizing:
		return &RetryOutcome{AlreadyProcessing: true}, nil
	}

	path := ResolveRetryPath(visit)
	now := time.Now()

	switch path {
	case RetryPathSummarize:
		if err := s.repo.Update(ctx, visitID, repositories.VisitUpdate{
			ProcessingStatus:       repositories.Set(entities.ProcessingStatusSummarizing),
			Status:                 repositories.Set(entities.VisitStatusProcessing),
			ErrorMessage:           repositories.Clear[string](),
			Summary:                repositories.Clear[string](),
			Diagnoses:              repositories.Clear[[]string](),
			Medications:            repositories.Clear[[]string](),
			NextSteps:              repositories.Clear[[]string](),
			SummarizationStartedAt: repositories.Set(now),
			LastRetryAt:            repositories.Set(now),
			RetryCountDelta:        1,
		}); err != nil {
			return nil, err
		}

		s.publishEvent(ctx, visitID, entities.VisitEventStatusChanged,
			entities.ProcessingStatusSummarizing, entities.VisitStatusProcessing)

		transcriptText := visit.TranscriptText
		if transcriptText == "" {
			transcriptText = FormatTranscript(visit.Transcript)
		}
		if err := s.runSummarization(ctx, visitID, transcriptText); err != nil {
			s.logger.Error().Err(err).Str("visit_id", visitID).Msg("retry summarization failed")
		}

	case RetryPathFull:
		if visit.AudioURL == "" {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("visit %s has no audio to transcribe", visitID))
		}

		jobID, err := s.transcription.Submit(ctx, visit.AudioURL, s.callbackURL)
		if err != nil {
			return nil, apperrors.NewExternalError("failed to resubmit transcription job", err)
		}

		if err := s.repo.Update(ctx, visitID, repositories.VisitUpdate{
			ProcessingStatus:         repositories.Set(entities.ProcessingStatusTranscribing),
			Status:                   repositories.Set(entities.VisitStatusProcessing),
			ErrorMessage:             repositories.Clear[string](),
			TranscriptionID:          repositories.Set(jobID),
			TranscriptionSubmittedAt: repositories.Set(now),
			Transcript:               repositories.Clear[[]entities.TranscriptSegment](),
			TranscriptText:           repositories.Clear[string](),
			Summary:                  repositories.Clear[string](),
			Diagnoses:                repositories.Clear[[]string](),
			Medications:              repositories.Clear[[]string](),
			NextSteps:                repositories.Clear[[]string](),
			SummarizationStartedAt:   repositories.Clear[time.Time](),
			LastRetryAt:              repositories.Set(now),
			RetryCountDelta:          1,
		}); err != nil {
			return nil, err
		}

		s.publishEvent(ctx, visitID, entities.VisitEventStatusChanged,
			entities.ProcessingStatusTranscribing, entities.VisitStatusProcessing)
	}

	s.logger.Info().Str("visit_id", visitID).Str("path", string(path)).Msg("manual retry accepted")

	return &RetryOutcome{Accepted: true, Path: path}, nil
}

// failVisit applies a guarded transition to failed from the given stage.
func (s *VisitProcessingService) failVisit(ctx context.Context, visitID string, from entities.ProcessingStatus, message string) error {
	applied, err := s.repo.UpdateWhereProcessingStatus(ctx, visitID, from, repositories.VisitUpdate{
		ProcessingStatus:       repositories.Set(entities.ProcessingStatusFailed),
		Status:                 repositories.Set(entities.VisitStatusFailed),
		ErrorMessage:           repositories.Set(message),
		SummarizationStartedAt: repositories.Clear[time.Time](),
	})
	if err != nil {
		return err
	}
	if applied {
		s.logger.Warn().Str("visit_id", visitID).Str("from", string(from)).Str("reason", message).
			Msg("visit failed")
		s.publishEvent(ctx, visitID, entities.VisitEventFailed,
			entities.ProcessingStatusFailed, entities.VisitStatusFailed)
	}
	return nil
}

// FailVisit exposes the guarded fail transition to the sweeper.
func (s *VisitProcessingService) FailVisit(ctx context.Context, visitID string, from entities.ProcessingStatus, message string) error {
	return s.failVisit(ctx, visitID, from, message)
}

func (s *VisitProcessingService) publishEvent(ctx context.Context, visitID string, eventType entities.VisitEventType, processing entities.ProcessingStatus, status entities.VisitStatus) {
	if s.eventBus == nil {
		return
	}

	event := &entities.VisitEvent{
		ID:               uuid.New().String(),
		Type:             eventType,
		VisitID:          visitID,
		ProcessingStatus: processing,
		Status:           status,
		Timestamp:        time.Now(),
	}

	channels := []string{providers.EventChannelVisitUpdates, providers.GetVisitChannel(visitID)}
	if eventType == entities.VisitEventCompleted {
		channels = append(channels, providers.EventChannelVisitCompleted)
	}
	for _, channel := range channels {
		if err := s.eventBus.Publish(ctx, channel, event); err != nil {
			s.logger.Error().Err(err).Str("channel", channel).Msg("failed to publish visit event")
		}
	}
}

// FormatTranscript renders diarized segments as speaker-labelled lines.
func FormatTranscript(segments []entities.TranscriptSegment) string {
	var b strings.Builder
	for i, seg := range segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		if seg.Speaker != "" {
			b.WriteString(seg.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

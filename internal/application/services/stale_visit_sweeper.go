package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/providers"
	"github.com/visitscribe/backend/internal/domain/repositories"
	"github.com/visitscribe/backend/internal/infrastructure/observability"
	"github.com/visitscribe/backend/pkg/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const sweeperLockName = "stale-visit-sweeper"

// StaleVisitSweeper is a periodic job that repairs visits stuck mid-pipeline:
// transcriptions whose webhook never arrived and summarizations that died
// mid-flight. It must run as a single instance system-wide, enforced with a
// distributed lock, so two sweeps never double-apply a recovery.
type StaleVisitSweeper struct {
	repo          repositories.VisitRepository
	transcription providers.TranscriptionProvider
	processing    *VisitProcessingService
	locks         providers.LockProvider
	cfg           config.PipelineConfig
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// NewStaleVisitSweeper creates a new stale visit sweeper
func NewStaleVisitSweeper(
	repo repositories.VisitRepository,
	transcription providers.TranscriptionProvider,
	processing *VisitProcessingService,
	locks providers.LockProvider,
	cfg config.PipelineConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *StaleVisitSweeper {
	return &StaleVisitSweeper{
		repo:          repo,
		transcription: transcription,
		processing:    processing,
		locks:         locks,
		cfg:           cfg,
		metrics:       metrics,
		logger:        logger.With().Str("component", "stale_visit_sweeper").Logger(),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *StaleVisitSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.SweepInterval).Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	StaleTranscribing int
	StaleSummarizing  int
	Retried           int
	Failed            int
}

// SweepOnce runs a single sweep pass under the singleton lock. A failure on
// one visit never aborts the rest of the sweep.
func (s *StaleVisitSweeper) SweepOnce(ctx context.Context) SweepStats {
	var stats SweepStats

	acquired, err := s.locks.Acquire(ctx, sweeperLockName, s.cfg.SweepInterval)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to acquire sweeper lock")
		return stats
	}
	if !acquired {
		s.logger.Debug().Msg("another sweeper instance holds the lock, skipping")
		return stats
	}
	defer func() {
		if err := s.locks.Release(ctx, sweeperLockName); err != nil {
			s.logger.Error().Err(err).Msg("failed to release sweeper lock")
		}
	}()

	now := time.Now()

	transcribing, err := s.repo.ListStaleProcessing(ctx,
		entities.ProcessingStatusTranscribing, now.Add(-s.cfg.TranscribingStaleAfter), 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("stale transcribing scan failed")
	}
	stats.StaleTranscribing = len(transcribing)
	for _, visit := range transcribing {
		retried, failed := s.recoverTranscribing(ctx, visit, now)
		if retried {
			stats.Retried++
		}
		if failed {
			stats.Failed++
		}
	}

	summarizing, err := s.repo.ListStaleProcessing(ctx,
		entities.ProcessingStatusSummarizing, now.Add(-s.cfg.SummarizingStaleAfter), 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("stale summarizing scan failed")
	}
	stats.StaleSummarizing = len(summarizing)
	for _, visit := range summarizing {
		retried, failed := s.recoverSummarizing(ctx, visit)
		if retried {
			stats.Retried++
		}
		if failed {
			stats.Failed++
		}
	}

	s.recordStats(ctx, stats)
	s.logger.Info().
		Int("stale_transcribing", stats.StaleTranscribing).
		Int("stale_summarizing", stats.StaleSummarizing).
		Int("retried", stats.Retried).
		Int("failed", stats.Failed).
		Msg("sweep complete")

	return stats
}

// recoverTranscribing repairs one visit stuck in transcribing. Returns
// whether the visit was retried and whether it was failed.
func (s *StaleVisitSweeper) recoverTranscribing(ctx context.Context, visit *entities.Visit, now time.Time) (retried, failed bool) {
	logger := s.logger.With().Str("visit_id", visit.ID).Logger()

	// Past the hard wait ceiling, the job is treated as permanently lost no
	// matter what the external service claims.
	if now.Sub(visit.StageReferenceTime()) > s.cfg.TranscriptionWaitCeiling {
		if err := s.processing.FailVisit(ctx, visit.ID, entities.ProcessingStatusTranscribing,
			fmt.Sprintf("transcription exceeded %s wait ceiling", s.cfg.TranscriptionWaitCeiling)); err != nil {
			logger.Error().Err(err).Msg("failed to apply wait ceiling failure")
			return false, false
		}
		return false, true
	}

	jobStatus := entities.TranscriptionJobStatus("")
	var result *entities.TranscriptionResult
	if visit.TranscriptionID != "" {
		var err error
		result, err = s.transcription.Poll(ctx, visit.TranscriptionID)
		if err != nil {
			// Can't reach the service: drop the stale job reference and put
			// the visit back in line for resubmission.
			logger.Warn().Err(err).Msg("transcription poll failed, resetting to pending")
			return s.resetToPending(ctx, visit, logger), false
		}
		jobStatus = result.Status
	}

	mode := ResolveTranscribingRecovery(visit.RetryCount, visit.TranscriptionID != "", jobStatus, s.cfg.MaxRetries)
	switch mode {
	case RecoveryFailMaxRetries:
		if err := s.processing.FailVisit(ctx, visit.ID, entities.ProcessingStatusTranscribing,
			fmt.Sprintf("transcription retries exhausted (%d)", visit.RetryCount)); err != nil {
			logger.Error().Err(err).Msg("failed to apply max-retries failure")
			return false, false
		}
		return false, true

	case RecoveryRetryPending:
		return s.resetToPending(ctx, visit, logger), false

	case RecoveryResumeSummarize:
		logger.Info().Msg("transcription finished without webhook, resuming")
		if err := s.processing.HandleTranscriptionCompleted(ctx, visit.ID, visit.TranscriptionID, result); err != nil {
			logger.Error().Err(err).Msg("failed to resume stalled transcription")
			return false, false
		}
		return true, false

	case RecoveryMarkFailed:
		if err := s.processing.FailVisit(ctx, visit.ID, entities.ProcessingStatusTranscribing,
			fmt.Sprintf("transcription failed: %s", result.ErrorMessage)); err != nil {
			logger.Error().Err(err).Msg("failed to apply transcription failure")
			return false, false
		}
		return false, true

	default: // RecoveryPollAgain
		logger.Debug().Str("job_status", string(jobStatus)).Msg("transcription still in flight")
		return false, false
	}
}

// recoverSummarizing repairs one visit stuck in summarizing.
func (s *StaleVisitSweeper) recoverSummarizing(ctx context.Context, visit *entities.Visit) (retried, failed bool) {
	logger := s.logger.With().Str("visit_id", visit.ID).Logger()

	mode := ResolveSummarizingRecovery(visit.RetryCount, s.cfg.MaxRetries)
	if mode == RecoveryFailMaxRetries {
		if err := s.processing.FailVisit(ctx, visit.ID, entities.ProcessingStatusSummarizing,
			fmt.Sprintf("summarization retries exhausted (%d)", visit.RetryCount)); err != nil {
			logger.Error().Err(err).Msg("failed to apply max-retries failure")
			return false, false
		}
		return false, true
	}

	// Clear the stale start marker and count the recovery, then kick off a
	// fresh summarization attempt.
	applied, err := s.repo.UpdateWhereProcessingStatus(ctx, visit.ID, entities.ProcessingStatusSummarizing, repositories.VisitUpdate{
		SummarizationStartedAt: repositories.Clear[time.Time](),
		RetryCountDelta:        1,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to reset summarization marker")
		return false, false
	}
	if !applied {
		return false, false
	}

	if err := s.processing.StartSummarization(ctx, visit.ID); err != nil {
		logger.Error().Err(err).Msg("recovered summarization attempt failed")
	}
	return true, false
}

// resetToPending drops the stale job reference and returns the visit to the
// head of the pipeline, counting the recovery against its retry budget.
func (s *StaleVisitSweeper) resetToPending(ctx context.Context, visit *entities.Visit, logger zerolog.Logger) bool {
	applied, err := s.repo.UpdateWhereProcessingStatus(ctx, visit.ID, entities.ProcessingStatusTranscribing, repositories.VisitUpdate{
		ProcessingStatus:         repositories.Set(entities.ProcessingStatusPending),
		TranscriptionID:          repositories.Clear[string](),
		TranscriptionSubmittedAt: repositories.Clear[time.Time](),
		RetryCountDelta:          1,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to reset visit to pending")
		return false
	}
	return applied
}

func (s *StaleVisitSweeper) recordStats(ctx context.Context, stats SweepStats) {
	if s.metrics == nil {
		return
	}
	s.metrics.SweepStaleVisits.Add(ctx, int64(stats.StaleTranscribing),
		metric.WithAttributes(attribute.String("stage", "transcribing")))
	s.metrics.SweepStaleVisits.Add(ctx, int64(stats.StaleSummarizing),
		metric.WithAttributes(attribute.String("stage", "summarizing")))
	s.metrics.SweepRetriedVisits.Add(ctx, int64(stats.Retried))
	s.metrics.SweepFailedVisits.Add(ctx, int64(stats.Failed))
}

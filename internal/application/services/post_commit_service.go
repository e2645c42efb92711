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
)

// PostCommitService orchestrates the side-effect operations that run after a
// visit completes. Each operation retries independently with exponential
// backoff; once an operation exhausts its attempt budget the visit drops into
// partial_failure and lands in the operator escalation queue. The user never
// sees any of this: their visit already reads as completed.
type PostCommitService struct {
	repo       repositories.VisitRepository
	operations []PostCommitOperation
	locks      providers.LockProvider
	eventBus   providers.EventBus
	cfg        config.PipelineConfig
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

// NewPostCommitService creates a new post-commit orchestrator
func NewPostCommitService(
	repo repositories.VisitRepository,
	operations []PostCommitOperation,
	locks providers.LockProvider,
	eventBus providers.EventBus,
	cfg config.PipelineConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PostCommitService {
	return &PostCommitService{
		repo:       repo,
		operations: operations,
		locks:      locks,
		eventBus:   eventBus,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With().Str("component", "post_commit").Logger(),
	}
}

// Run processes completed visits until the context is cancelled. Completion
// events give a prompt first pass; the periodic due scan picks up retries and
// any visit whose event was lost.
func (s *PostCommitService) Run(ctx context.Context) {
	events, err := s.eventBus.Subscribe(ctx, providers.EventChannelVisitCompleted)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to completion events, relying on due scan")
	}

	ticker := time.NewTicker(s.cfg.PostCommitScanInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("scan_interval", s.cfg.PostCommitScanInterval).Msg("post-commit orchestrator started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("post-commit orchestrator stopped")
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := s.processVisitID(ctx, event.VisitID); err != nil {
				s.logger.Error().Err(err).Str("visit_id", event.VisitID).Msg("event-driven pass failed")
			}
		case <-ticker.C:
			s.ScanDue(ctx)
		}
	}
}

// ScanDue finds visits with unfinished post-commit work and runs whatever
// operations are due. A failure on one visit never blocks the rest.
func (s *PostCommitService) ScanDue(ctx context.Context) {
	visits, err := s.repo.ListPostCommitDue(ctx, time.Now(), 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("post-commit due scan failed")
		return
	}

	for _, visit := range visits {
		if err := s.ProcessVisit(ctx, visit); err != nil {
			s.logger.Error().Err(err).Str("visit_id", visit.ID).Msg("post-commit pass failed")
		}
	}
}

func (s *PostCommitService) processVisitID(ctx context.Context, visitID string) error {
	visit, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return err
	}
	return s.ProcessVisit(ctx, visit)
}

// ProcessVisit runs one pass over the visit's operations: every operation
// that is not yet completed, not escalated, and past its backoff gets one
// attempt. Attempts for the same (visit, operation) pair are serialized with
// a lock; attempts for different pairs may run concurrently across workers.
func (s *PostCommitService) ProcessVisit(ctx context.Context, visit *entities.Visit) error {
	if visit.ProcessingStatus != entities.ProcessingStatusCompleted {
		return nil
	}
	if visit.PostCommit.Status == entities.PostCommitStatusCompleted {
		return nil
	}

	now := time.Now()
	for _, op := range s.operations {
		name := op.Name()

		if visit.PostCommit.OperationCompleted(name) {
			continue
		}

		attempts := visit.PostCommit.OperationAttempts[name]
		if attempts >= s.cfg.MaxOperationAttempts {
			// Escalated; automatic retries stopped pending operator action.
			continue
		}
		if nextRetry, ok := visit.PostCommit.OperationNextRetry[name]; ok && now.Before(nextRetry) {
			continue
		}

		lockName := fmt.Sprintf("postcommit:%s:%s", visit.ID, name)
		acquired, err := s.locks.Acquire(ctx, lockName, 5*time.Minute)
		if err != nil {
			s.logger.Error().Err(err).Str("visit_id", visit.ID).Str("operation", name).
				Msg("failed to acquire operation lock")
			continue
		}
		if !acquired {
			continue
		}

		opErr := op.Execute(ctx, visit)
		if err := s.recordAttempt(ctx, visit, name, opErr); err != nil {
			s.logger.Error().Err(err).Str("visit_id", visit.ID).Str("operation", name).
				Msg("failed to record operation attempt")
		}

		if err := s.locks.Release(ctx, lockName); err != nil {
			s.logger.Error().Err(err).Str("operation", name).Msg("failed to release operation lock")
		}
	}

	return s.finalizeStatus(ctx, visit)
}

// recordAttempt applies the bookkeeping for one operation attempt to the
// in-memory visit and persists it.
func (s *PostCommitService) recordAttempt(ctx context.Context, visit *entities.Visit, name string, opErr error) error {
	state := &visit.PostCommit
	now := time.Now()

	if opErr == nil {
		state.CompletedOperations = appendUnique(state.CompletedOperations, name)
		state.FailedOperations = removeOperation(state.FailedOperations, name)
		delete(state.OperationNextRetry, name)

		s.logger.Info().Str("visit_id", visit.ID).Str("operation", name).Msg("operation completed")
		s.recordMetric(ctx, name, true)

		return s.repo.Update(ctx, visit.ID, repositories.VisitUpdate{
			PostCommitCompletedOperations: repositories.Set(state.CompletedOperations),
			PostCommitFailedOperations:    repositories.Set(state.FailedOperations),
			PostCommitOperationNextRetry:  repositories.Set(state.OperationNextRetry),
		})
	}

	if state.OperationAttempts == nil {
		state.OperationAttempts = make(map[string]int)
	}
	if state.OperationNextRetry == nil {
		state.OperationNextRetry = make(map[string]time.Time)
	}

	state.OperationAttempts[name]++
	attempts := state.OperationAttempts[name]
	state.FailedOperations = appendUnique(state.FailedOperations, name)
	state.CompletedOperations = removeOperation(state.CompletedOperations, name)
	state.OperationNextRetry[name] = now.Add(
		BackoffDuration(attempts, s.cfg.InitialBackoffMinutes, s.cfg.MaxBackoffMinutes))

	update := repositories.VisitUpdate{
		PostCommitCompletedOperations: repositories.Set(state.CompletedOperations),
		PostCommitFailedOperations:    repositories.Set(state.FailedOperations),
		PostCommitOperationAttempts:   repositories.Set(state.OperationAttempts),
		PostCommitOperationNextRetry:  repositories.Set(state.OperationNextRetry),
	}

	logger := s.logger.With().
		Str("visit_id", visit.ID).
		Str("operation", name).
		Int("attempts", attempts).
		Logger()

	s.recordMetric(ctx, name, false)

	switch {
	case attempts >= s.cfg.MaxOperationAttempts:
		// Terminal for automatic retries. The visit surfaces in the operator
		// escalation queue until someone resolves it.
		update.PostCommitStatus = repositories.Set(entities.PostCommitStatusPartialFailure)
		state.Status = entities.PostCommitStatusPartialFailure
		if state.EscalatedAt == nil {
			update.PostCommitEscalatedAt = repositories.Set(now)
			state.EscalatedAt = &now
		}
		logger.Error().Err(opErr).Msg("operation retries exhausted, escalating")
		if s.metrics != nil {
			s.metrics.OperationEscalations.Add(ctx, 1)
		}

	case attempts >= s.cfg.AlertThreshold:
		// Early warning only: retries keep going automatically.
		logger.Warn().Err(opErr).Msg("operation at risk, approaching retry limit")
		if s.metrics != nil {
			s.metrics.OperationAlerts.Add(ctx, 1)
		}

	default:
		logger.Warn().Err(opErr).
			Time("next_retry_at", state.OperationNextRetry[name]).
			Msg("operation failed, retry scheduled")
	}

	return s.repo.Update(ctx, visit.ID, update)
}

// finalizeStatus marks the visit's post-commit work completed once every
// operation has succeeded.
func (s *PostCommitService) finalizeStatus(ctx context.Context, visit *entities.Visit) error {
	if visit.PostCommit.Status == entities.PostCommitStatusCompleted {
		return nil
	}
	if !visit.PostCommit.AllOperationsCompleted() {
		return nil
	}

	visit.PostCommit.Status = entities.PostCommitStatusCompleted
	s.logger.Info().Str("visit_id", visit.ID).Msg("post-commit operations completed")

	return s.repo.Update(ctx, visit.ID, repositories.VisitUpdate{
		PostCommitStatus:           repositories.Set(entities.PostCommitStatusCompleted),
		PostCommitFailedOperations: repositories.Set([]string{}),
	})
}

func (s *PostCommitService) recordMetric(ctx context.Context, operation string, succeeded bool) {
	observability.RecordOperationAttempt(ctx, s.metrics, operation, succeeded)
}

func appendUnique(ops []string, name string) []string {
	for _, op := range ops {
		if op == name {
			return ops
		}
	}
	return append(ops, name)
}

func removeOperation(ops []string, name string) []string {
	out := ops[:0]
	for _, op := range ops {
		if op != name {
			out = append(out, op)
		}
	}
	return out
}

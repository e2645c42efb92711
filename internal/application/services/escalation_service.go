package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/repositories"
	"github.com/visitscribe/backend/pkg/config"
	apperrors "github.com/visitscribe/backend/pkg/errors"
)

// EscalationService is the operator workflow over post-commit incidents.
// Escalations exist only while a visit sits in partial_failure; resolving one
// records who closed it and why, and reopening returns it to an open state
// for another look.
type EscalationService struct {
	repo   repositories.VisitRepository
	cfg    config.PipelineConfig
	logger zerolog.Logger
}

// NewEscalationService creates a new escalation service
func NewEscalationService(repo repositories.VisitRepository, cfg config.PipelineConfig, logger zerolog.Logger) *EscalationService {
	return &EscalationService{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With().Str("component", "escalations").Logger(),
	}
}

// EscalationSummary is one entry in the operator queue: the escalated visit
// plus any of its operations past the alert threshold but still retrying.
type EscalationSummary struct {
	*entities.Visit
	AtRiskOperations []string `json:"at_risk_operations"`
}

// List returns escalated visits, paginated by escalation time.
func (s *EscalationService) List(ctx context.Context, cursor string, limit int) ([]EscalationSummary, string, error) {
	visits, nextCursor, err := s.repo.ListEscalated(ctx, cursor, limit)
	if err != nil {
		return nil, "", err
	}

	summaries := make([]EscalationSummary, 0, len(visits))
	for _, visit := range visits {
		summaries = append(summaries, EscalationSummary{
			Visit:            visit,
			AtRiskOperations: visit.PostCommit.AtRiskOperations(s.cfg.AlertThreshold, s.cfg.MaxOperationAttempts),
		})
	}
	return summaries, nextCursor, nil
}

// Acknowledge records that an operator has seen the incident. A repeated
// acknowledge is a no-op returning the current state.
func (s *EscalationService) Acknowledge(ctx context.Context, visitID, operator string) (*entities.Visit, error) {
	visit, err := s.getEscalated(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit.PostCommit.EscalationAcknowledgedAt != nil {
		return visit, nil
	}

	now := time.Now()
	if err := s.repo.Update(ctx, visitID, repositories.VisitUpdate{
		PostCommitEscalationAcknowledgedAt: repositories.Set(now),
		PostCommitEscalationAcknowledgedBy: repositories.Set(operator),
	}); err != nil {
		return nil, err
	}

	s.logger.Info().Str("visit_id", visitID).Str("operator", operator).Msg("escalation acknowledged")
	return s.repo.GetByID(ctx, visitID)
}

// Resolve closes the incident with a note. An unacknowledged incident is
// acknowledged implicitly by the resolving operator. A repeated resolve is a
// no-op returning the current state.
func (s *EscalationService) Resolve(ctx context.Context, visitID, operator, note string) (*entities.Visit, error) {
	visit, err := s.getEscalated(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit.PostCommit.EscalationResolvedAt != nil {
		return visit, nil
	}

	now := time.Now()
	update := repositories.VisitUpdate{
		PostCommitEscalationResolvedAt:     repositories.Set(now),
		PostCommitEscalationResolvedBy:     repositories.Set(operator),
		PostCommitEscalationResolutionNote: repositories.Set(note),
	}
	if visit.PostCommit.EscalationAcknowledgedAt == nil {
		update.PostCommitEscalationAcknowledgedAt = repositories.Set(now)
		update.PostCommitEscalationAcknowledgedBy = repositories.Set(operator)
	}

	if err := s.repo.Update(ctx, visitID, update); err != nil {
		return nil, err
	}

	s.logger.Info().Str("visit_id", visitID).Str("operator", operator).Msg("escalation resolved")
	return s.repo.GetByID(ctx, visitID)
}

// Reopen clears acknowledgment and resolution and restarts the escalation
// clock, returning the incident to an open state.
func (s *EscalationService) Reopen(ctx context.Context, visitID string) (*entities.Visit, error) {
	if _, err := s.getEscalated(ctx, visitID); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.repo.Update(ctx, visitID, repositories.VisitUpdate{
		PostCommitEscalatedAt:              repositories.Set(now),
		PostCommitEscalationAcknowledgedAt: repositories.Clear[time.Time](),
		PostCommitEscalationAcknowledgedBy: repositories.Clear[string](),
		PostCommitEscalationResolvedAt:     repositories.Clear[time.Time](),
		PostCommitEscalationResolvedBy:     repositories.Clear[string](),
		PostCommitEscalationResolutionNote: repositories.Clear[string](),
	}); err != nil {
		return nil, err
	}

	s.logger.Info().Str("visit_id", visitID).Msg("escalation reopened")
	return s.repo.GetByID(ctx, visitID)
}

func (s *EscalationService) getEscalated(ctx context.Context, visitID string) (*entities.Visit, error) {
	visit, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit.PostCommit.Status != entities.PostCommitStatusPartialFailure || visit.PostCommit.EscalatedAt == nil {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("visit %s has no open escalation", visitID))
	}
	return visit, nil
}

package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/visitscribe/backend/internal/application/services"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/repositories"
	apperrors "github.com/visitscribe/backend/pkg/errors"
)

func newEscalatedVisit() *entities.Visit {
	escalatedAt := time.Now().Add(-time.Hour)
	return &entities.Visit{
		ID:               "visit-1",
		ProcessingStatus: entities.ProcessingStatusCompleted,
		PostCommit: entities.PostCommitState{
			Status:           entities.PostCommitStatusPartialFailure,
			FailedOperations: []string{entities.OperationSendCaregiverEmails},
			EscalatedAt:      &escalatedAt,
		},
	}
}

func TestEscalationService_List(t *testing.T) {
	ctx := context.Background()

	repo := new(MockVisitRepository)
	service := services.NewEscalationService(repo, testPipelineConfig(), zerolog.Nop())

	visit := newEscalatedVisit()
	visit.PostCommit.OperationAttempts = map[string]int{
		entities.OperationSendCaregiverEmails: 5,
		entities.OperationRunAnalysis:         3,
	}
	repo.On("ListEscalated", mock.Anything, "", 20).Return([]*entities.Visit{visit}, "", nil)

	summaries, nextCursor, err := service.List(ctx, "", 20)

	assert.NoError(t, err)
	assert.Empty(t, nextCursor)
	assert.Len(t, summaries, 1)
	// sendCaregiverEmails is out of attempts; only runAnalysis is still retrying.
	assert.Equal(t, []string{entities.OperationRunAnalysis}, summaries[0].AtRiskOperations)
	repo.AssertExpectations(t)
}

func TestEscalationService_Acknowledge(t *testing.T) {
	ctx := context.Background()

	t.Run("records operator and timestamp", func(t *testing.T) {
		repo := new(MockVisitRepository)
		service := services.NewEscalationService(repo, testPipelineConfig(), zerolog.Nop())

		visit := newEscalatedVisit()
		repo.On("GetByID", mock.Anything, "visit-1").Return(visit, nil)
		repo.On("Update", mock.Anything, "visit-1",
			mock.MatchedBy(func(u repositories.VisitUpdate) bool {
				return u.PostCommitEscalationAcknowledgedAt.IsSet() &&
					u.PostCommitEscalationAcknowledgedBy.Value() == "ops-jamie"
			})).Return(nil)

		_, err := service.Acknowledge(ctx, "visit-1", "ops-jamie")

		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("repeated acknowledge is a no-op", func(t *testing.T) {
		repo := new(MockVisitRepository)
		service := services.NewEscalationService(repo, testPipelineConfig(), zerolog.Nop())

		visit := newEscalatedVisit()
		ackAt := time.Now()
		visit.PostCommit.EscalationAcknowledgedAt = &ackAt
		repo.On("GetByID", mock.Anything, "visit-1").Return(visit, nil)

		got, err := service.Acknowledge(ctx, "visit-1", "ops-jamie")

		assert.NoError(t, err)
		assert.Equal(t, &ackAt, got.PostCommit.EscalationAcknowledgedAt)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects visit without open escalation", func(t *testing.T) {
		repo := new(MockVisitRepository)
		service := services.NewEscalationService(repo, testPipelineConfig(), zerolog.Nop())

		repo.On("GetByID", mock.Anything, "visit-1").Return(&entities.Visit{
			ID:         "visit-1",
			PostCommit: entities.PostCommitState{Status: entities.PostCommitStatusCompleted},
		}, nil)

		_, err := service.Acknowledge(ctx, "visit-1", "ops-jamie")

		var appErr *apperrors.AppError
		assert.ErrorAs(t, err, &appErr)
		assert.Equal(t, apperrors.ErrorTypeValidation, appErr.Type)
	})
}

func TestEscalationService_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("backfills acknowledgment when missing", func(t *testing.T) {
		repo := new(MockVisitRepository)
		service := services.NewEscalationService(repo, testPipelineConfig(), zerolog.Nop())

		visit := newEscalatedVisit()
		repo.On("GetByID", mock.Anything, "visit-1").Return(visit, nil)
		repo.On("Update", mock.Anything, "visit-1",
			mock.MatchedBy(func(u repositories.VisitUpdate) bool {
				return u.PostCommitEscalationResolvedBy.Value() == "ops-jamie" &&
					u.PostCommitEscalationResolutionNote.Value() == "emails sent manually" &&
					u.PostCommitEscalationAcknowledgedBy.Value() == "ops-jamie"
			})).Return(nil)

		_, err := service.Resolve(ctx, "visit-1", "ops-jamie", "emails sent manually")

		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("keeps existing acknowledgment", func(t *testing.T) {
		repo := new(MockVisitRepository)
		service := services.NewEscalationService(repo, testPipelineConfig(), zerolog.Nop())

		visit := newEscalatedVisit()
		ackAt := time.Now().Add(-30 * time.Minute)
		visit.PostCommit.EscalationAcknowledgedAt = &ackAt
		visit.PostCommit.EscalationAcknowledgedBy = "ops-sam"
		repo.On("GetByID", mock.Anything, "visit-1").Return(visit, nil)
		repo.On("Update", mock.Anything, "visit-1",
			mock.MatchedBy(func(u repositories.VisitUpdate) bool {
				return u.PostCommitEscalationResolvedAt.IsSet() &&
					!u.PostCommitEscalationAcknowledgedAt.IsSet()
			})).Return(nil)

		_, err := service.Resolve(ctx, "visit-1", "ops-jamie", "fixed")

		assert.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("repeated resolve is a no-op", func(t *testing.T) {
		repo := new(MockVisitRepository)
		service := services.NewEscalationService(repo, testPipelineConfig(), zerolog.Nop())

		visit := newEscalatedVisit()
		resolvedAt := time.Now()
		visit.PostCommit.EscalationResolvedAt = &resolvedAt
		visit.PostCommit.EscalationResolutionNote = "emails sent manually"
		repo.On("GetByID", mock.Anything, "visit-1").Return(visit, nil)

		got, err := service.Resolve(ctx, "visit-1", "ops-jamie", "again")

		assert.NoError(t, err)
		assert.Equal(t, "emails sent manually", got.PostCommit.EscalationResolutionNote)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestEscalationService_Reopen(t *testing.T) {
	repo := new(MockVisitRepository)
	service := services.NewEscalationService(repo, testPipelineConfig(), zerolog.Nop())

	visit := newEscalatedVisit()
	ackAt := time.Now().Add(-30 * time.Minute)
	resolvedAt := time.Now().Add(-10 * time.Minute)
	visit.PostCommit.EscalationAcknowledgedAt = &ackAt
	visit.PostCommit.EscalationAcknowledgedBy = "ops-sam"
	visit.PostCommit.EscalationResolvedAt = &resolvedAt
	visit.PostCommit.EscalationResolvedBy = "ops-sam"
	visit.PostCommit.EscalationResolutionNote = "thought it was fixed"

	repo.On("GetByID", mock.Anything, "visit-1").Return(visit, nil)
	repo.On("Update", mock.Anything, "visit-1",
		mock.MatchedBy(func(u repositories.VisitUpdate) bool {
			return u.PostCommitEscalatedAt.IsSet() &&
				u.PostCommitEscalationAcknowledgedAt.IsClear() &&
				u.PostCommitEscalationAcknowledgedBy.IsClear() &&
				u.PostCommitEscalationResolvedAt.IsClear() &&
				u.PostCommitEscalationResolvedBy.IsClear() &&
				u.PostCommitEscalationResolutionNote.IsClear()
		})).Return(nil)

	_, err := service.Reopen(context.Background(), "visit-1")

	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

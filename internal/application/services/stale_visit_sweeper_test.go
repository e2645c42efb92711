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
)

func newSweeper(repo *MockVisitRepository, transcription *MockTranscriptionProvider, locks *MockLockProvider) (*services.StaleVisitSweeper, *MockSummarizationProvider) {
	summarization := new(MockSummarizationProvider)
	processing := services.NewVisitProcessingService(
		repo, transcription, summarization, nil, testPipelineConfig(), testCallbackURL, zerolog.Nop())
	sweeper := services.NewStaleVisitSweeper(
		repo, transcription, processing, locks, testPipelineConfig(), nil, zerolog.Nop())
	return sweeper, summarization
}

func expectSweeperLock(locks *MockLockProvider) {
	locks.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	locks.On("Release", mock.Anything, mock.Anything).Return(nil)
}

func staleSince(age time.Duration) *time.Time {
	t := time.Now().Add(-age)
	return &t
}

func TestStaleVisitSweeper_SkipsWhenLockHeld(t *testing.T) {
	repo := new(MockVisitRepository)
	locks := new(MockLockProvider)
	sweeper, _ := newSweeper(repo, new(MockTranscriptionProvider), locks)

	locks.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	stats := sweeper.SweepOnce(context.Background())

	assert.Zero(t, stats.StaleTranscribing)
	repo.AssertNotCalled(t, "ListStaleProcessing", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStaleVisitSweeper_ResetsVisitWithoutJob(t *testing.T) {
	repo := new(MockVisitRepository)
	transcription := new(MockTranscriptionProvider)
	locks := new(MockLockProvider)
	sweeper, _ := newSweeper(repo, transcription, locks)
	expectSweeperLock(locks)

	// Stuck 35 minutes with no transcription job ever submitted.
	visit := &entities.Visit{
		ID:                       "visit-1",
		ProcessingStatus:         entities.ProcessingStatusTranscribing,
		TranscriptionSubmittedAt: staleSince(35 * time.Minute),
		UpdatedAt:                time.Now().Add(-35 * time.Minute),
		RetryCount:               0,
	}

	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusTranscribing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{visit}, nil)
	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusSummarizing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{}, nil)
	repo.On("UpdateWhereProcessingStatus", mock.Anything, "visit-1", entities.ProcessingStatusTranscribing,
		mock.MatchedBy(func(u repositories.VisitUpdate) bool {
			return u.ProcessingStatus.Value() == entities.ProcessingStatusPending &&
				u.TranscriptionID.IsClear() &&
				u.RetryCountDelta == 1
		})).Return(true, nil)

	stats := sweeper.SweepOnce(context.Background())

	assert.Equal(t, 1, stats.StaleTranscribing)
	assert.Equal(t, 1, stats.Retried)
	assert.Zero(t, stats.Failed)
	transcription.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestStaleVisitSweeper_ResumesCompletedTranscription(t *testing.T) {
	repo := new(MockVisitRepository)
	transcription := new(MockTranscriptionProvider)
	locks := new(MockLockProvider)
	sweeper, summarization := newSweeper(repo, transcription, locks)
	expectSweeperLock(locks)

	visit := &entities.Visit{
		ID:                       "visit-1",
		ProcessingStatus:         entities.ProcessingStatusTranscribing,
		TranscriptionID:          "job-x",
		TranscriptionSubmittedAt: staleSince(35 * time.Minute),
		UpdatedAt:                time.Now().Add(-35 * time.Minute),
		RetryCount:               1,
	}

	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusTranscribing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{visit}, nil)
	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusSummarizing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{}, nil)
	transcription.On("Poll", mock.Anything, "job-x").Return(&entities.TranscriptionResult{
		JobID:  "job-x",
		Status: entities.TranscriptionJobCompleted,
		Text:   "Patient reports...",
	}, nil)
	summarization.On("Summarize", mock.Anything, "Patient reports...").
		Return(&entities.VisitSummary{Summary: "Stable."}, nil)

	// The resume path replays the completion transition.
	repo.On("GetByID", mock.Anything, "visit-1").Return(visit, nil)
	repo.On("UpdateWhereProcessingStatus", mock.Anything, "visit-1", entities.ProcessingStatusTranscribing,
		mock.MatchedBy(func(u repositories.VisitUpdate) bool {
			return u.ProcessingStatus.Value() == entities.ProcessingStatusSummarizing &&
				u.TranscriptText.Value() == "Patient reports..."
		})).Return(true, nil)
	repo.On("UpdateWhereProcessingStatus", mock.Anything, "visit-1", entities.ProcessingStatusSummarizing,
		mock.Anything).Return(true, nil)

	stats := sweeper.SweepOnce(context.Background())

	assert.Equal(t, 1, stats.Retried)
	repo.AssertExpectations(t)
	summarization.AssertExpectations(t)
}

func TestStaleVisitSweeper_FailsTranscribingAtMaxRetries(t *testing.T) {
	repo := new(MockVisitRepository)
	transcription := new(MockTranscriptionProvider)
	locks := new(MockLockProvider)
	sweeper, _ := newSweeper(repo, transcription, locks)
	expectSweeperLock(locks)

	visit := &entities.Visit{
		ID:                       "visit-1",
		ProcessingStatus:         entities.ProcessingStatusTranscribing,
		TranscriptionID:          "job-x",
		TranscriptionSubmittedAt: staleSince(35 * time.Minute),
		UpdatedAt:                time.Now().Add(-35 * time.Minute),
		RetryCount:               3,
	}

	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusTranscribing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{visit}, nil)
	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusSummarizing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{}, nil)
	transcription.On("Poll", mock.Anything, "job-x").Return(&entities.TranscriptionResult{
		JobID:  "job-x",
		Status: entities.TranscriptionJobProcessing,
	}, nil)
	repo.On("UpdateWhereProcessingStatus", mock.Anything, "visit-1", entities.ProcessingStatusTranscribing,
		mock.MatchedBy(func(u repositories.VisitUpdate) bool {
			return u.ProcessingStatus.Value() == entities.ProcessingStatusFailed
		})).Return(true, nil)

	stats := sweeper.SweepOnce(context.Background())

	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Retried)
}

func TestStaleVisitSweeper_FailsPastWaitCeiling(t *testing.T) {
	repo := new(MockVisitRepository)
	transcription := new(MockTranscriptionProvider)
	locks := new(MockLockProvider)
	sweeper, _ := newSweeper(repo, transcription, locks)
	expectSweeperLock(locks)

	// Only 1 retry used, but waiting 61 minutes: the ceiling wins.
	visit := &entities.Visit{
		ID:                       "visit-1",
		ProcessingStatus:         entities.ProcessingStatusTranscribing,
		TranscriptionID:          "job-x",
		TranscriptionSubmittedAt: staleSince(61 * time.Minute),
		UpdatedAt:                time.Now().Add(-61 * time.Minute),
		RetryCount:               1,
	}

	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusTranscribing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{visit}, nil)
	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusSummarizing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{}, nil)
	repo.On("UpdateWhereProcessingStatus", mock.Anything, "visit-1", entities.ProcessingStatusTranscribing,
		mock.MatchedBy(func(u repositories.VisitUpdate) bool {
			return u.ProcessingStatus.Value() == entities.ProcessingStatusFailed
		})).Return(true, nil)

	stats := sweeper.SweepOnce(context.Background())

	assert.Equal(t, 1, stats.Failed)
	transcription.AssertNotCalled(t, "Poll", mock.Anything, mock.Anything)
}

func TestStaleVisitSweeper_FailsSummarizingAtMaxRetries(t *testing.T) {
	repo := new(MockVisitRepository)
	locks := new(MockLockProvider)
	sweeper, _ := newSweeper(repo, new(MockTranscriptionProvider), locks)
	expectSweeperLock(locks)

	visit := &entities.Visit{
		ID:                     "visit-1",
		ProcessingStatus:       entities.ProcessingStatusSummarizing,
		SummarizationStartedAt: staleSince(20 * time.Minute),
		UpdatedAt:              time.Now().Add(-20 * time.Minute),
		RetryCount:             3,
	}

	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusTranscribing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{}, nil)
	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusSummarizing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{visit}, nil)
	repo.On("UpdateWhereProcessingStatus", mock.Anything, "visit-1", entities.ProcessingStatusSummarizing,
		mock.MatchedBy(func(u repositories.VisitUpdate) bool {
			return u.ProcessingStatus.Value() == entities.ProcessingStatusFailed &&
				u.Status.Value() == entities.VisitStatusFailed
		})).Return(true, nil)

	stats := sweeper.SweepOnce(context.Background())

	assert.Equal(t, 1, stats.Failed)
	repo.AssertExpectations(t)
}

func TestStaleVisitSweeper_IsolatesPerVisitFailures(t *testing.T) {
	repo := new(MockVisitRepository)
	transcription := new(MockTranscriptionProvider)
	locks := new(MockLockProvider)
	sweeper, _ := newSweeper(repo, transcription, locks)
	expectSweeperLock(locks)

	broken := &entities.Visit{
		ID:                       "visit-broken",
		ProcessingStatus:         entities.ProcessingStatusTranscribing,
		TranscriptionSubmittedAt: staleSince(35 * time.Minute),
		UpdatedAt:                time.Now().Add(-35 * time.Minute),
	}
	healthy := &entities.Visit{
		ID:                       "visit-healthy",
		ProcessingStatus:         entities.ProcessingStatusTranscribing,
		TranscriptionSubmittedAt: staleSince(35 * time.Minute),
		UpdatedAt:                time.Now().Add(-35 * time.Minute),
	}

	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusTranscribing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{broken, healthy}, nil)
	repo.On("ListStaleProcessing", mock.Anything, entities.ProcessingStatusSummarizing, mock.Anything, mock.Anything).
		Return([]*entities.Visit{}, nil)

	// First reset blows up; the second visit must still be processed.
	repo.On("UpdateWhereProcessingStatus", mock.Anything, "visit-broken", entities.ProcessingStatusTranscribing,
		mock.Anything).Return(false, assert.AnError)
	repo.On("UpdateWhereProcessingStatus", mock.Anything, "visit-healthy", entities.ProcessingStatusTranscribing,
		mock.Anything).Return(true, nil)

	stats := sweeper.SweepOnce(context.Background())

	assert.Equal(t, 2, stats.StaleTranscribing)
	assert.Equal(t, 1, stats.Retried)
	repo.AssertExpectations(t)
}

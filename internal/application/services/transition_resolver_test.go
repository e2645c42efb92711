package services_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/visitscribe/backend/internal/application/services"
	"github.com/visitscribe/backend/internal/domain/entities"
)

func TestResolveRetryPath(t *testing.T) {
	t.Run("transcript text present resumes at summarize", func(t *testing.T) {
		visit := &entities.Visit{TranscriptText: "Patient reports improvement."}
		assert.Equal(t, services.RetryPathSummarize, services.ResolveRetryPath(visit))
	})

	t.Run("segments without text still resume at summarize", func(t *testing.T) {
		visit := &entities.Visit{Transcript: []entities.TranscriptSegment{{Speaker: "A", Text: "Hello"}}}
		assert.Equal(t, services.RetryPathSummarize, services.ResolveRetryPath(visit))
	})

	t.Run("no transcript requires full reprocessing", func(t *testing.T) {
		assert.Equal(t, services.RetryPathFull, services.ResolveRetryPath(&entities.Visit{}))
	})
}

func TestResolveTranscribingRecovery(t *testing.T) {
	const maxRetries = 3

	tests := []struct {
		name      string
		retries   int
		hasJobID  bool
		jobStatus entities.TranscriptionJobStatus
		want      services.RecoveryMode
	}{
		{
			name:    "max retries wins over everything",
			retries: 3, hasJobID: true, jobStatus: entities.TranscriptionJobCompleted,
			want: services.RecoveryFailMaxRetries,
		},
		{
			name:    "no job submitted goes back to pending",
			retries: 0, hasJobID: false,
			want: services.RecoveryRetryPending,
		},
		{
			name:    "completed externally resumes summarizing",
			retries: 1, hasJobID: true, jobStatus: entities.TranscriptionJobCompleted,
			want: services.RecoveryResumeSummarize,
		},
		{
			name:    "external error marks failed",
			retries: 1, hasJobID: true, jobStatus: entities.TranscriptionJobError,
			want: services.RecoveryMarkFailed,
		},
		{
			name:    "queued keeps waiting",
			retries: 1, hasJobID: true, jobStatus: entities.TranscriptionJobQueued,
			want: services.RecoveryPollAgain,
		},
		{
			name:    "processing keeps waiting",
			retries: 2, hasJobID: true, jobStatus: entities.TranscriptionJobProcessing,
			want: services.RecoveryPollAgain,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := services.ResolveTranscribingRecovery(tt.retries, tt.hasJobID, tt.jobStatus, maxRetries)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveSummarizingRecovery(t *testing.T) {
	assert.Equal(t, services.RecoveryFailMaxRetries, services.ResolveSummarizingRecovery(3, 3))
	assert.Equal(t, services.RecoveryFailMaxRetries, services.ResolveSummarizingRecovery(5, 3))
	assert.Equal(t, services.RecoveryRetrySummarizing, services.ResolveSummarizingRecovery(2, 3))
	assert.Equal(t, services.RecoveryRetrySummarizing, services.ResolveSummarizingRecovery(0, 3))
}

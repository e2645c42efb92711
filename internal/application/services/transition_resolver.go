package services

import (
	"github.com/visitscribe/backend/internal/domain/entities"
)

// RetryPath tells a retry where to resume the pipeline.
type RetryPath string

const (
	// RetryPathSummarize resumes at summarization using the stored transcript
	RetryPathSummarize RetryPath = "summarize"
	// RetryPathFull resubmits the audio to the transcription service
	RetryPathFull RetryPath = "full"
)

// RecoveryMode is the sweeper's decision for one stuck visit.
type RecoveryMode string

const (
	RecoveryFailMaxRetries   RecoveryMode = "fail_max_retries"
	RecoveryRetryPending     RecoveryMode = "retry_pending"
	RecoveryResumeSummarize  RecoveryMode = "resume_summarizing"
	RecoveryMarkFailed       RecoveryMode = "mark_failed"
	RecoveryPollAgain        RecoveryMode = "poll_again"
	RecoveryRetrySummarizing RecoveryMode = "retry"
)

// ResolveRetryPath decides where a manual retry resumes. A stored transcript
// means transcription already succeeded and only summarization needs redoing.
func ResolveRetryPath(visit *entities.Visit) RetryPath {
	if visit.HasTranscript() {
		return RetryPathSummarize
	}
	return RetryPathFull
}

// ResolveTranscribingRecovery decides what to do with a visit stuck in
// transcribing. Precedence: the retry budget is checked first, then whether a
// job was ever submitted, then the external job status.
func ResolveTranscribingRecovery(retryCount int, hasTranscriptionID bool, jobStatus entities.TranscriptionJobStatus, maxRetries int) RecoveryMode {
	if retryCount >= maxRetries {
		return RecoveryFailMaxRetries
	}
	if !hasTranscriptionID {
		return RecoveryRetryPending
	}
	switch jobStatus {
	case entities.TranscriptionJobCompleted:
		return RecoveryResumeSummarize
	case entities.TranscriptionJobError:
		return RecoveryMarkFailed
	default:
		return RecoveryPollAgain
	}
}

// ResolveSummarizingRecovery decides what to do with a visit stuck in
// summarizing.
func ResolveSummarizingRecovery(retryCount, maxRetries int) RecoveryMode {
	if retryCount >= maxRetries {
		return RecoveryFailMaxRetries
	}
	return RecoveryRetrySummarizing
}

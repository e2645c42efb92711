package entities

import (
	"time"
)

// ProcessingStatus represents the pipeline stage of a visit recording
type ProcessingStatus string

const (
	ProcessingStatusPending      ProcessingStatus = "pending"
	ProcessingStatusTranscribing ProcessingStatus = "transcribing"
	ProcessingStatusSummarizing  ProcessingStatus = "summarizing"
	ProcessingStatusCompleted    ProcessingStatus = "completed"
	ProcessingStatusFailed       ProcessingStatus = "failed"
)

// VisitStatus is the coarse user-facing mirror of ProcessingStatus
type VisitStatus string

const (
	VisitStatusRecording  VisitStatus = "recording"
	VisitStatusProcessing VisitStatus = "processing"
	VisitStatusCompleted  VisitStatus = "completed"
	VisitStatusFailed     VisitStatus = "failed"
)

// TranscriptSegment is one speaker turn of a diarized transcript
type TranscriptSegment struct {
	Speaker string `json:"speaker"`
	StartMs int    `json:"start_ms"`
	EndMs   int    `json:"end_ms"`
	Text    string `json:"text"`
}

// Visit represents a recorded clinical encounter moving through the pipeline
type Visit struct {
	ID          string `json:"id" db:"id"`
	UserID      string `json:"user_id" db:"user_id"`
	PatientName string `json:"patient_name" db:"patient_name"`

	Status           VisitStatus      `json:"status" db:"status"`
	ProcessingStatus ProcessingStatus `json:"processing_status" db:"processing_status"`
	ErrorMessage     string           `json:"error_message,omitempty" db:"error_message"`

	AudioURL                 string     `json:"audio_url,omitempty" db:"audio_url"`
	TranscriptionID          string     `json:"transcription_id,omitempty" db:"transcription_id"`
	TranscriptionSubmittedAt *time.Time `json:"transcription_submitted_at,omitempty" db:"transcription_submitted_at"`

	Transcript     []TranscriptSegment `json:"transcript,omitempty" db:"transcript"`
	TranscriptText string              `json:"transcript_text,omitempty" db:"transcript_text"`

	SummarizationStartedAt *time.Time `json:"summarization_started_at,omitempty" db:"summarization_started_at"`
	Summary                string     `json:"summary,omitempty" db:"summary"`
	Diagnoses              []string   `json:"diagnoses,omitempty" db:"diagnoses"`
	Medications            []string   `json:"medications,omitempty" db:"medications"`
	NextSteps              []string   `json:"next_steps,omitempty" db:"next_steps"`

	RetryCount  int        `json:"retry_count" db:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty" db:"last_retry_at"`

	CaregiverEmails []string `json:"caregiver_emails,omitempty" db:"caregiver_emails"`
	PushToken       string   `json:"push_token,omitempty" db:"push_token"`

	PostCommit PostCommitState `json:"post_commit"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasTranscript reports whether a usable transcript is already stored, which
// lets a retry skip straight to summarization.
func (v *Visit) HasTranscript() bool {
	return v.TranscriptText != "" || len(v.Transcript) > 0
}

// StageReferenceTime returns the timestamp staleness is measured against for
// the current processing stage.
func (v *Visit) StageReferenceTime() time.Time {
	switch v.ProcessingStatus {
	case ProcessingStatusTranscribing:
		if v.TranscriptionSubmittedAt != nil {
			return *v.TranscriptionSubmittedAt
		}
	case ProcessingStatusSummarizing:
		if v.SummarizationStartedAt != nil {
			return *v.SummarizationStartedAt
		}
	}
	return v.UpdatedAt
}

// VisitSummary is the structured output of visit summarization
type VisitSummary struct {
	Summary     string   `json:"summary"`
	Diagnoses   []string `json:"diagnoses"`
	Medications []string `json:"medications"`
	NextSteps   []string `json:"next_steps"`
}

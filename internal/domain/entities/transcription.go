package entities

// TranscriptionJobStatus is the status reported by the external
// transcription service for a submitted job.
type TranscriptionJobStatus string

const (
	TranscriptionJobQueued     TranscriptionJobStatus = "queued"
	TranscriptionJobProcessing TranscriptionJobStatus = "processing"
	TranscriptionJobCompleted  TranscriptionJobStatus = "completed"
	TranscriptionJobError      TranscriptionJobStatus = "error"
)

// InFlight reports whether the job is still being worked on by the service.
func (s TranscriptionJobStatus) InFlight() bool {
	return s == TranscriptionJobQueued || s == TranscriptionJobProcessing
}

// TranscriptionResult is the polled state of an external transcription job
type TranscriptionResult struct {
	JobID        string                 `json:"job_id"`
	Status       TranscriptionJobStatus `json:"status"`
	Text         string                 `json:"text,omitempty"`
	Segments     []TranscriptSegment    `json:"segments,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

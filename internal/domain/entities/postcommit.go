package entities

import (
	"time"
)

// PostCommitStatus tracks the aggregate state of a visit's post-commit
// side-effect operations.
type PostCommitStatus string

const (
	PostCommitStatusNone           PostCommitStatus = "none"
	PostCommitStatusPartialFailure PostCommitStatus = "partial_failure"
	PostCommitStatusCompleted      PostCommitStatus = "completed"
)

// Post-commit operation names. The set is fixed; every operation must be
// idempotent because the orchestrator may invoke it more than once per visit.
const (
	OperationSyncMedications      = "syncMedications"
	OperationDeleteTranscript     = "deleteTranscript"
	OperationRunAnalysis          = "runAnalysis"
	OperationSendPushNotification = "sendPushNotification"
	OperationSendCaregiverEmails  = "sendCaregiverEmails"
)

// AllPostCommitOperations lists the fixed operation set in execution order.
func AllPostCommitOperations() []string {
	return []string{
		OperationSyncMedications,
		OperationDeleteTranscript,
		OperationRunAnalysis,
		OperationSendPushNotification,
		OperationSendCaregiverEmails,
	}
}

// PostCommitState holds the orchestrator bookkeeping for one visit. An
// operation name appears in at most one of CompletedOperations or
// FailedOperations at any instant.
type PostCommitState struct {
	Status              PostCommitStatus     `json:"status" db:"post_commit_status"`
	CompletedOperations []string             `json:"completed_operations,omitempty" db:"post_commit_completed_operations"`
	FailedOperations    []string             `json:"failed_operations,omitempty" db:"post_commit_failed_operations"`
	OperationAttempts   map[string]int       `json:"operation_attempts,omitempty" db:"post_commit_operation_attempts"`
	OperationNextRetry  map[string]time.Time `json:"operation_next_retry_at,omitempty" db:"post_commit_operation_next_retry_at"`

	EscalatedAt              *time.Time `json:"escalated_at,omitempty" db:"post_commit_escalated_at"`
	EscalationAcknowledgedAt *time.Time `json:"escalation_acknowledged_at,omitempty" db:"post_commit_escalation_acknowledged_at"`
	EscalationAcknowledgedBy string     `json:"escalation_acknowledged_by,omitempty" db:"post_commit_escalation_acknowledged_by"`
	EscalationResolvedAt     *time.Time `json:"escalation_resolved_at,omitempty" db:"post_commit_escalation_resolved_at"`
	EscalationResolvedBy     string     `json:"escalation_resolved_by,omitempty" db:"post_commit_escalation_resolved_by"`
	EscalationResolutionNote string     `json:"escalation_resolution_note,omitempty" db:"post_commit_escalation_resolution_note"`
}

// OperationCompleted reports whether the named operation has completed.
func (s *PostCommitState) OperationCompleted(name string) bool {
	return containsOperation(s.CompletedOperations, name)
}

// OperationFailed reports whether the named operation is currently failed.
func (s *PostCommitState) OperationFailed(name string) bool {
	return containsOperation(s.FailedOperations, name)
}

// AllOperationsCompleted reports whether every operation in the fixed set is
// present in CompletedOperations.
func (s *PostCommitState) AllOperationsCompleted() bool {
	for _, op := range AllPostCommitOperations() {
		if !s.OperationCompleted(op) {
			return false
		}
	}
	return true
}

// AtRiskOperations returns operations at or past the alert threshold that
// are still retrying automatically (below the max-attempt cutoff).
func (s *PostCommitState) AtRiskOperations(alertThreshold, maxAttempts int) []string {
	var ops []string
	for _, op := range AllPostCommitOperations() {
		attempts := s.OperationAttempts[op]
		if attempts >= alertThreshold && attempts < maxAttempts && !s.OperationCompleted(op) {
			ops = append(ops, op)
		}
	}
	return ops
}

func containsOperation(ops []string, name string) bool {
	for _, op := range ops {
		if op == name {
			return true
		}
	}
	return false
}

package repositories

import (
	"context"
	"time"

	"github.com/visitscribe/backend/internal/domain/entities"
)

// VisitRepository defines the interface for visit data operations
type VisitRepository interface {
	// Create creates a new visit record
	Create(ctx context.Context, visit *entities.Visit) error

	// GetByID retrieves a visit by ID
	GetByID(ctx context.Context, id string) (*entities.Visit, error)

	// Update applies the given partial update unconditionally
	Update(ctx context.Context, id string, update VisitUpdate) error

	// UpdateWhereProcessingStatus applies the update only if the visit is
	// still in the expected processing status. A false return means the
	// precondition failed; transition handlers treat that as a successful
	// no-op, which is what makes retried deliveries idempotent.
	UpdateWhereProcessingStatus(ctx context.Context, id string, expected entities.ProcessingStatus, update VisitUpdate) (bool, error)

	// ListStaleProcessing retrieves visits stuck in the given processing
	// status whose stage reference timestamp is older than the cutoff.
	ListStaleProcessing(ctx context.Context, status entities.ProcessingStatus, cutoff time.Time, limit int) ([]*entities.Visit, error)

	// ListPostCommitDue retrieves completed visits whose post-commit work
	// is still retryable: not finished and not escalated. Per-operation
	// due-ness is decided by the caller.
	ListPostCommitDue(ctx context.Context, now time.Time, limit int) ([]*entities.Visit, error)

	// ListEscalated retrieves visits in post-commit partial failure,
	// cursor-paginated by escalation time then id.
	ListEscalated(ctx context.Context, cursor string, limit int) ([]*entities.Visit, string, error)
}

// Field is an optional update value: the zero value leaves the column
// untouched, Set writes a value, and Clear writes NULL. This replaces the
// sentinel "delete this field" markers used by document stores.
type Field[T any] struct {
	set   bool
	clear bool
	value T
}

// Set returns a Field that writes the given value.
func Set[T any](v T) Field[T] {
	return Field[T]{set: true, value: v}
}

// Clear returns a Field that removes the stored value.
func Clear[T any]() Field[T] {
	return Field[T]{clear: true}
}

// IsSet reports whether the field carries a value to write.
func (f Field[T]) IsSet() bool { return f.set }

// IsClear reports whether the field should be nulled out.
func (f Field[T]) IsClear() bool { return f.clear }

// Value returns the value to write. Only meaningful when IsSet is true.
func (f Field[T]) Value() T { return f.value }

// VisitUpdate is a partial update of a visit record. Absent fields leave the
// stored values unchanged. RetryCountDelta increments retry_count atomically
// in the database rather than writing a read-modified value.
type VisitUpdate struct {
	Status           Field[entities.VisitStatus]
	ProcessingStatus Field[entities.ProcessingStatus]
	ErrorMessage     Field[string]

	AudioURL                 Field[string]
	TranscriptionID          Field[string]
	TranscriptionSubmittedAt Field[time.Time]
	Transcript               Field[[]entities.TranscriptSegment]
	TranscriptText           Field[string]

	SummarizationStartedAt Field[time.Time]
	Summary                Field[string]
	Diagnoses              Field[[]string]
	Medications            Field[[]string]
	NextSteps              Field[[]string]

	RetryCountDelta int
	LastRetryAt     Field[time.Time]

	PostCommitStatus              Field[entities.PostCommitStatus]
	PostCommitCompletedOperations Field[[]string]
	PostCommitFailedOperations    Field[[]string]
	PostCommitOperationAttempts   Field[map[string]int]
	PostCommitOperationNextRetry  Field[map[string]time.Time]

	PostCommitEscalatedAt              Field[time.Time]
	PostCommitEscalationAcknowledgedAt Field[time.Time]
	PostCommitEscalationAcknowledgedBy Field[string]
	PostCommitEscalationResolvedAt     Field[time.Time]
	PostCommitEscalationResolvedBy     Field[string]
	PostCommitEscalationResolutionNote Field[string]
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/lib/pq"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/repositories"
	"github.com/visitscribe/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/visitscribe/backend/pkg/errors"
)

// VisitAdapter implements the VisitRepository interface
type VisitAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewVisitAdapter creates a new visit adapter
func NewVisitAdapter(client *postgres.Client) repositories.VisitRepository {
	return &VisitAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

var visitColumns = []interface{}{
	"id", "user_id", "patient_name", "status", "processing_status", "error_message",
	"audio_url", "transcription_id", "transcription_submitted_at",
	"transcript", "transcript_text",
	"summarization_started_at", "summary", "diagnoses", "medications", "next_steps",
	"retry_count", "last_retry_at",
	"caregiver_emails", "push_token",
	"post_commit_status", "post_commit_completed_operations", "post_commit_failed_operations",
	"post_commit_operation_attempts", "post_commit_operation_next_retry_at",
	"post_commit_escalated_at", "post_commit_escalation_acknowledged_at",
	"post_commit_escalation_acknowledged_by", "post_commit_escalation_resolved_at",
	"post_commit_escalation_resolved_by", "post_commit_escalation_resolution_note",
	"created_at", "updated_at",
}

// Create creates a new visit record
func (a *VisitAdapter) Create(ctx context.Context, visit *entities.Visit) error {
	transcript, err := marshalJSONColumn(visit.Transcript)
	if err != nil {
		return apperrors.NewInternalError("failed to encode transcript", err)
	}
	attempts, err := marshalJSONColumn(visit.PostCommit.OperationAttempts)
	if err != nil {
		return apperrors.NewInternalError("failed to encode operation attempts", err)
	}
	nextRetry, err := marshalJSONColumn(visit.PostCommit.OperationNextRetry)
	if err != nil {
		return apperrors.NewInternalError("failed to encode operation retry times", err)
	}

	status := visit.PostCommit.Status
	if status == "" {
		status = entities.PostCommitStatusNone
	}

	record := goqu.Record{
		"id":                         visit.ID,
		"user_id":                    visit.UserID,
		"patient_name":               visit.PatientName,
		"status":                     visit.Status,
		"processing_status":          visit.ProcessingStatus,
		"error_message":              nullableString(visit.ErrorMessage),
		"audio_url":                  nullableString(visit.AudioURL),
		"transcription_id":           nullableString(visit.TranscriptionID),
		"transcription_submitted_at": visit.TranscriptionSubmittedAt,
		"transcript":                 transcript,
		"transcript_text":            nullableString(visit.TranscriptText),
		"summarization_started_at":   visit.SummarizationStartedAt,
		"summary":                    nullableString(visit.Summary),
		"diagnoses":                  pq.Array(visit.Diagnoses),
		"medications":                pq.Array(visit.Medications),
		"next_steps":                 pq.Array(visit.NextSteps),
		"retry_count":                visit.RetryCount,
		"last_retry_at":              visit.LastRetryAt,
		"caregiver_emails":           pq.Array(visit.CaregiverEmails),
		"push_token":                 nullableString(visit.PushToken),

		"post_commit_status":                     status,
		"post_commit_completed_operations":       pq.Array(visit.PostCommit.CompletedOperations),
		"post_commit_failed_operations":          pq.Array(visit.PostCommit.FailedOperations),
		"post_commit_operation_attempts":         attempts,
		"post_commit_operation_next_retry_at":    nextRetry,
		"post_commit_escalated_at":               visit.PostCommit.EscalatedAt,
		"post_commit_escalation_acknowledged_at": visit.PostCommit.EscalationAcknowledgedAt,
		"post_commit_escalation_acknowledged_by": nullableString(visit.PostCommit.EscalationAcknowledgedBy),
		"post_commit_escalation_resolved_at":     visit.PostCommit.EscalationResolvedAt,
		"post_commit_escalation_resolved_by":     nullableString(visit.PostCommit.EscalationResolvedBy),
		"post_commit_escalation_resolution_note": nullableString(visit.PostCommit.EscalationResolutionNote),

		"created_at": visit.CreatedAt,
		"updated_at": visit.UpdatedAt,
	}

	query, args, err := a.db.Insert("visits").Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError("failed to create visit", err)
	}

	return nil
}

// GetByID retrieves a visit by ID
func (a *VisitAdapter) GetByID(ctx context.Context, id string) (*entities.Visit, error) {
	query, args, err := a.db.Select(visitColumns...).From("visits").
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	visit, err := scanVisit(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("visit with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get visit", err)
	}

	return visit, nil
}

// Update applies the given partial update unconditionally
func (a *VisitAdapter) Update(ctx context.Context, id string, update repositories.VisitUpdate) error {
	record, err := buildVisitUpdateRecord(update)
	if err != nil {
		return err
	}

	query, args, err := a.db.Update("visits").
		Set(record).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update visit", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("visit with id %s not found", id))
	}

	return nil
}

// UpdateWhereProcessingStatus applies the update only when the visit is still
// in the expected processing status. A false return means the precondition
// failed.
func (a *VisitAdapter) UpdateWhereProcessingStatus(ctx context.Context, id string, expected entities.ProcessingStatus, update repositories.VisitUpdate) (bool, error) {
	record, err := buildVisitUpdateRecord(update)
	if err != nil {
		return false, err
	}

	query, args, err := a.db.Update("visits").
		Set(record).
		Where(goqu.Ex{"id": id, "processing_status": expected}).
		ToSQL()
	if err != nil {
		return false, apperrors.NewInternalError("failed to build guarded update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return false, apperrors.NewInternalError("failed to update visit", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}

	return rowsAffected > 0, nil
}

// ListStaleProcessing retrieves visits stuck in the given processing status
// past the cutoff. Staleness is measured against the stage start timestamp,
// falling back to updated_at for records submitted before that column existed.
func (a *VisitAdapter) ListStaleProcessing(ctx context.Context, status entities.ProcessingStatus, cutoff time.Time, limit int) ([]*entities.Visit, error) {
	var stageColumn string
	switch status {
	case entities.ProcessingStatusTranscribing:
		stageColumn = "transcription_submitted_at"
	case entities.ProcessingStatusSummarizing:
		stageColumn = "summarization_started_at"
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("no stale scan defined for status %s", status))
	}

	ds := a.db.Select(visitColumns...).From("visits").
		Where(goqu.Ex{"processing_status": status}).
		Where(goqu.L(fmt.Sprintf("COALESCE(%s, updated_at) < ?", stageColumn), cutoff)).
		Order(goqu.I("updated_at").Asc())

	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	return a.queryVisits(ctx, ds)
}

// ListPostCommitDue retrieves completed visits whose post-commit work is
// still retryable: not finished and not escalated to partial_failure. The
// service decides per operation whether an attempt is actually due; this
// scan only narrows the candidate set.
func (a *VisitAdapter) ListPostCommitDue(ctx context.Context, now time.Time, limit int) ([]*entities.Visit, error) {
	ds := a.db.Select(visitColumns...).From("visits").
		Where(goqu.Ex{"processing_status": entities.ProcessingStatusCompleted}).
		Where(goqu.C("post_commit_status").NotIn(
			entities.PostCommitStatusCompleted, entities.PostCommitStatusPartialFailure)).
		Order(goqu.I("updated_at").Asc())

	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}

	return a.queryVisits(ctx, ds)
}

// ListEscalated retrieves visits in post-commit partial failure, paginated by
// (escalated_at, id) cursor.
func (a *VisitAdapter) ListEscalated(ctx context.Context, cursor string, limit int) ([]*entities.Visit, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	ds := a.db.Select(visitColumns...).From("visits").
		Where(goqu.Ex{"post_commit_status": entities.PostCommitStatusPartialFailure}).
		Order(goqu.I("post_commit_escalated_at").Asc(), goqu.I("id").Asc()).
		Limit(uint(limit) + 1)

	if cursor != "" {
		escalatedAt, id, err := decodeEscalationCursor(cursor)
		if err != nil {
			return nil, "", apperrors.NewValidationError("invalid cursor")
		}
		ds = ds.Where(goqu.L("(post_commit_escalated_at, id) > (?, ?)", escalatedAt, id))
	}

	visits, err := a.queryVisits(ctx, ds)
	if err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(visits) > limit {
		visits = visits[:limit]
		last := visits[len(visits)-1]
		if last.PostCommit.EscalatedAt != nil {
			nextCursor = encodeEscalationCursor(*last.PostCommit.EscalatedAt, last.ID)
		}
	}

	return visits, nextCursor, nil
}

func (a *VisitAdapter) queryVisits(ctx context.Context, ds *goqu.SelectDataset) ([]*entities.Visit, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list visits", err)
	}
	defer rows.Close()

	var visits []*entities.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan visit", err)
		}
		visits = append(visits, visit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate visits", err)
	}

	return visits, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVisit(row rowScanner) (*entities.Visit, error) {
	visit := &entities.Visit{}
	var (
		errorMessage, audioURL, transcriptionID, transcriptText sql.NullString
		summary, pushToken                                      sql.NullString
		transcriptJSON, attemptsJSON, nextRetryJSON             []byte
		diagnoses, medications, nextSteps, caregiverEmails      pq.StringArray
		completedOps, failedOps                                 pq.StringArray
		ackBy, resolvedBy, resolutionNote                       sql.NullString
	)

	err := row.Scan(
		&visit.ID,
		&visit.UserID,
		&visit.PatientName,
		&visit.Status,
		&visit.ProcessingStatus,
		&errorMessage,
		&audioURL,
		&transcriptionID,
		&visit.TranscriptionSubmittedAt,
		&transcriptJSON,
		&transcriptText,
		&visit.SummarizationStartedAt,
		&summary,
		&diagnoses,
		&medications,
		&nextSteps,
		&visit.RetryCount,
		&visit.LastRetryAt,
		&caregiverEmails,
		&pushToken,
		&visit.PostCommit.Status,
		&completedOps,
		&failedOps,
		&attemptsJSON,
		&nextRetryJSON,
		&visit.PostCommit.EscalatedAt,
		&visit.PostCommit.EscalationAcknowledgedAt,
		&ackBy,
		&visit.PostCommit.EscalationResolvedAt,
		&resolvedBy,
		&resolutionNote,
		&visit.CreatedAt,
		&visit.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	visit.ErrorMessage = errorMessage.String
	visit.AudioURL = audioURL.String
	visit.TranscriptionID = transcriptionID.String
	visit.TranscriptText = transcriptText.String
	visit.Summary = summary.String
	visit.PushToken = pushToken.String
	visit.Diagnoses = diagnoses
	visit.Medications = medications
	visit.NextSteps = nextSteps
	visit.CaregiverEmails = caregiverEmails
	visit.PostCommit.CompletedOperations = completedOps
	visit.PostCommit.FailedOperations = failedOps
	visit.PostCommit.EscalationAcknowledgedBy = ackBy.String
	visit.PostCommit.EscalationResolvedBy = resolvedBy.String
	visit.PostCommit.EscalationResolutionNote = resolutionNote.String

	if len(transcriptJSON) > 0 {
		if err := json.Unmarshal(transcriptJSON, &visit.Transcript); err != nil {
			return nil, fmt.Errorf("failed to decode transcript: %w", err)
		}
	}
	if len(attemptsJSON) > 0 {
		if err := json.Unmarshal(attemptsJSON, &visit.PostCommit.OperationAttempts); err != nil {
			return nil, fmt.Errorf("failed to decode operation attempts: %w", err)
		}
	}
	if len(nextRetryJSON) > 0 {
		if err := json.Unmarshal(nextRetryJSON, &visit.PostCommit.OperationNextRetry); err != nil {
			return nil, fmt.Errorf("failed to decode operation retry times: %w", err)
		}
	}

	return visit, nil
}

// buildVisitUpdateRecord translates the update DTO into column assignments.
// Unset fields produce no assignment; cleared fields write NULL; the retry
// count delta becomes an in-database increment.
func buildVisitUpdateRecord(update repositories.VisitUpdate) (goqu.Record, error) {
	record := goqu.Record{
		"updated_at": time.Now(),
	}

	applyStringField(record, "error_message", update.ErrorMessage)
	applyStringField(record, "audio_url", update.AudioURL)
	applyStringField(record, "transcription_id", update.TranscriptionID)
	applyStringField(record, "transcript_text", update.TranscriptText)
	applyStringField(record, "summary", update.Summary)
	applyStringField(record, "post_commit_escalation_acknowledged_by", update.PostCommitEscalationAcknowledgedBy)
	applyStringField(record, "post_commit_escalation_resolved_by", update.PostCommitEscalationResolvedBy)
	applyStringField(record, "post_commit_escalation_resolution_note", update.PostCommitEscalationResolutionNote)

	applyTimeField(record, "transcription_submitted_at", update.TranscriptionSubmittedAt)
	applyTimeField(record, "summarization_started_at", update.SummarizationStartedAt)
	applyTimeField(record, "last_retry_at", update.LastRetryAt)
	applyTimeField(record, "post_commit_escalated_at", update.PostCommitEscalatedAt)
	applyTimeField(record, "post_commit_escalation_acknowledged_at", update.PostCommitEscalationAcknowledgedAt)
	applyTimeField(record, "post_commit_escalation_resolved_at", update.PostCommitEscalationResolvedAt)

	if update.Status.IsSet() {
		record["status"] = update.Status.Value()
	}
	if update.ProcessingStatus.IsSet() {
		record["processing_status"] = update.ProcessingStatus.Value()
	}
	if update.PostCommitStatus.IsSet() {
		record["post_commit_status"] = update.PostCommitStatus.Value()
	}

	if update.Transcript.IsSet() {
		encoded, err := marshalJSONColumn(update.Transcript.Value())
		if err != nil {
			return nil, apperrors.NewInternalError("failed to encode transcript", err)
		}
		record["transcript"] = encoded
	} else if update.Transcript.IsClear() {
		record["transcript"] = nil
	}

	applyArrayField(record, "diagnoses", update.Diagnoses)
	applyArrayField(record, "medications", update.Medications)
	applyArrayField(record, "next_steps", update.NextSteps)
	applyArrayField(record, "post_commit_completed_operations", update.PostCommitCompletedOperations)
	applyArrayField(record, "post_commit_failed_operations", update.PostCommitFailedOperations)

	if update.PostCommitOperationAttempts.IsSet() {
		encoded, err := marshalJSONColumn(update.PostCommitOperationAttempts.Value())
		if err != nil {
			return nil, apperrors.NewInternalError("failed to encode operation attempts", err)
		}
		record["post_commit_operation_attempts"] = encoded
	} else if update.PostCommitOperationAttempts.IsClear() {
		record["post_commit_operation_attempts"] = nil
	}

	if update.PostCommitOperationNextRetry.IsSet() {
		encoded, err := marshalJSONColumn(update.PostCommitOperationNextRetry.Value())
		if err != nil {
			return nil, apperrors.NewInternalError("failed to encode operation retry times", err)
		}
		record["post_commit_operation_next_retry_at"] = encoded
	} else if update.PostCommitOperationNextRetry.IsClear() {
		record["post_commit_operation_next_retry_at"] = nil
	}

	if update.RetryCountDelta != 0 {
		record["retry_count"] = goqu.L("retry_count + ?", update.RetryCountDelta)
	}

	return record, nil
}

func applyStringField(record goqu.Record, column string, field repositories.Field[string]) {
	if field.IsSet() {
		record[column] = field.Value()
	} else if field.IsClear() {
		record[column] = nil
	}
}

func applyTimeField(record goqu.Record, column string, field repositories.Field[time.Time]) {
	if field.IsSet() {
		record[column] = field.Value()
	} else if field.IsClear() {
		record[column] = nil
	}
}

func applyArrayField(record goqu.Record, column string, field repositories.Field[[]string]) {
	if field.IsSet() {
		record[column] = pq.Array(field.Value())
	} else if field.IsClear() {
		record[column] = pq.Array([]string{})
	}
}

func marshalJSONColumn(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func encodeEscalationCursor(escalatedAt time.Time, id string) string {
	return fmt.Sprintf("%d:%s", escalatedAt.UnixNano(), id)
}

func decodeEscalationCursor(cursor string) (time.Time, string, error) {
	parts := strings.SplitN(cursor, ":", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return time.Unix(0, nanos), parts[1], nil
}

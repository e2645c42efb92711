package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/providers"
	"github.com/visitscribe/backend/internal/infrastructure/notifications"
)

// PostCommitOperation is one named side effect run after a visit completes.
// Every operation must be idempotent: the orchestrator retries failed
// operations and may re-invoke one whose previous attempt partially applied.
type PostCommitOperation interface {
	Name() string
	Execute(ctx context.Context, visit *entities.Visit) error
}

// medicationSyncOperation mirrors the visit's extracted medication list into
// the medication_syncs table consumed by the patient's medication tracker.
type medicationSyncOperation struct {
	db *sqlx.DB
}

// NewMedicationSyncOperation creates the syncMedications operation
func NewMedicationSyncOperation(db *sqlx.DB) PostCommitOperation {
	return &medicationSyncOperation{db: db}
}

func (o *medicationSyncOperation) Name() string { return entities.OperationSyncMedications }

func (o *medicationSyncOperation) Execute(ctx context.Context, visit *entities.Visit) error {
	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin medication sync: %w", err)
	}
	defer tx.Rollback()

	// Replace-then-insert keeps reruns idempotent.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM medication_syncs WHERE visit_id = $1`, visit.ID); err != nil {
		return fmt.Errorf("failed to clear prior medication sync: %w", err)
	}

	now := time.Now()
	for _, medication := range visit.Medications {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO medication_syncs (id, visit_id, user_id, medication, synced_at)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), visit.ID, visit.UserID, medication, now); err != nil {
			return fmt.Errorf("failed to sync medication %q: %w", medication, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit medication sync: %w", err)
	}
	return nil
}

// deleteTranscriptOperation removes the raw transcript held by the external
// transcription service once the local copy is durable. Audio and transcripts
// are PHI; the external service should not retain them longer than needed.
type deleteTranscriptOperation struct {
	transcription providers.TranscriptionProvider
}

// NewDeleteTranscriptOperation creates the deleteTranscript operation
func NewDeleteTranscriptOperation(transcription providers.TranscriptionProvider) PostCommitOperation {
	return &deleteTranscriptOperation{transcription: transcription}
}

func (o *deleteTranscriptOperation) Name() string { return entities.OperationDeleteTranscript }

func (o *deleteTranscriptOperation) Execute(ctx context.Context, visit *entities.Visit) error {
	if visit.TranscriptionID == "" {
		// Nothing was ever submitted externally, so nothing to delete.
		return nil
	}
	return o.transcription.Delete(ctx, visit.TranscriptionID)
}

// runAnalysisOperation computes simple conversation statistics from the
// transcript and stores them for the longitudinal dashboard.
type runAnalysisOperation struct {
	db *sqlx.DB
}

// NewRunAnalysisOperation creates the runAnalysis operation
func NewRunAnalysisOperation(db *sqlx.DB) PostCommitOperation {
	return &runAnalysisOperation{db: db}
}

func (o *runAnalysisOperation) Name() string { return entities.OperationRunAnalysis }

func (o *runAnalysisOperation) Execute(ctx context.Context, visit *entities.Visit) error {
	wordCount := len(strings.Fields(visit.TranscriptText))
	speakerTurns := len(visit.Transcript)
	durationMs := 0
	if n := len(visit.Transcript); n > 0 {
		durationMs = visit.Transcript[n-1].EndMs - visit.Transcript[0].StartMs
	}

	_, err := o.db.ExecContext(ctx, `
		INSERT INTO visit_analyses (id, visit_id, word_count, speaker_turns, duration_ms, diagnosis_count, medication_count, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (visit_id) DO UPDATE SET
			word_count = EXCLUDED.word_count,
			speaker_turns = EXCLUDED.speaker_turns,
			duration_ms = EXCLUDED.duration_ms,
			diagnosis_count = EXCLUDED.diagnosis_count,
			medication_count = EXCLUDED.medication_count,
			analyzed_at = EXCLUDED.analyzed_at`,
		uuid.New().String(), visit.ID, wordCount, speakerTurns, durationMs,
		len(visit.Diagnoses), len(visit.Medications), time.Now())
	if err != nil {
		return fmt.Errorf("failed to store visit analysis: %w", err)
	}
	return nil
}

// sendPushNotificationOperation tells the patient their summary is ready.
type sendPushNotificationOperation struct {
	push providers.PushSender
	log  *notifications.DeliveryLog
}

// NewSendPushNotificationOperation creates the sendPushNotification operation
func NewSendPushNotificationOperation(push providers.PushSender, log *notifications.DeliveryLog) PostCommitOperation {
	return &sendPushNotificationOperation{push: push, log: log}
}

func (o *sendPushNotificationOperation) Name() string { return entities.OperationSendPushNotification }

func (o *sendPushNotificationOperation) Execute(ctx context.Context, visit *entities.Visit) error {
	if visit.PushToken == "" {
		// No registered device; treat as delivered rather than retrying a
		// notification that can never land.
		return nil
	}
	if o.push == nil {
		return fmt.Errorf("push sender is not configured")
	}

	title := "Visit summary ready"
	body := fmt.Sprintf("Your summary for %s's visit is ready to view.", visit.PatientName)

	messageID, sendErr := o.push.SendPush(ctx, visit.PushToken, title, body)
	if o.log != nil {
		if _, logErr := o.log.Record(ctx, visit.ID, entities.NotificationVisitSummaryReady,
			entities.ChannelPush, visit.PushToken, messageID, sendErr); logErr != nil {
			return fmt.Errorf("failed to record push delivery: %w", logErr)
		}
	}
	return sendErr
}

// sendCaregiverEmailsOperation mails the visit summary to each registered
// caregiver. One failed recipient fails the operation so the retry covers
// everyone; duplicate sends to the already-delivered recipients are accepted.
type sendCaregiverEmailsOperation struct {
	email providers.EmailSender
	log   *notifications.DeliveryLog
}

// NewSendCaregiverEmailsOperation creates the sendCaregiverEmails operation
func NewSendCaregiverEmailsOperation(email providers.EmailSender, log *notifications.DeliveryLog) PostCommitOperation {
	return &sendCaregiverEmailsOperation{email: email, log: log}
}

func (o *sendCaregiverEmailsOperation) Name() string { return entities.OperationSendCaregiverEmails }

func (o *sendCaregiverEmailsOperation) Execute(ctx context.Context, visit *entities.Visit) error {
	if len(visit.CaregiverEmails) == 0 {
		return nil
	}
	if o.email == nil {
		return fmt.Errorf("email sender is not configured")
	}

	subject := fmt.Sprintf("Visit summary for %s", visit.PatientName)
	body := buildCaregiverEmailBody(visit)

	var firstErr error
	for _, recipient := range visit.CaregiverEmails {
		messageID, sendErr := o.email.SendEmail(ctx, recipient, subject, body)
		if o.log != nil {
			if _, logErr := o.log.Record(ctx, visit.ID, entities.NotificationCaregiverSummary,
				entities.ChannelEmail, recipient, messageID, sendErr); logErr != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to record email delivery: %w", logErr)
			}
		}
		if sendErr != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to email %s: %w", recipient, sendErr)
		}
	}
	return firstErr
}

func buildCaregiverEmailBody(visit *entities.Visit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary of %s's visit:\n\n%s\n", visit.PatientName, visit.Summary)
	if len(visit.Diagnoses) > 0 {
		fmt.Fprintf(&b, "\nDiagnoses:\n- %s\n", strings.Join(visit.Diagnoses, "\n- "))
	}
	if len(visit.Medications) > 0 {
		fmt.Fprintf(&b, "\nMedications:\n- %s\n", strings.Join(visit.Medications, "\n- "))
	}
	if len(visit.NextSteps) > 0 {
		fmt.Fprintf(&b, "\nNext steps:\n- %s\n", strings.Join(visit.NextSteps, "\n- "))
	}
	return b.String()
}

package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/visitscribe/backend/internal/domain/entities"
)

// DeliveryLog records every notification attempt so operators can see what
// was actually sent when a post-commit operation is escalated.
type DeliveryLog struct {
	db *sqlx.DB
}

// NewDeliveryLog creates a new delivery log
func NewDeliveryLog(db *sqlx.DB) *DeliveryLog {
	return &DeliveryLog{db: db}
}

// Record inserts a delivery record. messageID is empty and sendErr non-nil
// for failed attempts.
func (l *DeliveryLog) Record(ctx context.Context, visitID string, notifType entities.NotificationType, channel entities.NotificationChannel, recipient, messageID string, sendErr error) (*entities.VisitNotification, error) {
	now := time.Now()
	notification := &entities.VisitNotification{
		ID:               uuid.New().String(),
		VisitID:          visitID,
		NotificationType: notifType,
		Channel:          channel,
		Recipient:        recipient,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if sendErr != nil {
		errMsg := sendErr.Error()
		notification.Status = entities.NotificationStatusFailed
		notification.FailedAt = &now
		notification.ErrorMessage = &errMsg
	} else {
		notification.Status = entities.NotificationStatusSent
		notification.SentAt = &now
		if messageID != "" {
			notification.MessageID = &messageID
		}
	}

	query := `
		INSERT INTO visit_notifications
		(id, visit_id, notification_type, channel, recipient, status, message_id,
		 sent_at, failed_at, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := l.db.ExecContext(ctx, query,
		notification.ID, notification.VisitID, notification.NotificationType, notification.Channel,
		notification.Recipient, notification.Status, notification.MessageID,
		notification.SentAt, notification.FailedAt, notification.ErrorMessage,
		notification.CreatedAt, notification.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return notification, nil
}

// ListByVisit returns delivery records for a visit, newest first.
func (l *DeliveryLog) ListByVisit(ctx context.Context, visitID string) ([]entities.VisitNotification, error) {
	var records []entities.VisitNotification
	query := `SELECT * FROM visit_notifications WHERE visit_id = $1 ORDER BY created_at DESC`
	if err := l.db.SelectContext(ctx, &records, query, visitID); err != nil {
		return nil, err
	}
	return records, nil
}

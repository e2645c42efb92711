package providers

import (
	"context"
)

// PushSender delivers push notifications to a patient device
type PushSender interface {
	// SendPush sends a push notification to the given device token and
	// returns the provider message ID
	SendPush(ctx context.Context, deviceToken, title, body string) (string, error)
}

// EmailSender delivers transactional email to caregivers
type EmailSender interface {
	// SendEmail sends an email and returns the provider message ID
	SendEmail(ctx context.Context, to, subject, body string) (string, error)
}

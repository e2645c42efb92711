package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/visitscribe/backend/pkg/config"
)

// EmailSender sends transactional email via an HTTP mail API
type EmailSender struct {
	apiKey      string
	baseURL     string
	fromAddress string
	httpClient  *http.Client
}

// NewEmailSender creates a new email sender
func NewEmailSender(cfg *config.EmailConfig) (*EmailSender, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("EMAIL_API_KEY must be set")
	}

	return &EmailSender{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		fromAddress: cfg.FromAddress,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type emailMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type emailResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// SendEmail sends an email and returns the provider message ID
func (e *EmailSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("recipient address is required")
	}

	message := emailMessage{
		From:    e.fromAddress,
		To:      to,
		Subject: subject,
		Text:    body,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read email response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("email request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed emailResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse email response: %w", err)
	}

	return parsed.ID, nil
}

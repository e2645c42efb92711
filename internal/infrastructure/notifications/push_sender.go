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

// PushSender sends push notifications via an Expo-compatible push API
type PushSender struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewPushSender creates a new push sender
func NewPushSender(cfg *config.PushConfig) (*PushSender, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("push base URL must be set")
	}

	return &PushSender{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type pushMessage struct {
	To       string `json:"to"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Sound    string `json:"sound"`
	Priority string `json:"priority"`
}

type pushResponse struct {
	Data struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	} `json:"data"`
}

// SendPush sends a push notification to a device token
func (p *PushSender) SendPush(ctx context.Context, deviceToken, title, body string) (string, error) {
	if deviceToken == "" {
		return "", fmt.Errorf("device token is required")
	}

	message := pushMessage{
		To:       deviceToken,
		Title:    title,
		Body:     body,
		Sound:    "default",
		Priority: "high",
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to marshal push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/push/send", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read push response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("push request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed pushResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse push response: %w", err)
	}

	if parsed.Data.Status == "error" {
		return "", fmt.Errorf("push rejected: %s", parsed.Data.Message)
	}

	return parsed.Data.ID, nil
}

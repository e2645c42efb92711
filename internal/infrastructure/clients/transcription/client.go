package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/pkg/config"
)

// Client is the external speech-to-text service API.
type Client interface {
	Submit(ctx context.Context, audioURL, callbackURL string) (string, error)
	Poll(ctx context.Context, jobID string) (*entities.TranscriptionResult, error)
	Delete(ctx context.Context, jobID string) error
}

// HTTPClient talks to the transcription service over HTTP.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type submitRequest struct {
	AudioURL    string `json:"audio_url"`
	WebhookURL  string `json:"webhook_url,omitempty"`
	Diarization bool   `json:"speaker_labels"`
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type jobResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Text     string `json:"text"`
	Segments []struct {
		Speaker string `json:"speaker"`
		StartMs int    `json:"start"`
		EndMs   int    `json:"end"`
		Text    string `json:"text"`
	} `json:"utterances"`
	Error string `json:"error,omitempty"`
}

// NewClient creates a new transcription service client
func NewClient(cfg *config.TranscriptionConfig) *HTTPClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit enqueues a transcription job and returns the service job ID
func (c *HTTPClient) Submit(ctx context.Context, audioURL, callbackURL string) (string, error) {
	body, err := json.Marshal(submitRequest{
		AudioURL:    audioURL,
		WebhookURL:  callbackURL,
		Diarization: true,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcripts", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription submit failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription submit failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var parsed submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("transcription submit returned no job id")
	}

	return parsed.ID, nil
}

// Poll fetches the current state of a transcription job
func (c *HTTPClient) Poll(ctx context.Context, jobID string) (*entities.TranscriptionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/transcripts/%s", c.baseURL, jobID), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transcription poll failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var parsed jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}

	result := &entities.TranscriptionResult{
		JobID:        parsed.ID,
		Status:       mapJobStatus(parsed.Status),
		Text:         parsed.Text,
		ErrorMessage: parsed.Error,
	}
	for _, seg := range parsed.Segments {
		result.Segments = append(result.Segments, entities.TranscriptSegment{
			Speaker: seg.Speaker,
			StartMs: seg.StartMs,
			EndMs:   seg.EndMs,
			Text:    seg.Text,
		})
	}

	return result, nil
}

// Delete removes the transcript stored by the service. A 404 is treated as
// success so the operation stays idempotent.
func (c *HTTPClient) Delete(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/transcripts/%s", c.baseURL, jobID), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transcription delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("transcription delete failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func mapJobStatus(status string) entities.TranscriptionJobStatus {
	switch status {
	case "queued":
		return entities.TranscriptionJobQueued
	case "processing":
		return entities.TranscriptionJobProcessing
	case "completed":
		return entities.TranscriptionJobCompleted
	case "error":
		return entities.TranscriptionJobError
	default:
		return entities.TranscriptionJobProcessing
	}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

package providers

import (
	"context"

	"github.com/visitscribe/backend/internal/domain/entities"
)

// TranscriptionProvider is the external speech-to-text service. Submit and
// Poll are blocking calls with bounded timeouts; Delete removes the stored
// transcript from the service once it has been persisted locally.
type TranscriptionProvider interface {
	// Submit enqueues a transcription job for the given audio file and
	// returns the service-side job ID
	Submit(ctx context.Context, audioURL, callbackURL string) (string, error)

	// Poll fetches the current state of a transcription job
	Poll(ctx context.Context, jobID string) (*entities.TranscriptionResult, error)

	// Delete removes the transcript stored by the service
	Delete(ctx context.Context, jobID string) error
}

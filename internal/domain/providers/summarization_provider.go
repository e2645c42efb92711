package providers

import (
	"context"

	"github.com/visitscribe/backend/internal/domain/entities"
)

// SummarizationProvider turns a visit transcript into structured summary
// content.
type SummarizationProvider interface {
	// Summarize produces summary content from transcript text
	Summarize(ctx context.Context, transcriptText string) (*entities.VisitSummary, error)
}

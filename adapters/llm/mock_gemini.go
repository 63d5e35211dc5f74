package llm

import (
	"context"
	"fmt"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// MockSummarizer produces a deterministic summary without calling a model
type MockSummarizer struct{}

var _ repositories.Summarizer = MockSummarizer{}

// NewMockSummarizer creates a new mock summarizer
func NewMockSummarizer() repositories.Summarizer {
	return MockSummarizer{}
}

// Summarize implements repositories.Summarizer
func (MockSummarizer) Summarize(ctx context.Context, artifact *entities.Artifact) (entities.Summary, error) {
	summary := entities.Summary{
		Title:   artifact.MeetingName,
		Summary: fmt.Sprintf("%d captions and %d notes were recorded.", len(artifact.Captions), len(artifact.RawMessages)),
	}
	if len(artifact.Captions) > 0 {
		summary.ActionItems = []string{fmt.Sprintf("Follow up on: %s", artifact.Captions[0].Text)}
	}
	return summary, nil
}

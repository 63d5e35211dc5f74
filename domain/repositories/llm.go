package repositories

import (
	"context"

	"github.com/satriahrh/scribe/domain/entities"
)

// Summarizer abstracts any LLM provider able to digest a meeting
type Summarizer interface {
	Summarize(ctx context.Context, artifact *entities.Artifact) (entities.Summary, error)
}

package repositories

import (
	"context"

	"github.com/satriahrh/scribe/domain/entities"
)

// InviteRepository defines the invite store operations the engine needs
type InviteRepository interface {
	GetByID(ctx context.Context, id string) (*entities.Invite, error)
	UpdateStatus(ctx context.Context, id string, status entities.InviteStatus) error
	AssignScribe(ctx context.Context, id string, scribeName string) error
	Delete(ctx context.Context, id string) error
}

// ChangeHandler handles one change feed record
type ChangeHandler func(ctx context.Context, change entities.InviteChange) error

// ChangeFeed delivers invite changes at least once, in order per source
type ChangeFeed interface {
	// Watch blocks until ctx is done or the feed fails.
	Watch(ctx context.Context, handler ChangeHandler) error
}

// ArtifactRepository persists finished session artifacts
type ArtifactRepository interface {
	Save(ctx context.Context, artifact *entities.Artifact) error
	GetBySessionID(ctx context.Context, sessionID string) (*entities.Artifact, error)
}

// AttachmentStore uploads rendered artifact files and returns their location
type AttachmentStore interface {
	Upload(ctx context.Context, key string, contentType string, body []byte) (string, error)
}

// Notifier announces that an artifact is ready for mailing
type Notifier interface {
	ArtifactReady(ctx context.Context, artifact *entities.Artifact) error
}

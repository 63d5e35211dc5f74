package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

type ArtifactRepository struct {
	collection *mongo.Collection
}

// NewArtifactRepository creates a new MongoDB artifact repository
func NewArtifactRepository(db *mongo.Database) repositories.ArtifactRepository {
	return &ArtifactRepository{
		collection: db.Collection(artifactsCollection),
	}
}

// Save implements repositories.ArtifactRepository. Saving the same session
// twice replaces the earlier document.
func (r *ArtifactRepository) Save(ctx context.Context, artifact *entities.Artifact) error {
	if artifact == nil {
		return errors.New("artifact cannot be nil")
	}
	if artifact.SessionID == "" {
		return errors.New("artifact session ID cannot be empty")
	}

	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": artifact.SessionID},
		artifact,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}
	return nil
}

// GetBySessionID implements repositories.ArtifactRepository
func (r *ArtifactRepository) GetBySessionID(ctx context.Context, sessionID string) (*entities.Artifact, error) {
	var artifact entities.Artifact
	err := r.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&artifact)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("artifact %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	return &artifact, nil
}

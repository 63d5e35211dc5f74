package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// tokenStore keeps change stream resume tokens across restarts
type tokenStore interface {
	LoadToken(ctx context.Context, stream string) (bson.Raw, error)
	SaveToken(ctx context.Context, stream string, token bson.Raw) error
}

// FeedStateRepository stores one resume token document per change stream
type FeedStateRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ tokenStore = &FeedStateRepository{}

type feedState struct {
	Stream      string    `bson:"_id"`
	ResumeToken bson.Raw  `bson:"resume_token,omitempty"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// NewFeedStateRepository creates a new MongoDB feed state repository
func NewFeedStateRepository(db *mongo.Database) *FeedStateRepository {
	return &FeedStateRepository{
		collection: db.Collection(feedStateCollection),
		now:        time.Now,
	}
}

// LoadToken returns the saved token for stream, or nil when none was saved
func (r *FeedStateRepository) LoadToken(ctx context.Context, stream string) (bson.Raw, error) {
	var state feedState
	err := r.collection.FindOne(ctx, bson.M{"_id": stream}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resume token: %w", err)
	}
	return state.ResumeToken, nil
}

// SaveToken replaces the saved token for stream. A nil token clears it.
func (r *FeedStateRepository) SaveToken(ctx context.Context, stream string, token bson.Raw) error {
	_, err := r.collection.ReplaceOne(ctx,
		bson.M{"_id": stream},
		feedState{Stream: stream, ResumeToken: token, UpdatedAt: r.now()},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save resume token: %w", err)
	}
	return nil
}

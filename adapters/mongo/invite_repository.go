package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

type InviteRepository struct {
	collection *mongo.Collection
}

// NewInviteRepository creates a new MongoDB invite repository
func NewInviteRepository(db *mongo.Database) repositories.InviteRepository {
	return &InviteRepository{
		collection: db.Collection(invitesCollection),
	}
}

// idFilter matches an invite stored with either a string or an ObjectID key
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

// GetByID implements repositories.InviteRepository
func (r *InviteRepository) GetByID(ctx context.Context, id string) (*entities.Invite, error) {
	if id == "" {
		return nil, errors.New("invite ID cannot be empty")
	}

	var invite entities.Invite
	err := r.collection.FindOne(ctx, idFilter(id)).Decode(&invite)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("invite %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get invite %s: %w", id, err)
	}
	return &invite, nil
}

// UpdateStatus implements repositories.InviteRepository
func (r *InviteRepository) UpdateStatus(ctx context.Context, id string, status entities.InviteStatus) error {
	return r.set(ctx, id, bson.M{"status": status})
}

// AssignScribe implements repositories.InviteRepository
func (r *InviteRepository) AssignScribe(ctx context.Context, id string, scribeName string) error {
	return r.set(ctx, id, bson.M{"scribe_name": scribeName})
}

func (r *InviteRepository) set(ctx context.Context, id string, fields bson.M) error {
	if id == "" {
		return errors.New("invite ID cannot be empty")
	}
	fields["updated_at"] = time.Now()

	result, err := r.collection.UpdateOne(ctx, idFilter(id), bson.M{"$set": fields})
	if err != nil {
		return fmt.Errorf("failed to update invite: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("invite %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Delete implements repositories.InviteRepository. Deleting a missing invite
// is not an error.
func (r *InviteRepository) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("invite ID cannot be empty")
	}
	if _, err := r.collection.DeleteOne(ctx, idFilter(id)); err != nil {
		return fmt.Errorf("failed to delete invite: %w", err)
	}
	return nil
}

package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// changeStreamHistoryLost is returned when a resume token has aged out of the oplog
const changeStreamHistoryLost = 286

// ChangeFeed turns the invites change stream into invite changes. The resume
// token of the last handled change is saved, so both a reconnect and a
// restart continue where the previous stream stopped.
type ChangeFeed struct {
	collection  *mongo.Collection
	state       tokenStore
	logger      *zap.Logger
	restored    bool
	resumeToken bson.Raw
}

var _ repositories.ChangeFeed = &ChangeFeed{}

// NewChangeFeed creates a change feed over the invites collection that keeps
// its resume token in the feed_state collection
func NewChangeFeed(db *mongo.Database, logger *zap.Logger) *ChangeFeed {
	return &ChangeFeed{
		collection: db.Collection(invitesCollection),
		state:      NewFeedStateRepository(db),
		logger:     logger,
	}
}

type changeEvent struct {
	OperationType string           `bson:"operationType"`
	FullDocument  *entities.Invite `bson:"fullDocument"`
	DocumentKey   struct {
		ID bson.RawValue `bson:"_id"`
	} `bson:"documentKey"`
}

// Watch implements repositories.ChangeFeed
func (f *ChangeFeed) Watch(ctx context.Context, handler repositories.ChangeHandler) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "delete"}}}}},
	}
	if err := f.restore(ctx); err != nil {
		return err
	}
	opts := options.ChangeStream()
	if f.resumeToken != nil {
		opts.SetResumeAfter(f.resumeToken)
	}

	stream, err := f.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		var serverErr mongo.ServerError
		if f.resumeToken != nil && errors.As(err, &serverErr) && serverErr.HasErrorCode(changeStreamHistoryLost) {
			f.logger.Warn("Resume token expired, changes made since it was saved are lost", zap.Error(err))
			f.advance(ctx, nil)
		}
		return fmt.Errorf("failed to open invite change stream: %w", err)
	}
	defer stream.Close(context.WithoutCancel(ctx))

	f.logger.Info("Watching invite changes", zap.Bool("resumed", f.resumeToken != nil))

	for stream.Next(ctx) {
		var event changeEvent
		if err := stream.Decode(&event); err != nil {
			f.logger.Error("Failed to decode change event", zap.Error(err))
			f.advance(ctx, stream.ResumeToken())
			continue
		}

		change, ok := toChange(event)
		if !ok {
			f.advance(ctx, stream.ResumeToken())
			continue
		}
		if err := handler(ctx, change); err != nil {
			// The token is not advanced, so the change is replayed on reconnect.
			return fmt.Errorf("failed to handle change for invite %s: %w", change.InviteID, err)
		}
		f.advance(ctx, stream.ResumeToken())
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("invite change stream failed: %w", err)
	}
	return ctx.Err()
}

// restore loads the saved token once per process
func (f *ChangeFeed) restore(ctx context.Context) error {
	if f.restored || f.state == nil {
		return nil
	}
	token, err := f.state.LoadToken(ctx, invitesCollection)
	if err != nil {
		return err
	}
	f.resumeToken = token
	f.restored = true
	return nil
}

// advance moves past a handled change. A failed save only costs a replay of
// already handled changes after a restart.
func (f *ChangeFeed) advance(ctx context.Context, token bson.Raw) {
	f.resumeToken = token
	if f.state == nil {
		return
	}
	if err := f.state.SaveToken(context.WithoutCancel(ctx), invitesCollection, token); err != nil {
		f.logger.Warn("Failed to save resume token", zap.Error(err))
	}
}

func toChange(event changeEvent) (entities.InviteChange, bool) {
	id := keyString(event.DocumentKey.ID)
	switch event.OperationType {
	case "insert":
		if event.FullDocument == nil {
			return entities.InviteChange{}, false
		}
		if event.FullDocument.ID == "" {
			event.FullDocument.ID = id
		}
		return entities.InviteChange{
			Type:     entities.ChangeInsert,
			InviteID: event.FullDocument.ID,
			Invite:   event.FullDocument,
		}, true
	case "delete":
		if id == "" {
			return entities.InviteChange{}, false
		}
		return entities.InviteChange{Type: entities.ChangeRemove, InviteID: id}, true
	default:
		return entities.InviteChange{}, false
	}
}

func keyString(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeObjectID:
		return v.ObjectID().Hex()
	case bson.TypeString:
		return v.StringValue()
	case 0:
		return ""
	default:
		return v.String()
	}
}

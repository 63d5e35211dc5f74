package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// changeRecord is the wire shape of an invite change on the topic
type changeRecord struct {
	Type              string   `json:"type"`
	InviteID          string   `json:"inviteId"`
	Name              string   `json:"name,omitempty"`
	Platform          string   `json:"platform,omitempty"`
	ExternalMeetingID string   `json:"externalMeetingId,omitempty"`
	Password          string   `json:"password,omitempty"`
	ScheduledStart    int64    `json:"scheduledStart,omitempty"` // epoch seconds
	Participants      []string `json:"participants,omitempty"`
}

// ChangeFeed consumes invite changes from a topic. Offsets are committed only
// after the handler succeeds, so a failed change is redelivered.
type ChangeFeed struct {
	newReader func() messageReader
	topic     string
	logger    *zap.Logger
}

var _ repositories.ChangeFeed = &ChangeFeed{}

// NewChangeFeed creates a change feed reading topic as consumer group groupID
func NewChangeFeed(brokers []string, topic, groupID string, logger *zap.Logger) *ChangeFeed {
	return &ChangeFeed{
		topic:  topic,
		logger: logger,
		newReader: func() messageReader {
			return kafkago.NewReader(kafkago.ReaderConfig{
				Brokers:     brokers,
				Topic:       topic,
				GroupID:     groupID,
				StartOffset: kafkago.FirstOffset,
				MinBytes:    1,
				MaxBytes:    10e6,
				ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
					logger.Error("Kafka reader: "+fmt.Sprintf(msg, args...), zap.String("topic", topic))
				}),
			})
		},
	}
}

// Watch implements repositories.ChangeFeed
func (f *ChangeFeed) Watch(ctx context.Context, handler repositories.ChangeHandler) error {
	reader := f.newReader()
	defer reader.Close()

	f.logger.Info("Consuming invite changes", zap.String("topic", f.topic))
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to fetch invite change: %w", err)
		}

		change, err := decodeChange(msg.Value)
		if err != nil {
			f.logger.Error("Skipping malformed invite change",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		} else if err := handler(ctx, change); err != nil {
			return fmt.Errorf("failed to handle change for invite %s: %w", change.InviteID, err)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("failed to commit offset: %w", err)
		}
	}
}

func decodeChange(value []byte) (entities.InviteChange, error) {
	var rec changeRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return entities.InviteChange{}, fmt.Errorf("failed to decode change: %w", err)
	}
	if rec.InviteID == "" {
		return entities.InviteChange{}, errors.New("change has no invite id")
	}

	switch entities.ChangeType(rec.Type) {
	case entities.ChangeInsert:
		return entities.InviteChange{
			Type:     entities.ChangeInsert,
			InviteID: rec.InviteID,
			Invite: &entities.Invite{
				ID:           rec.InviteID,
				Name:         rec.Name,
				Platform:     entities.Platform(rec.Platform),
				MeetingID:    rec.ExternalMeetingID,
				Password:     rec.Password,
				MeetingTime:  rec.ScheduledStart,
				Participants: rec.Participants,
				Status:       entities.InviteStatusCreated,
			},
		}, nil
	case entities.ChangeRemove:
		return entities.InviteChange{Type: entities.ChangeRemove, InviteID: rec.InviteID}, nil
	default:
		return entities.InviteChange{}, fmt.Errorf("unknown change type %q", rec.Type)
	}
}

// Package kafka carries invite changes in and artifact notifications out.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// EventArtifactReady is the event-type header of artifact notifications
const EventArtifactReady = "artifact.ready"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ArtifactReady is the notification body consumed by the mailer
type ArtifactReady struct {
	SessionID    string             `json:"session_id"`
	InviteID     string             `json:"invite_id"`
	MeetingName  string             `json:"meeting_name"`
	Platform     entities.Platform  `json:"platform"`
	Participants []string           `json:"participants"`
	Attendees    []string           `json:"attendees"`
	Summary      entities.Summary   `json:"summary"`
	Files        map[string]string  `json:"files,omitempty"`
	Attachments  map[string]string  `json:"attachments,omitempty"`
	EmailSource  string             `json:"email_source,omitempty"`
	EndReason    entities.EndReason `json:"end_reason"`
	StartedAt    time.Time          `json:"started_at"`
	EndedAt      time.Time          `json:"ended_at"`
}

// Notifier publishes artifact-ready events
type Notifier struct {
	writer      messageWriter
	topic       string
	emailSource string
	logger      *zap.Logger
}

var _ repositories.Notifier = &Notifier{}

// NewNotifier creates a notifier writing to topic on brokers
func NewNotifier(brokers []string, topic, emailSource string, logger *zap.Logger) *Notifier {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: 10 * time.Second,
		ErrorLogger: kafkago.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error("Kafka writer: "+fmt.Sprintf(msg, args...), zap.String("topic", topic))
		}),
	}
	logger.Info("Kafka notifier initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic))
	return &Notifier{writer: writer, topic: topic, emailSource: emailSource, logger: logger}
}

// ArtifactReady implements repositories.Notifier
func (n *Notifier) ArtifactReady(ctx context.Context, artifact *entities.Artifact) error {
	body, err := json.Marshal(ArtifactReady{
		SessionID:    artifact.SessionID,
		InviteID:     artifact.InviteID,
		MeetingName:  artifact.MeetingName,
		Platform:     artifact.Platform,
		Participants: artifact.Participants,
		Attendees:    artifact.Attendees,
		Summary:      artifact.Summary,
		Files:        artifact.Files,
		Attachments:  artifact.Attachments,
		EmailSource:  n.emailSource,
		EndReason:    artifact.EndReason,
		StartedAt:    artifact.StartedAt,
		EndedAt:      artifact.EndedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(artifact.SessionID),
		Value: body,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(EventArtifactReady)},
		},
		Time: time.Now(),
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Info("Artifact notification published",
		zap.String("sessionID", artifact.SessionID),
		zap.String("topic", n.topic))
	return nil
}

// Close flushes and closes the writer
func (n *Notifier) Close() error {
	return n.writer.Close()
}

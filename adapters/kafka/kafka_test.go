package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	messages  []kafkago.Message
	next      int
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if r.next >= len(r.messages) {
		return kafkago.Message{}, io.EOF
	}
	msg := r.messages[r.next]
	r.next++
	return msg, nil
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestNotifier_PublishesArtifactReady(t *testing.T) {
	writer := &fakeWriter{}
	n := &Notifier{writer: writer, topic: "artifacts", emailSource: "scribe@example.com", logger: zap.NewNop()}

	artifact := &entities.Artifact{
		SessionID:    "session-1",
		InviteID:     "invite-1",
		MeetingName:  "Weekly sync",
		Participants: []string{"a@example.com"},
		Summary:      entities.Summary{Title: "Sync"},
		EndReason:    entities.EndReasonCommand,
	}
	if err := n.ArtifactReady(context.Background(), artifact); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(writer.messages) != 1 {
		t.Fatalf("Expected one message, got %d", len(writer.messages))
	}

	msg := writer.messages[0]
	if string(msg.Key) != "session-1" {
		t.Errorf("Unexpected key %q", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != EventArtifactReady {
		t.Errorf("Unexpected headers %+v", msg.Headers)
	}
	var body ArtifactReady
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Summary.Title != "Sync" || body.EmailSource != "scribe@example.com" || body.EndReason != entities.EndReasonCommand {
		t.Errorf("Unexpected body %+v", body)
	}

	writer.err = errors.New("leader not available")
	if err := n.ArtifactReady(context.Background(), artifact); err == nil {
		t.Error("Expected publish error")
	}
}

func TestDecodeChange(t *testing.T) {
	change, err := decodeChange([]byte(`{"type":"insert","inviteId":"inv-1","platform":"webex","externalMeetingId":"2551","password":"pw","scheduledStart":1715677200,"participants":["a@x.io"]}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if change.Type != entities.ChangeInsert || change.Invite == nil {
		t.Fatalf("Unexpected change %+v", change)
	}
	inv := change.Invite
	if inv.ID != "inv-1" || inv.Platform != entities.PlatformWebex || inv.MeetingID != "2551" || inv.MeetingTime != 1715677200 {
		t.Errorf("Unexpected invite %+v", inv)
	}

	change, err = decodeChange([]byte(`{"type":"remove","inviteId":"inv-1"}`))
	if err != nil || change.Type != entities.ChangeRemove || change.Invite != nil {
		t.Errorf("Unexpected remove change %+v (%v)", change, err)
	}

	for _, bad := range []string{`not json`, `{"type":"insert"}`, `{"type":"update","inviteId":"x"}`} {
		if _, err := decodeChange([]byte(bad)); err == nil {
			t.Errorf("Expected error for %s", bad)
		}
	}
}

func TestChangeFeed_CommitsAfterHandling(t *testing.T) {
	reader := &fakeReader{messages: []kafkago.Message{
		{Offset: 1, Value: []byte(`{"type":"remove","inviteId":"a"}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"type":"remove","inviteId":"b"}`)},
	}}
	feed := &ChangeFeed{newReader: func() messageReader { return reader }, topic: "invites", logger: zap.NewNop()}

	var handled []string
	err := feed.Watch(context.Background(), func(ctx context.Context, change entities.InviteChange) error {
		handled = append(handled, change.InviteID)
		if change.InviteID == "b" {
			return errors.New("dispatcher down")
		}
		return nil
	})
	if err == nil {
		t.Fatal("Expected handler failure to stop the feed")
	}
	if len(handled) != 2 {
		t.Errorf("Expected two handled changes, got %v", handled)
	}
	// Malformed records are skipped and committed; the failed one is not.
	if len(reader.committed) != 2 || reader.committed[0] != 1 || reader.committed[1] != 2 {
		t.Errorf("Unexpected commits %v", reader.committed)
	}
}

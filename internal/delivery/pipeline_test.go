package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
)

type stubSummarizer struct {
	summary entities.Summary
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(ctx context.Context, artifact *entities.Artifact) (entities.Summary, error) {
	s.calls++
	return s.summary, s.err
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (m *memoryStore) Upload(ctx context.Context, key string, contentType string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.objects == nil {
		m.objects = map[string]string{}
	}
	m.objects[key] = string(body)
	return "s3://bucket/" + key, nil
}

type flakyRepo struct {
	failures int
	saves    int
	saved    *entities.Artifact
}

func (r *flakyRepo) Save(ctx context.Context, artifact *entities.Artifact) error {
	r.saves++
	if r.saves <= r.failures {
		return errors.New("connection reset")
	}
	r.saved = artifact
	return nil
}

func (r *flakyRepo) GetBySessionID(ctx context.Context, sessionID string) (*entities.Artifact, error) {
	if r.saved == nil || r.saved.SessionID != sessionID {
		return nil, domain.ErrNotFound
	}
	return r.saved, nil
}

type recordingNotifier struct {
	notified []string
	err      error
}

func (n *recordingNotifier) ArtifactReady(ctx context.Context, artifact *entities.Artifact) error {
	if n.err != nil {
		return n.err
	}
	n.notified = append(n.notified, artifact.SessionID)
	return nil
}

type stepTimings struct {
	states map[StepID]StepState
}

func (s *stepTimings) DeliveryStep(step StepID, state StepState, elapsed time.Duration) {
	if s.states == nil {
		s.states = map[StepID]StepState{}
	}
	s.states[step] = state
}

func fastPersist(repo *flakyRepo, tries uint) *PersistStep {
	step := NewPersistStep(repo, tries, zap.NewNop())
	step.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return step
}

func sampleArtifact() *entities.Artifact {
	at := time.Date(2024, 5, 14, 9, 5, 0, 0, time.UTC)
	return &entities.Artifact{
		SessionID:   "session-1",
		InviteID:    "invite-1",
		MeetingName: "Weekly sync",
		Captions: []entities.Caption{
			{Speaker: "Alice", Timestamp: at, TimestampText: "09:05", Text: "Hello, world!"},
		},
		RawMessages: []string{"[09:06] Bob: see the doc"},
	}
}

func TestPipeline_DeliversInOrder(t *testing.T) {
	summarizer := &stubSummarizer{summary: entities.Summary{Title: "Sync", Summary: "Greetings.", ActionItems: []string{"Bob: send doc"}}}
	store := &memoryStore{}
	repo := &flakyRepo{}
	notifier := &recordingNotifier{}
	timings := &stepTimings{}

	p := NewPipeline(zap.NewNop(), timings,
		NewSummarizeStep(summarizer),
		NewUploadStep(store, "artifacts"),
		fastPersist(repo, 3),
		NewNotifyStep(notifier),
	)

	artifact := sampleArtifact()
	if err := p.Deliver(context.Background(), artifact); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if artifact.Summary.Title != "Sync" {
		t.Errorf("Expected summary to be attached, got %+v", artifact.Summary)
	}
	if store.objects["artifacts/session-1/transcript.txt"] != "[09:05] Alice: Hello, world!" {
		t.Errorf("Unexpected transcript upload %v", store.objects)
	}
	if store.objects["artifacts/session-1/chat.txt"] != "[09:06] Bob: see the doc" {
		t.Errorf("Unexpected chat upload %v", store.objects)
	}
	if repo.saved == nil || repo.saved.Files[TranscriptFile] == "" {
		t.Error("Persisted artifact should carry uploaded file locations")
	}
	if len(notifier.notified) != 1 {
		t.Errorf("Expected one notification, got %d", len(notifier.notified))
	}

	run, ok := p.Run("session-1")
	if !ok {
		t.Fatal("Expected a delivery record")
	}
	if run.Failed || run.CompletedAt == nil {
		t.Errorf("Unexpected run record %+v", run)
	}
	for i, want := range []StepID{StepSummarize, StepUpload, StepPersist, StepNotify} {
		if run.Steps[i].ID != want || run.Steps[i].State != StepStateCompleted {
			t.Errorf("Step %d: expected completed %s, got %+v", i, want, run.Steps[i])
		}
	}
	if timings.states[StepNotify] != StepStateCompleted {
		t.Errorf("Observer not told about notify step: %v", timings.states)
	}
}

func TestPipeline_EmptyArtifact(t *testing.T) {
	summarizer := &stubSummarizer{}
	store := &memoryStore{}
	repo := &flakyRepo{}

	p := NewPipeline(zap.NewNop(), nil,
		NewSummarizeStep(summarizer),
		NewUploadStep(store, ""),
		fastPersist(repo, 3),
	)

	artifact := &entities.Artifact{SessionID: "empty", MeetingName: "Standup"}
	if err := p.Deliver(context.Background(), artifact); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summarizer.calls != 0 {
		t.Error("Empty meetings should not be summarized")
	}
	if artifact.Summary.Summary != EmptySummary || artifact.Summary.Title != "Standup" {
		t.Errorf("Unexpected summary %+v", artifact.Summary)
	}
	if len(store.objects) != 0 {
		t.Errorf("Nothing should be uploaded, got %v", store.objects)
	}
	if repo.saved == nil {
		t.Error("Empty artifacts are still persisted")
	}

	run, _ := p.Run("empty")
	if run.Steps[0].State != StepStateSkipped || run.Steps[1].State != StepStateSkipped {
		t.Errorf("Expected skipped steps, got %+v", run.Steps)
	}
}

func TestPipeline_FailedStepsDoNotStopDelivery(t *testing.T) {
	summarizer := &stubSummarizer{err: errors.New("model overloaded")}
	store := &memoryStore{err: errors.New("access denied")}
	repo := &flakyRepo{}
	notifier := &recordingNotifier{}

	p := NewPipeline(zap.NewNop(), nil,
		NewSummarizeStep(summarizer),
		NewUploadStep(store, ""),
		fastPersist(repo, 3),
		NewNotifyStep(notifier),
	)

	artifact := sampleArtifact()
	err := p.Deliver(context.Background(), artifact)
	if err == nil {
		t.Fatal("Expected joined step errors")
	}
	if artifact.Summary.Title != "" {
		t.Errorf("Summary should stay empty on failure, got %+v", artifact.Summary)
	}
	if repo.saved == nil || len(notifier.notified) != 1 {
		t.Error("Later steps should still run")
	}

	run, _ := p.Run("session-1")
	if !run.Failed {
		t.Error("Run should be marked failed")
	}
	if run.Steps[0].State != StepStateFailed || run.Steps[0].Error == "" {
		t.Errorf("Unexpected summarize record %+v", run.Steps[0])
	}
}

func TestPersistStep_RetriesThenSucceeds(t *testing.T) {
	repo := &flakyRepo{failures: 2}
	result := fastPersist(repo, 5).Execute(context.Background(), sampleArtifact())
	if result.Error != nil {
		t.Fatalf("Unexpected error: %v", result.Error)
	}
	if repo.saves != 3 {
		t.Errorf("Expected 3 attempts, got %d", repo.saves)
	}
}

func TestPersistStep_Exhausted(t *testing.T) {
	repo := &flakyRepo{failures: 10}
	result := fastPersist(repo, 3).Execute(context.Background(), sampleArtifact())
	if !errors.Is(result.Error, domain.ErrPersistenceFailure) {
		t.Fatalf("Expected persistence failure, got %v", result.Error)
	}
	if repo.saves != 3 {
		t.Errorf("Expected 3 attempts, got %d", repo.saves)
	}
}

func TestPipeline_HistoryIsBounded(t *testing.T) {
	p := NewPipeline(zap.NewNop(), nil)
	p.history = 2
	for _, id := range []string{"a", "b", "c"} {
		_ = p.Deliver(context.Background(), &entities.Artifact{SessionID: id})
	}
	if _, ok := p.Run("a"); ok {
		t.Error("Oldest run should be evicted")
	}
	if _, ok := p.Run("c"); !ok {
		t.Error("Newest run should be kept")
	}
}

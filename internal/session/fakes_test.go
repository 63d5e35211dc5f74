package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

type fakePlatform struct {
	mu        sync.Mutex
	sent      []string
	left      bool
	joinCreds repositories.JoinCredentials

	admission repositories.Admission
	joinErr   error
	block     bool // Join waits for ctx instead of answering
	sendErr   error

	onSpeaker func(entities.SpeakerEvent)
	onChat    func(entities.ChatMessage)
	onEnd     func(error)
}

func (f *fakePlatform) Join(ctx context.Context, creds repositories.JoinCredentials) (repositories.Admission, error) {
	f.mu.Lock()
	f.joinCreds = creds
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.admission, f.joinErr
}

func (f *fakePlatform) SendMessage(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakePlatform) OnSpeakerChange(fn func(entities.SpeakerEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSpeaker = fn
}

func (f *fakePlatform) OnChatMessage(fn func(entities.ChatMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChat = fn
}

func (f *fakePlatform) OnMeetingEnd(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnd = fn
}

func (f *fakePlatform) Leave(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = true
	return nil
}

func (f *fakePlatform) speak(name string) {
	f.speakAt(name, time.Time{})
}

func (f *fakePlatform) speakAt(name string, at time.Time) {
	f.mu.Lock()
	fn := f.onSpeaker
	f.mu.Unlock()
	fn(entities.SpeakerEvent{Name: name, Timestamp: at})
}

func (f *fakePlatform) say(sender, text string) {
	f.mu.Lock()
	fn := f.onChat
	f.mu.Unlock()
	fn(entities.ChatMessage{Sender: sender, Text: text})
}

func (f *fakePlatform) end(err error) {
	f.mu.Lock()
	fn := f.onEnd
	f.mu.Unlock()
	fn(err)
}

func (f *fakePlatform) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakePlatform) hasLeft() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.left
}

type fakeStream struct {
	mu      sync.Mutex
	chunks  [][]byte
	results chan entities.RecognitionResult
	err     error
	closed  bool
}

func (s *fakeStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *fakeStream) Results() <-chan entities.RecognitionResult { return s.results }

func (s *fakeStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fail ends the result channel with err
func (s *fakeStream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.results)
}

// chunksSince returns the chunks received after the first n
func (s *fakeStream) chunksSince(n int) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.chunks) {
		return nil
	}
	out := make([][]byte, len(s.chunks)-n)
	copy(out, s.chunks[n:])
	return out
}

func (s *fakeStream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

type fakeRecognizer struct {
	stream *fakeStream
	err    error
}

func (r *fakeRecognizer) StartStream(ctx context.Context, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.stream, nil
}

// toneSource yields non-silent PCM until closed
type toneSource struct {
	mu     sync.Mutex
	closed bool
}

func (t *toneSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return t, nil
}

func (t *toneSource) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.EOF
	}
	for i := range p {
		p[i] = 0x7f
	}
	return len(p), nil
}

func (t *toneSource) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

type fakeInvites struct {
	mu       sync.Mutex
	statuses []entities.InviteStatus
	scribe   string
	deleted  bool
}

func (f *fakeInvites) GetByID(ctx context.Context, id string) (*entities.Invite, error) {
	return nil, errors.New("not used")
}

func (f *fakeInvites) UpdateStatus(ctx context.Context, id string, status entities.InviteStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeInvites) AssignScribe(ctx context.Context, id string, scribeName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scribe = scribeName
	return nil
}

func (f *fakeInvites) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = true
	return nil
}

func (f *fakeInvites) history() []entities.InviteStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]entities.InviteStatus, len(f.statuses))
	copy(out, f.statuses)
	return out
}

type fakeDeliverer struct {
	mu        sync.Mutex
	artifacts []*entities.Artifact
}

func (f *fakeDeliverer) Deliver(ctx context.Context, artifact *entities.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts = append(f.artifacts, artifact)
	return nil
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []entities.SessionState
}

func (o *recordingObserver) SessionTransition(from, to entities.SessionState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) CaptionsProduced(n int) {}

func (o *recordingObserver) states() []entities.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]entities.SessionState, len(o.transitions))
	copy(out, o.transitions)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

package stt

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// MockRecognizer replays scripted utterances, one per Every worth of audio.
// It stands in for a real recognizer in local runs.
type MockRecognizer struct {
	Script []string
	Every  time.Duration
	logger *zap.Logger
}

var _ repositories.SpeechRecognizer = &MockRecognizer{}

// NewMockRecognizer creates a mock recognizer emitting script lines in order
func NewMockRecognizer(script []string, every time.Duration, logger *zap.Logger) *MockRecognizer {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &MockRecognizer{Script: script, Every: every, logger: logger}
}

// StartStream implements repositories.SpeechRecognizer
func (m *MockRecognizer) StartStream(ctx context.Context, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	m.logger.Info("Initializing mock recognition stream",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))

	bytesPerUtterance := int(m.Every.Seconds() * float64(config.BytesPerSecond()))
	if bytesPerUtterance <= 0 {
		bytesPerUtterance = 1
	}
	return &mockStream{
		script:            m.Script,
		bytesPerUtterance: bytesPerUtterance,
		bytesPerSecond:    config.BytesPerSecond(),
		results:           make(chan entities.RecognitionResult, len(m.Script)+1),
	}, nil
}

type mockStream struct {
	script            []string
	bytesPerUtterance int
	bytesPerSecond    int

	mu       sync.Mutex
	received int
	next     int
	results  chan entities.RecognitionResult
	closed   bool
}

// Send counts audio and emits the next utterance once enough has arrived
func (s *mockStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.received += len(chunk)
	for s.next < len(s.script) && s.received >= (s.next+1)*s.bytesPerUtterance {
		s.results <- utterance(s.script[s.next], s.offset(s.next*s.bytesPerUtterance))
		s.next++
	}
	return nil
}

func (s *mockStream) offset(bytes int) time.Duration {
	if s.bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(s.bytesPerSecond)
}

func (s *mockStream) Results() <-chan entities.RecognitionResult { return s.results }

func (s *mockStream) Err() error { return nil }

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return nil
}

// utterance tokenizes a line; a "spk_N:" prefix sets the speaker label
func utterance(line string, offset time.Duration) entities.RecognitionResult {
	label := ""
	if prefix, rest, ok := strings.Cut(line, ":"); ok && strings.HasPrefix(prefix, "spk_") {
		label, line = prefix, rest
	}

	var result entities.RecognitionResult
	for i, field := range strings.Fields(line) {
		at := offset + time.Duration(i)*300*time.Millisecond
		word, punct := splitPunctuation(field)
		if word != "" {
			result.Items = append(result.Items, entities.TranscriptItem{
				Text: word, Type: entities.ItemTypeWord, StartOffset: at, SpeakerLabel: label,
			})
		}
		for _, p := range punct {
			result.Items = append(result.Items, entities.TranscriptItem{
				Text: string(p), Type: entities.ItemTypePunctuation, StartOffset: at,
			})
		}
	}
	return result
}

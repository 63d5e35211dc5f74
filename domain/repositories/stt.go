package repositories

import (
	"context"
	"io"

	"github.com/satriahrh/scribe/domain/entities"
)

// SpeechRecognizer abstracts streaming speech recognition services
type SpeechRecognizer interface {
	// StartStream opens one bidirectional recognition stream. Canceling ctx
	// abandons the stream without waiting for outstanding results.
	StartStream(ctx context.Context, config AudioConfig) (RecognitionStream, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Encoding    string `json:"encoding"`
	Language    string `json:"language"`
	MaxSpeakers int    `json:"max_speakers"`
}

// BytesPerSecond is the PCM byte rate for 16-bit samples
func (c AudioConfig) BytesPerSecond() int {
	channels := c.Channels
	if channels == 0 {
		channels = 1
	}
	return c.SampleRate * channels * 2
}

// RecognitionStream is one open recognition connection
type RecognitionStream interface {
	Send(chunk []byte) error
	// Results is closed when the stream ends for any reason.
	Results() <-chan entities.RecognitionResult
	// Err reports why Results was closed; nil for a clean end.
	Err() error
	Close() error
}

// AudioSource produces the raw PCM capture of the meeting
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

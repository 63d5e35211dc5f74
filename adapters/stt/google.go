package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// GoogleRecognizer implements repositories.SpeechRecognizer on Google Cloud
// Speech streaming recognition with word offsets and speaker diarization.
type GoogleRecognizer struct {
	client *speech.Client
	logger *zap.Logger
}

var _ repositories.SpeechRecognizer = &GoogleRecognizer{}

// NewGoogleRecognizer creates the Speech client using application default credentials
func NewGoogleRecognizer(ctx context.Context, logger *zap.Logger) (*GoogleRecognizer, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleRecognizer{client: client, logger: logger}, nil
}

// Close releases the underlying client
func (g *GoogleRecognizer) Close() error {
	return g.client.Close()
}

// StartStream implements repositories.SpeechRecognizer
func (g *GoogleRecognizer) StartStream(ctx context.Context, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig(config, encoding),
				InterimResults: false,
			},
		},
	}); err != nil {
		_ = stream.CloseSend()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.logger.Info("Recognition stream opened",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))

	s := &googleStream{
		stream:     stream,
		results:    make(chan entities.RecognitionResult, 16),
		cumulative: diarizationEnabled(config),
		logger:     g.logger,
	}
	go s.receive(ctx)
	return s, nil
}

func recognitionConfig(config repositories.AudioConfig, encoding speechpb.RecognitionConfig_AudioEncoding) *speechpb.RecognitionConfig {
	channels := config.Channels
	if channels == 0 {
		channels = 1
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(config.SampleRate),
		AudioChannelCount:          int32(channels),
		LanguageCode:               config.Language,
		EnableWordTimeOffsets:      true,
		EnableAutomaticPunctuation: true,
	}
	if diarizationEnabled(config) {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          1,
			MaxSpeakerCount:          int32(config.MaxSpeakers),
		}
	}
	return rc
}

func diarizationEnabled(config repositories.AudioConfig) bool {
	return config.MaxSpeakers > 1
}

type googleStream struct {
	stream  speechpb.Speech_StreamingRecognizeClient
	results chan entities.RecognitionResult
	logger  *zap.Logger

	// With diarization every final result repeats all words since the start
	// of the stream; emitted counts the words already forwarded.
	cumulative bool
	emitted    int

	mu     sync.Mutex
	err    error
	closed bool
}

// Send implements repositories.RecognitionStream
func (s *googleStream) Send(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// Results implements repositories.RecognitionStream
func (s *googleStream) Results() <-chan entities.RecognitionResult {
	return s.results
}

// Err implements repositories.RecognitionStream
func (s *googleStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close half-closes the stream; Results drains the remaining responses
func (s *googleStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.stream.CloseSend()
}

func (s *googleStream) receive(ctx context.Context) {
	defer close(s.results)

	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				s.setErr(fmt.Errorf("failed to receive response: %w", err))
			}
			return
		}
		if st := resp.GetError(); st != nil && st.GetCode() != 0 {
			s.setErr(fmt.Errorf("recognition error %d: %s", st.GetCode(), st.GetMessage()))
			return
		}

		for _, result := range resp.GetResults() {
			converted, ok := s.convert(result)
			if !ok {
				continue
			}
			select {
			case s.results <- converted:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *googleStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.logger.Error("Recognition stream failed", zap.Error(err))
}

// convert drops the words a cumulative final result already delivered.
func (s *googleStream) convert(result *speechpb.StreamingRecognitionResult) (entities.RecognitionResult, bool) {
	if !s.cumulative || !result.GetIsFinal() || len(result.GetAlternatives()) == 0 {
		return toRecognitionResult(result, 0)
	}
	words := len(result.GetAlternatives()[0].GetWords())
	if words == 0 {
		return toRecognitionResult(result, 0)
	}
	skip := s.emitted
	if skip > words {
		// A shorter result means the service restarted its word list.
		skip = 0
	}
	s.emitted = words
	if skip == words {
		return entities.RecognitionResult{}, false
	}
	return toRecognitionResult(result, skip)
}

// toRecognitionResult converts one API result into tokens, splitting trailing
// punctuation off each word. The first skip words are left out.
func toRecognitionResult(result *speechpb.StreamingRecognitionResult, skip int) (entities.RecognitionResult, bool) {
	alternatives := result.GetAlternatives()
	if len(alternatives) == 0 {
		return entities.RecognitionResult{}, false
	}
	best := alternatives[0]

	out := entities.RecognitionResult{IsPartial: !result.GetIsFinal()}
	words := best.GetWords()
	if skip > 0 && skip <= len(words) {
		words = words[skip:]
	}
	for _, w := range words {
		offset := w.GetStartTime().AsDuration()
		label := ""
		if tag := w.GetSpeakerTag(); tag > 0 {
			label = fmt.Sprintf("spk_%d", tag)
		}
		word, punct := splitPunctuation(w.GetWord())
		if word != "" {
			out.Items = append(out.Items, entities.TranscriptItem{
				Text:         word,
				Type:         entities.ItemTypeWord,
				StartOffset:  offset,
				SpeakerLabel: label,
			})
		}
		for _, p := range punct {
			out.Items = append(out.Items, entities.TranscriptItem{
				Text:        string(p),
				Type:        entities.ItemTypePunctuation,
				StartOffset: offset,
			})
		}
	}

	// Results without word info still carry text.
	if len(best.GetWords()) == 0 && strings.TrimSpace(best.GetTranscript()) != "" {
		for _, field := range strings.Fields(best.GetTranscript()) {
			word, punct := splitPunctuation(field)
			if word != "" {
				out.Items = append(out.Items, entities.TranscriptItem{Text: word, Type: entities.ItemTypeWord})
			}
			for _, p := range punct {
				out.Items = append(out.Items, entities.TranscriptItem{Text: string(p), Type: entities.ItemTypePunctuation})
			}
		}
	}
	return out, len(out.Items) > 0
}

func splitPunctuation(token string) (string, []rune) {
	runes := []rune(token)
	end := len(runes)
	for end > 0 && unicode.IsPunct(runes[end-1]) {
		end--
	}
	return string(runes[:end]), runes[end:]
}

// getAudioEncoding converts string encoding to the Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "", "PCM", "LINEAR16", "WAV":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, errors.New("unsupported encoding: " + encoding)
	}
}

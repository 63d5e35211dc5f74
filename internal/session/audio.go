package session

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// startAudio opens the one audio stream of the session. Failures leave the
// session running without transcription.
func (c *Controller) startAudio(ctx context.Context) {
	streamCtx, cancel := context.WithCancel(ctx)
	c.streamStop = cancel

	stream, err := c.deps.Recognizer.StartStream(streamCtx, c.cfg.Audio)
	if err != nil {
		c.logger.Error("Failed to start recognition stream",
			zap.Error(errors.Join(domain.ErrRecognitionStream, err)))
		return
	}

	source, err := c.deps.Audio.Open(streamCtx)
	if err != nil {
		c.logger.Error("Failed to open audio source", zap.Error(err))
		stream.Close()
		return
	}

	c.stream = stream
	c.audio = source
	c.aggregator.Start(c.deps.Now())

	go c.pumpAudio(streamCtx, source, stream)
	go c.readResults(streamCtx, stream)

	c.logger.Info("Audio stream started",
		zap.Int("sampleRate", c.cfg.Audio.SampleRate),
		zap.Int("chunkSize", c.cfg.ChunkSize))
}

// stopAudio abandons the stream without waiting for outstanding results
func (c *Controller) stopAudio() {
	c.recording.Store(false)
	if c.streamStop != nil {
		c.streamStop()
	}

	stream, source := c.stream, c.audio
	c.stream, c.audio = nil, nil
	go func() {
		if source != nil {
			if err := source.Close(); err != nil {
				c.logger.Debug("Audio source close", zap.Error(err))
			}
		}
		if stream != nil {
			if err := stream.Close(); err != nil {
				c.logger.Debug("Recognition stream close", zap.Error(err))
			}
		}
	}()
}

// pumpAudio forwards fixed-size PCM chunks to the recognizer. While the
// session is not recording each chunk is replaced by silence of the same
// length, so the recognizer sees one continuous stream.
func (c *Controller) pumpAudio(ctx context.Context, source io.Reader, stream repositories.RecognitionStream) {
	buf := make([]byte, c.cfg.ChunkSize)
	for {
		n, err := io.ReadFull(source, buf)
		if n > 0 {
			chunk := make([]byte, n)
			if c.recording.Load() {
				copy(chunk, buf[:n])
			}
			if sendErr := stream.Send(chunk); sendErr != nil {
				if ctx.Err() == nil {
					c.logger.Warn("Failed to send audio chunk", zap.Error(sendErr))
				}
				return
			}
		}
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				c.logger.Warn("Audio source failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Controller) readResults(ctx context.Context, stream repositories.RecognitionStream) {
	results := stream.Results()
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-results:
			if !ok {
				select {
				case c.streamEnd <- stream.Err():
				case <-ctx.Done():
				}
				return
			}
			if !deliverable(result) {
				continue
			}
			select {
			case c.results <- result:
			case <-ctx.Done():
				return
			}
		}
	}
}

func deliverable(result entities.RecognitionResult) bool {
	return !result.IsPartial && len(result.Items) > 0
}

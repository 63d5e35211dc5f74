// Package audio captures meeting audio from the local sound server.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/repositories"
)

const gracePeriod = 5 * time.Second

// FFmpegSource records a PulseAudio device as raw s16le PCM through ffmpeg
type FFmpegSource struct {
	binary     string
	device     string
	sampleRate int
	channels   int
	logger     *zap.Logger
}

var _ repositories.AudioSource = &FFmpegSource{}

// NewFFmpegSource creates a capture source; device is a pulse source name such as "default"
func NewFFmpegSource(binary, device string, config repositories.AudioConfig, logger *zap.Logger) *FFmpegSource {
	if binary == "" {
		binary = "ffmpeg"
	}
	if device == "" {
		device = "default"
	}
	channels := config.Channels
	if channels == 0 {
		channels = 1
	}
	return &FFmpegSource{
		binary:     binary,
		device:     device,
		sampleRate: config.SampleRate,
		channels:   channels,
		logger:     logger,
	}
}

func (s *FFmpegSource) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "pulse", "-i", s.device,
		"-ac", strconv.Itoa(s.channels),
		"-ar", strconv.Itoa(s.sampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	}
}

// Open implements repositories.AudioSource. The capture stops when ctx is
// done or the returned reader is closed.
func (s *FFmpegSource) Open(ctx context.Context) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, s.binary, s.args()...) //nolint:gosec // binary comes from configuration
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open capture pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	// Own process group so the whole tree gets SIGTERM on cancel.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", s.binary, err)
	}

	s.logger.Info("Audio capture started",
		zap.String("device", s.device),
		zap.Int("sampleRate", s.sampleRate),
		zap.Int("pid", cmd.Process.Pid))
	return &capture{ReadCloser: stdout, cmd: cmd, cancel: cancel, stderr: stderr, logger: s.logger}, nil
}

type capture struct {
	io.ReadCloser
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *bytes.Buffer
	logger *zap.Logger

	once sync.Once
	err  error
}

// Close stops ffmpeg and waits for it to exit
func (c *capture) Close() error {
	c.once.Do(func() {
		c.cancel()
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
			c.err = fmt.Errorf("failed to stop capture: %w", err)
		}
		if c.stderr.Len() > 0 {
			c.logger.Debug("Audio capture output", zap.String("stderr", c.stderr.String()))
		}
		c.logger.Info("Audio capture stopped")
	})
	return c.err
}

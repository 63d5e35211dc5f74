package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// EmptySummary is the summary of a meeting where nothing was recorded
const EmptySummary = "No meeting details were saved."

const (
	TranscriptFile = "transcript.txt"
	ChatFile       = "chat.txt"
)

// SummarizeStep asks the summarizer for a title, summary and action items.
// A failure leaves the summary empty.
type SummarizeStep struct {
	summarizer repositories.Summarizer
}

func NewSummarizeStep(summarizer repositories.Summarizer) *SummarizeStep {
	return &SummarizeStep{summarizer: summarizer}
}

func (s *SummarizeStep) ID() StepID { return StepSummarize }

func (s *SummarizeStep) Execute(ctx context.Context, artifact *entities.Artifact) StepResult {
	if artifact.Empty() {
		artifact.Summary = entities.Summary{Title: artifact.MeetingName, Summary: EmptySummary}
		return StepResult{Skipped: true}
	}

	summary, err := s.summarizer.Summarize(ctx, artifact)
	if err != nil {
		return StepResult{Error: fmt.Errorf("failed to summarize meeting: %w", err)}
	}
	if summary.Title == "" {
		summary.Title = artifact.MeetingName
	}
	artifact.Summary = summary
	return StepResult{Data: summary.Title}
}

// UploadStep stores the transcript and the chat log as text files
type UploadStep struct {
	store  repositories.AttachmentStore
	prefix string
}

func NewUploadStep(store repositories.AttachmentStore, prefix string) *UploadStep {
	return &UploadStep{store: store, prefix: prefix}
}

func (s *UploadStep) ID() StepID { return StepUpload }

func (s *UploadStep) Execute(ctx context.Context, artifact *entities.Artifact) StepResult {
	files := map[string]string{}
	if len(artifact.Captions) > 0 {
		files[TranscriptFile] = artifact.Transcript()
	}
	if len(artifact.RawMessages) > 0 {
		files[ChatFile] = artifact.Chat()
	}
	if len(files) == 0 {
		return StepResult{Skipped: true}
	}

	if artifact.Files == nil {
		artifact.Files = make(map[string]string, len(files))
	}
	var errs []error
	for _, name := range []string{TranscriptFile, ChatFile} {
		body, ok := files[name]
		if !ok {
			continue
		}
		key := path.Join(s.prefix, artifact.SessionID, name)
		location, err := s.store.Upload(ctx, key, "text/plain; charset=utf-8", []byte(body))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to upload %s: %w", name, err))
			continue
		}
		artifact.Files[name] = location
	}
	if len(errs) > 0 {
		return StepResult{Error: errors.Join(errs...)}
	}
	return StepResult{Data: len(files)}
}

// PersistStep saves the artifact, retrying with exponential backoff. When
// every attempt fails the artifact is written to the log so it is not lost.
type PersistStep struct {
	repo     repositories.ArtifactRepository
	logger   *zap.Logger
	maxTries uint
	backoff  func() backoff.BackOff
}

func NewPersistStep(repo repositories.ArtifactRepository, maxTries uint, logger *zap.Logger) *PersistStep {
	return &PersistStep{
		repo:     repo,
		logger:   logger,
		maxTries: maxTries,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

func (s *PersistStep) ID() StepID { return StepPersist }

func (s *PersistStep) Execute(ctx context.Context, artifact *entities.Artifact) StepResult {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		return struct{}{}, s.repo.Save(ctx, artifact)
	},
		backoff.WithBackOff(s.backoff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithMaxElapsedTime(time.Minute),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Warn("Retrying artifact save",
				zap.String("sessionID", artifact.SessionID),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	if err == nil {
		return StepResult{Data: attempts}
	}

	dump, marshalErr := json.Marshal(artifact)
	if marshalErr != nil {
		s.logger.Error("Failed to marshal unsaved artifact", zap.Error(marshalErr))
	}
	s.logger.Error("Artifact could not be saved",
		zap.String("sessionID", artifact.SessionID),
		zap.Int("attempts", attempts),
		zap.ByteString("artifact", dump),
		zap.Error(err))
	return StepResult{Error: fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)}
}

// NotifyStep announces the artifact to downstream consumers such as the mailer
type NotifyStep struct {
	notifier repositories.Notifier
}

func NewNotifyStep(notifier repositories.Notifier) *NotifyStep {
	return &NotifyStep{notifier: notifier}
}

func (s *NotifyStep) ID() StepID { return StepNotify }

func (s *NotifyStep) Execute(ctx context.Context, artifact *entities.Artifact) StepResult {
	if err := s.notifier.ArtifactReady(ctx, artifact); err != nil {
		return StepResult{Error: fmt.Errorf("failed to notify artifact ready: %w", err)}
	}
	return StepResult{}
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// Dispatch decisions reported to the observer
const (
	DecisionLaunchNow = "launch_now"
	DecisionDeferred  = "deferred"
	DecisionCancelled = "cancelled"
	DecisionFired     = "fired"
	DecisionSkipped   = "skipped"
	DecisionFailed    = "failed"
)

// DispatchObserver counts dispatch decisions
type DispatchObserver interface {
	DispatchDecision(decision string)
}

// DispatchConfig tunes the dispatch scheduler
type DispatchConfig struct {
	// LeadTime is how long before the meeting start the session must be running.
	LeadTime         time.Duration
	LaunchAttempts   uint
	RegisterAttempts uint
}

// DefaultDispatchConfig returns the production dispatch settings
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		LeadTime:         2 * time.Minute,
		LaunchAttempts:   3,
		RegisterAttempts: 5,
	}
}

// DispatchService turns invite changes into session launches, either right
// away or through the deferred dispatcher
type DispatchService struct {
	invites    repositories.InviteRepository
	dispatcher repositories.DeferredDispatcher
	launcher   repositories.SessionLauncher
	observer   DispatchObserver
	config     DispatchConfig
	logger     *zap.Logger

	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// NewDispatchService creates a new dispatch service
func NewDispatchService(
	invites repositories.InviteRepository,
	dispatcher repositories.DeferredDispatcher,
	launcher repositories.SessionLauncher,
	observer DispatchObserver,
	config DispatchConfig,
	logger *zap.Logger,
) *DispatchService {
	if config.LaunchAttempts == 0 {
		config.LaunchAttempts = 1
	}
	if config.RegisterAttempts == 0 {
		config.RegisterAttempts = 1
	}
	return &DispatchService{
		invites:    invites,
		dispatcher: dispatcher,
		launcher:   launcher,
		observer:   observer,
		config:     config,
		logger:     logger,
		now:        time.Now,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// HandleChange applies one change feed record. It is safe to call more than
// once for the same record.
func (s *DispatchService) HandleChange(ctx context.Context, change entities.InviteChange) error {
	switch change.Type {
	case entities.ChangeInsert:
		return s.handleInsert(ctx, change.Invite)
	case entities.ChangeRemove:
		return s.handleRemove(ctx, change.InviteID)
	default:
		s.logger.Warn("Ignoring unknown change type",
			zap.String("type", string(change.Type)),
			zap.String("inviteID", change.InviteID))
		return nil
	}
}

func (s *DispatchService) handleInsert(ctx context.Context, invite *entities.Invite) error {
	if invite == nil {
		s.logger.Warn("Insert change without invite")
		return nil
	}
	logger := s.logger.With(zap.String("inviteID", invite.ID))

	if err := invite.Validate(); err != nil {
		logger.Warn("Rejecting invalid invite", zap.Error(err))
		s.decide(DecisionFailed)
		s.markFailed(ctx, invite.ID)
		return nil
	}

	start := invite.StartTime()
	fireAt := start.Add(-s.config.LeadTime)
	if !s.now().Before(fireAt) {
		logger.Info("Meeting starts within lead time, launching now",
			zap.Time("start", start))
		s.decide(DecisionLaunchNow)
		return s.launch(ctx, invite)
	}

	payload, err := json.Marshal(invite)
	if err != nil {
		return fmt.Errorf("failed to encode launch payload: %w", err)
	}
	launch := entities.ScheduledLaunch{InviteID: invite.ID, FireTime: fireAt, Payload: payload}

	if err := s.retry(ctx, "register", func() error {
		return s.dispatcher.Register(ctx, launch)
	}); err != nil {
		logger.Error("Failed to register deferred launch", zap.Error(err))
		s.decide(DecisionFailed)
		s.markFailed(ctx, invite.ID)
		return fmt.Errorf("%w: %v", domain.ErrDispatchFailure, err)
	}

	s.decide(DecisionDeferred)
	if err := s.invites.UpdateStatus(ctx, invite.ID, entities.InviteStatusScheduled); err != nil {
		logger.Warn("Failed to mark invite scheduled", zap.Error(err))
	}
	logger.Info("Launch scheduled", zap.Time("fireAt", fireAt), zap.Time("start", start))
	return nil
}

func (s *DispatchService) handleRemove(ctx context.Context, inviteID string) error {
	if inviteID == "" {
		return nil
	}
	if err := s.retry(ctx, "cancel", func() error {
		return s.dispatcher.Cancel(ctx, inviteID)
	}); err != nil {
		s.logger.Error("Failed to cancel deferred launch",
			zap.String("inviteID", inviteID),
			zap.Error(err))
		s.decide(DecisionFailed)
		return fmt.Errorf("%w: %v", domain.ErrDispatchFailure, err)
	}
	s.decide(DecisionCancelled)
	s.logger.Info("Launch cancelled", zap.String("inviteID", inviteID))
	return nil
}

// Fire launches a due scheduled launch. The invite is reloaded so edits made
// after scheduling are honored and deleted invites are skipped.
func (s *DispatchService) Fire(ctx context.Context, launch entities.ScheduledLaunch) error {
	logger := s.logger.With(zap.String("inviteID", launch.InviteID))

	invite, err := s.invites.GetByID(ctx, launch.InviteID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		logger.Info("Invite removed before launch, skipping")
		s.decide(DecisionSkipped)
		return nil
	case err != nil:
		logger.Warn("Failed to reload invite, using scheduled payload", zap.Error(err))
		invite = &entities.Invite{}
		if uerr := json.Unmarshal(launch.Payload, invite); uerr != nil {
			return fmt.Errorf("failed to decode launch payload: %w", uerr)
		}
	}

	if invite.Status == entities.InviteStatusFinished || invite.Status == entities.InviteStatusFailed {
		logger.Info("Invite already closed, skipping", zap.String("status", string(invite.Status)))
		s.decide(DecisionSkipped)
		return nil
	}

	s.decide(DecisionFired)
	return s.launch(ctx, invite)
}

// launch starts the session with a bounded number of attempts. A failed
// launch leaves the invite status untouched.
func (s *DispatchService) launch(ctx context.Context, invite *entities.Invite) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.launcher.Launch(ctx, invite)
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.config.LaunchAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Warn("Retrying session launch",
				zap.String("inviteID", invite.ID),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	if err != nil {
		s.decide(DecisionFailed)
		return fmt.Errorf("%w: launch %s: %v", domain.ErrDispatchFailure, invite.ID, err)
	}
	return nil
}

func (s *DispatchService) retry(ctx context.Context, op string, fn func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.config.RegisterAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.logger.Warn("Retrying deferred dispatch",
				zap.String("op", op),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	return err
}

func (s *DispatchService) markFailed(ctx context.Context, inviteID string) {
	if inviteID == "" {
		return
	}
	if err := s.invites.UpdateStatus(ctx, inviteID, entities.InviteStatusFailed); err != nil {
		s.logger.Error("Failed to mark invite failed",
			zap.String("inviteID", inviteID),
			zap.Error(err))
	}
}

func (s *DispatchService) decide(decision string) {
	if s.observer != nil {
		s.observer.DispatchDecision(decision)
	}
}

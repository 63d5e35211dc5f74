package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

const maxFeedBackoff = 30 * time.Second

// FeedService keeps the change feed connected and hands every record to the
// dispatch service
type FeedService struct {
	feed     repositories.ChangeFeed
	dispatch *DispatchService
	logger   *zap.Logger
	step     time.Duration
}

// NewFeedService creates a new feed service
func NewFeedService(feed repositories.ChangeFeed, dispatch *DispatchService, logger *zap.Logger) *FeedService {
	return &FeedService{
		feed:     feed,
		dispatch: dispatch,
		logger:   logger,
		step:     time.Second,
	}
}

// Run watches the feed until ctx is done, reconnecting after failures with a
// linearly growing delay. The delay resets once a connection has proven
// healthy by handling a record or staying up past the maximum delay.
func (s *FeedService) Run(ctx context.Context) error {
	s.logger.Info("Change feed started")
	delay := reconnectDelay{step: s.step}
	for {
		var handled atomic.Bool
		connected := time.Now()
		err := s.feed.Watch(ctx, func(ctx context.Context, change entities.InviteChange) error {
			if err := s.handle(ctx, change); err != nil {
				return err
			}
			handled.Store(true)
			return nil
		})
		if ctx.Err() != nil {
			s.logger.Info("Change feed stopped")
			return nil
		}

		wait := delay.next(handled.Load() || time.Since(connected) > maxFeedBackoff)
		s.logger.Error("Change feed disconnected",
			zap.Int("failures", delay.failures),
			zap.Duration("retryIn", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// handle dispatches one record. A dispatch failure has already exhausted its
// retries and been recorded, so the record is acknowledged and the feed moves
// on; only context errors and unexpected failures hold the record back.
func (s *FeedService) handle(ctx context.Context, change entities.InviteChange) error {
	err := s.dispatch.HandleChange(ctx, change)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDispatchFailure) && ctx.Err() == nil {
		s.logger.Error("Dropping change after dispatch failure",
			zap.String("type", string(change.Type)),
			zap.String("inviteID", change.InviteID),
			zap.Error(err))
		return nil
	}
	return err
}

// reconnectDelay grows linearly with consecutive failures up to maxFeedBackoff
type reconnectDelay struct {
	step     time.Duration
	failures int
}

func (d *reconnectDelay) next(healthy bool) time.Duration {
	if healthy {
		d.failures = 0
	}
	d.failures++
	wait := time.Duration(d.failures) * d.step
	if wait > maxFeedBackoff {
		wait = maxFeedBackoff
	}
	return wait
}

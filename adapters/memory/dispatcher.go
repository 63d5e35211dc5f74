// Package memory holds in-process implementations for single-node runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// Dispatcher keeps scheduled launches in a map and polls it. Registrations
// do not survive a restart.
type Dispatcher struct {
	mu       sync.Mutex
	launches map[string]entities.ScheduledLaunch // invite id -> launch

	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

var _ repositories.DeferredDispatcher = &Dispatcher{}

// NewDispatcher creates an in-memory dispatcher that checks for due launches every interval
func NewDispatcher(interval time.Duration, logger *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		launches: make(map[string]entities.ScheduledLaunch),
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Register implements repositories.DeferredDispatcher
func (d *Dispatcher) Register(ctx context.Context, launch entities.ScheduledLaunch) error {
	if launch.InviteID == "" {
		return errors.New("launch invite ID cannot be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches[launch.InviteID] = launch
	return nil
}

// Cancel implements repositories.DeferredDispatcher
func (d *Dispatcher) Cancel(ctx context.Context, inviteID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.launches, inviteID)
	return nil
}

// Pending returns the number of registered launches
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.launches)
}

// Run implements repositories.DeferredDispatcher
func (d *Dispatcher) Run(ctx context.Context, fire repositories.FireFunc) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("In-memory dispatcher started", zap.Duration("interval", d.interval))
	d.fireDue(ctx, fire)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("In-memory dispatcher stopped")
			return nil
		case <-ticker.C:
			d.fireDue(ctx, fire)
		}
	}
}

// claimDue removes and returns the launches whose fire time has passed,
// earliest first
func (d *Dispatcher) claimDue() []entities.ScheduledLaunch {
	now := d.now()
	d.mu.Lock()
	var due []entities.ScheduledLaunch
	for id, launch := range d.launches {
		if !launch.FireTime.After(now) {
			due = append(due, launch)
			delete(d.launches, id)
		}
	}
	d.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].FireTime.Before(due[j].FireTime) })
	return due
}

func (d *Dispatcher) fireDue(ctx context.Context, fire repositories.FireFunc) {
	for _, launch := range d.claimDue() {
		if err := fire(ctx, launch); err != nil {
			d.logger.Error("Scheduled launch failed",
				zap.String("inviteID", launch.InviteID),
				zap.Error(err))
		}
	}
}

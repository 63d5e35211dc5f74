package repositories

import (
	"context"

	"github.com/satriahrh/scribe/domain/entities"
)

// FireFunc is invoked when a scheduled launch comes due
type FireFunc func(ctx context.Context, launch entities.ScheduledLaunch) error

// DeferredDispatcher keeps at most one scheduled launch per invite id
type DeferredDispatcher interface {
	// Register creates or replaces the launch for launch.InviteID.
	Register(ctx context.Context, launch entities.ScheduledLaunch) error
	// Cancel removes the launch for inviteID. Missing launches are not an error.
	Cancel(ctx context.Context, inviteID string) error
	// Run fires due launches until ctx is done.
	Run(ctx context.Context, fire FireFunc) error
}

// SessionLauncher starts a session for an invite
type SessionLauncher interface {
	Launch(ctx context.Context, invite *entities.Invite) error
}

// Package runner hosts the live sessions of this process, one per invite.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

// ErrShuttingDown is returned by Launch once Shutdown has begun
var ErrShuttingDown = errors.New("session hub is shutting down")

// Runner is one session as the hub sees it
type Runner interface {
	ID() string
	Snapshot() entities.SessionSnapshot
	Run(ctx context.Context) (*entities.Artifact, error)
}

// SessionFactory prepares a session for an invite without starting it
type SessionFactory interface {
	NewSession(ctx context.Context, invite *entities.Invite) (Runner, error)
}

// Observer is told how many sessions are running and how each one ended
type Observer interface {
	ActiveSessions(n int)
	SessionEnded(outcome string)
}

type entry struct {
	invite *entities.Invite
	runner Runner
}

// Hub maintains the set of running sessions keyed by invite id
type Hub struct {
	factory     SessionFactory
	maxSessions int
	observer    Observer
	logger      *zap.Logger

	// sessions run under the hub's context, not the launcher's
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*entry
	closed   bool
}

var _ repositories.SessionLauncher = &Hub{}

// NewHub creates a hub that runs at most maxSessions sessions at once.
// A non-positive maxSessions means no limit.
func NewHub(factory SessionFactory, maxSessions int, observer Observer, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		factory:     factory,
		maxSessions: maxSessions,
		observer:    observer,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*entry),
	}
}

// Launch starts a session for invite. Launching an invite that already has a
// running session is a no-op.
func (h *Hub) Launch(ctx context.Context, invite *entities.Invite) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := h.sessions[invite.ID]; exists {
		h.mu.Unlock()
		h.logger.Info("Session already running", zap.String("inviteID", invite.ID))
		return nil
	}
	if h.maxSessions > 0 && len(h.sessions) >= h.maxSessions {
		h.mu.Unlock()
		return fmt.Errorf("%w: %d sessions running", domain.ErrAtCapacity, h.maxSessions)
	}
	// Reserve the slot while the session is prepared.
	e := &entry{invite: invite}
	h.sessions[invite.ID] = e
	h.wg.Add(1)
	active := len(h.sessions)
	h.mu.Unlock()

	runner, err := h.factory.NewSession(ctx, invite)
	if err != nil {
		h.release(invite.ID)
		h.wg.Done()
		return fmt.Errorf("failed to prepare session: %w", err)
	}

	h.mu.Lock()
	e.runner = runner
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.ActiveSessions(active)
	}
	h.logger.Info("Session launched",
		zap.String("inviteID", invite.ID),
		zap.String("sessionID", runner.ID()),
		zap.String("platform", string(invite.Platform)))

	go h.run(invite.ID, runner)
	return nil
}

func (h *Hub) run(inviteID string, runner Runner) {
	defer h.wg.Done()

	artifact, err := runner.Run(h.ctx)
	outcome := string(entities.EndReasonNotAdmitted)
	if artifact != nil {
		outcome = string(artifact.EndReason)
	}

	logger := h.logger.With(
		zap.String("inviteID", inviteID),
		zap.String("sessionID", runner.ID()))
	if err != nil {
		logger.Warn("Session ended without recording", zap.Error(err))
	} else {
		logger.Info("Session ended", zap.String("outcome", outcome))
	}

	active := h.release(inviteID)
	if h.observer != nil {
		h.observer.SessionEnded(outcome)
		h.observer.ActiveSessions(active)
	}
}

func (h *Hub) release(inviteID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, inviteID)
	return len(h.sessions)
}

// Sessions returns a snapshot of every running session, oldest first
func (h *Hub) Sessions() []entities.SessionSnapshot {
	h.mu.RLock()
	out := make([]entities.SessionSnapshot, 0, len(h.sessions))
	for _, e := range h.sessions {
		if e.runner == nil {
			continue
		}
		out = append(out, e.runner.Snapshot())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].InviteID < out[j].InviteID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Session finds a running session by session id or invite id
func (h *Hub) Session(id string) (entities.SessionSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if e, exists := h.sessions[id]; exists && e.runner != nil {
		return e.runner.Snapshot(), true
	}
	for _, e := range h.sessions {
		if e.runner != nil && e.runner.ID() == id {
			return e.runner.Snapshot(), true
		}
	}
	return entities.SessionSnapshot{}, false
}

// Count returns the number of running or starting sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown refuses new sessions, ends the running ones through Finishing and
// waits for them until ctx is done
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	running := len(h.sessions)
	h.mu.Unlock()

	h.logger.Info("Draining sessions", zap.Int("running", running))
	h.cancel()

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		h.logger.Info("All sessions drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain %d sessions: %w", h.Count(), ctx.Err())
	}
}

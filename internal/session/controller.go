// Package session runs one scribe session from join to leave.
//
// A Controller is an actor: Run owns the session state, the caption log, the
// speaker history and the raw-message log on a single goroutine. Platform
// callbacks, the join attempt, recognition results and timers only post
// events to it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
	"github.com/satriahrh/scribe/internal/command"
	"github.com/satriahrh/scribe/internal/transcript"
)

// Deliverer receives the artifact of a finished session
type Deliverer interface {
	Deliver(ctx context.Context, artifact *entities.Artifact) error
}

// Observer is notified of state changes. Implementations must not block.
type Observer interface {
	SessionTransition(from, to entities.SessionState)
	CaptionsProduced(n int)
}

// Config holds the per-session limits
type Config struct {
	ScribeName      string
	WaitingTimeout  time.Duration
	MeetingTimeout  time.Duration
	LeaveTimeout    time.Duration
	DeliveryTimeout time.Duration
	StatusTimeout   time.Duration
	ChunkSize       int
	Audio           repositories.AudioConfig

	// SystemSenders are chat senders whose messages are platform notices.
	SystemSenders []string
}

// DefaultConfig mirrors the production limits
func DefaultConfig() Config {
	return Config{
		WaitingTimeout:  5 * time.Minute,
		MeetingTimeout:  6 * time.Hour,
		LeaveTimeout:    30 * time.Second,
		DeliveryTimeout: 5 * time.Minute,
		StatusTimeout:   5 * time.Second,
		ChunkSize:       1024,
		SystemSenders:   command.DefaultSystemSenders(),
		Audio: repositories.AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			Encoding:   "LINEAR16",
			Language:   "en-US",
		},
	}
}

// Dependencies are the collaborators of one session
type Dependencies struct {
	Platform   repositories.MeetingPlatform
	Recognizer repositories.SpeechRecognizer
	Audio      repositories.AudioSource
	Invites    repositories.InviteRepository
	Deliverer  Deliverer
	Observer   Observer
	Now        func() time.Time
}

type timerKind string

const (
	timerAdmission timerKind = "admission"
	timerMeeting   timerKind = "meeting"
)

type timerFired struct {
	kind  timerKind
	phase uint64
}

type joinResult struct {
	admission repositories.Admission
	err       error
}


// Controller drives one session through its state machine
type Controller struct {
	id     string
	invite *entities.Invite
	cfg    Config
	deps   Dependencies
	logger *zap.Logger

	identity    string
	interpreter *command.Interpreter
	aggregator  *transcript.Aggregator

	// actor-owned
	state       entities.SessionState
	phase       uint64
	timer       *time.Timer
	rawMessages []string
	attachments map[string]string
	startedAt   time.Time
	endReason   entities.EndReason
	streamStop  context.CancelFunc
	stream      repositories.RecognitionStream
	audio       interface{ Close() error }

	// inbound queues, one per source
	speakers  chan entities.SpeakerEvent
	chats     chan entities.ChatMessage
	ended     chan error
	joined    chan joinResult
	timers    chan timerFired
	results   chan entities.RecognitionResult
	streamEnd chan error

	// audio gate read by the pump goroutine
	recording atomic.Bool

	done chan struct{}

	mu       sync.RWMutex
	snapshot entities.SessionSnapshot
}

// New creates a controller for invite. Nothing happens until Run.
func New(invite *entities.Invite, deps Dependencies, cfg Config, logger *zap.Logger) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}

	id := uuid.NewString()
	identity := command.Identity(cfg.ScribeName)
	c := &Controller{
		id:          id,
		invite:      invite,
		cfg:         cfg,
		deps:        deps,
		identity:    identity,
		interpreter: command.NewInterpreter(identity, cfg.SystemSenders...),
		aggregator:  transcript.New(),
		state:       entities.SessionStateWaiting,
		attachments: make(map[string]string),
		speakers:    make(chan entities.SpeakerEvent, 256),
		chats:       make(chan entities.ChatMessage, 256),
		ended:       make(chan error, 1),
		joined:      make(chan joinResult, 1),
		timers:      make(chan timerFired, 4),
		results:     make(chan entities.RecognitionResult, 64),
		streamEnd:   make(chan error, 1),
		done:        make(chan struct{}),
		logger: logger.With(
			zap.String("sessionID", id),
			zap.String("inviteID", invite.ID),
		),
	}
	c.snapshot = entities.SessionSnapshot{
		SessionID:   id,
		InviteID:    invite.ID,
		MeetingName: invite.Name,
		Platform:    invite.Platform,
		State:       entities.SessionStateWaiting,
	}
	return c
}

// ID returns the session id
func (c *Controller) ID() string {
	return c.id
}

// Snapshot returns the latest published view of the session
func (c *Controller) Snapshot() entities.SessionSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// State returns the latest published session state
func (c *Controller) State() entities.SessionState {
	return c.Snapshot().State
}

// Run drives the session until it is Finished and returns the artifact handed
// to delivery. It returns no artifact when the scribe was never admitted.
// Canceling ctx ends a live session through Finishing.
func (c *Controller) Run(ctx context.Context) (*entities.Artifact, error) {
	defer close(c.done)

	c.deps.Platform.OnSpeakerChange(func(event entities.SpeakerEvent) {
		if event.Timestamp.IsZero() {
			event.Timestamp = c.deps.Now()
		}
		select {
		case c.speakers <- event:
		case <-c.done:
		}
	})
	c.deps.Platform.OnChatMessage(func(message entities.ChatMessage) {
		if message.ReceivedAt.IsZero() {
			message.ReceivedAt = c.deps.Now()
		}
		select {
		case c.chats <- message:
		case <-c.done:
		}
	})
	c.deps.Platform.OnMeetingEnd(func(err error) {
		select {
		case c.ended <- err:
		default:
		}
	})

	if err := c.join(ctx); err != nil {
		c.finishWithoutArtifact(ctx, err)
		return nil, err
	}

	c.live(ctx)
	return c.finish(ctx), nil
}

func (c *Controller) join(ctx context.Context) error {
	c.transition(entities.SessionStateJoining)
	c.updateStatus(ctx, entities.InviteStatusJoining)
	assignCtx, cancel := c.statusContext(ctx)
	if err := c.deps.Invites.AssignScribe(assignCtx, c.invite.ID, c.identity); err != nil {
		c.logger.Warn("Failed to assign scribe name", zap.Error(err))
	}
	cancel()
	c.arm(timerAdmission, c.cfg.WaitingTimeout)

	joinCtx, cancelJoin := context.WithCancel(ctx)
	defer cancelJoin()

	creds := repositories.JoinCredentials{
		Platform:    c.invite.Platform,
		MeetingID:   c.invite.MeetingID,
		Password:    c.invite.Password,
		DisplayName: c.identity,
	}
	go func() {
		admission, err := c.deps.Platform.Join(joinCtx, creds)
		c.joined <- joinResult{admission: admission, err: err}
	}()

	c.logger.Info("Joining meeting",
		zap.String("platform", string(c.invite.Platform)),
		zap.String("meetingID", c.invite.MeetingID))

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrNotAdmitted, ctx.Err())

		case s := <-c.speakers:
			c.aggregator.AddSpeaker(s.Name, s.Timestamp)
			c.publishCounts()

		case <-c.chats:
			// nothing is recorded before admission

		case err := <-c.ended:
			if err == nil {
				err = errors.New("meeting ended before admission")
			}
			return fmt.Errorf("%w: %v", domain.ErrNotAdmitted, err)

		case fired := <-c.timers:
			if !c.current(fired) {
				continue
			}
			c.logger.Warn("Not admitted before waiting timeout", zap.Duration("timeout", c.cfg.WaitingTimeout))
			return domain.ErrAdmissionTimeout

		case res := <-c.joined:
			if res.err != nil {
				return fmt.Errorf("%w: %v", domain.ErrNotAdmitted, res.err)
			}
			if res.admission != repositories.AdmissionAdmitted {
				return domain.ErrNotAdmitted
			}

			c.logger.Info("Admitted to meeting")
			for _, text := range command.IntroMessages(c.invite.Participants) {
				if err := c.deps.Platform.SendMessage(ctx, text); err != nil {
					return fmt.Errorf("%w: send introduction: %v", domain.ErrAdapterFailure, err)
				}
			}
			return nil
		}
	}
}

func (c *Controller) live(ctx context.Context) {
	c.startedAt = c.deps.Now()
	c.transition(entities.SessionStatePaused)
	c.updateStatus(ctx, entities.InviteStatusRunning)
	c.arm(timerMeeting, c.cfg.MeetingTimeout)
	c.startAudio(ctx)

	results := c.results
	for {
		select {
		case <-ctx.Done():
			c.endReason = entities.EndReasonShutdown
			return

		case s := <-c.speakers:
			c.aggregator.AddSpeaker(s.Name, s.Timestamp)
			c.publishCounts()

		case message := <-c.chats:
			if c.handleChat(ctx, message) {
				return
			}

		case result := <-results:
			if n := c.aggregator.Apply(result); n > 0 {
				c.publishCounts()
				if c.deps.Observer != nil {
					c.deps.Observer.CaptionsProduced(n)
				}
			}

		case err := <-c.streamEnd:
			// No reconnect: captions produced so far stay valid.
			results = nil
			if err != nil {
				c.logger.Warn("Recognition stream ended", zap.Error(fmt.Errorf("%w: %v", domain.ErrRecognitionStream, err)))
			} else {
				c.logger.Info("Recognition stream closed")
			}

		case err := <-c.ended:
			if err != nil {
				c.logger.Error("Platform adapter failed", zap.Error(err))
				c.endReason = entities.EndReasonAdapter
			} else {
				c.logger.Info("Meeting ended")
				c.endReason = entities.EndReasonMeetingEnd
			}
			return

		case fired := <-c.timers:
			if !c.current(fired) {
				continue
			}
			c.logger.Info("Meeting timeout reached", zap.Duration("timeout", c.cfg.MeetingTimeout))
			c.endReason = entities.EndReasonTimeout
			return
		}
	}
}

// handleChat applies one chat message and reports whether the session must finish
func (c *Controller) handleChat(ctx context.Context, message entities.ChatMessage) bool {
	decision := c.interpreter.Interpret(c.state, message)

	if decision.Record != "" {
		c.rawMessages = append(c.rawMessages, decision.Record)
		if decision.AttachmentTitle != "" && decision.AttachmentURL != "" {
			c.attachments[decision.AttachmentTitle] = decision.AttachmentURL
		}
		c.publishCounts()
	}

	if decision.Transition == "" {
		return false
	}

	if decision.Transition == entities.SessionStateFinishing {
		c.endReason = entities.EndReasonCommand
		c.logger.Info("End requested", zap.String("sender", message.Sender))
	} else {
		c.transition(decision.Transition)
		c.logger.Info("Recording toggled",
			zap.String("sender", message.Sender),
			zap.String("state", string(decision.Transition)))
	}

	for _, text := range decision.Replies {
		if err := c.deps.Platform.SendMessage(ctx, text); err != nil {
			c.logger.Error("Failed to acknowledge command", zap.Error(err))
			if c.endReason == "" {
				c.endReason = entities.EndReasonAdapter
			}
			return true
		}
	}
	return decision.Transition == entities.SessionStateFinishing
}

func (c *Controller) finish(ctx context.Context) *entities.Artifact {
	if c.endReason == "" {
		c.endReason = entities.EndReasonShutdown
	}
	c.transition(entities.SessionStateFinishing)
	c.stopAudio()

	cleanupCtx := context.WithoutCancel(ctx)
	c.updateStatus(cleanupCtx, entities.InviteStatusFinishing)
	c.leave(cleanupCtx)

	artifact := &entities.Artifact{
		SessionID:    c.id,
		InviteID:     c.invite.ID,
		MeetingName:  c.invite.Name,
		Platform:     c.invite.Platform,
		Participants: c.invite.Participants,
		Attendees:    c.aggregator.Attendees(),
		Captions:     c.aggregator.Captions(),
		RawMessages:  c.rawMessages,
		Attachments:  c.attachments,
		StartedAt:    c.startedAt,
		EndedAt:      c.deps.Now(),
		EndReason:    c.endReason,
	}

	if c.deps.Deliverer != nil {
		deliverCtx, cancel := context.WithTimeout(cleanupCtx, c.cfg.DeliveryTimeout)
		if err := c.deps.Deliverer.Deliver(deliverCtx, artifact); err != nil {
			c.logger.Error("Artifact delivery incomplete", zap.Error(err))
		}
		cancel()
	}

	c.updateStatus(cleanupCtx, entities.InviteStatusFinished)
	c.transition(entities.SessionStateFinished)

	deleteCtx, cancel := c.statusContext(cleanupCtx)
	defer cancel()
	if err := c.deps.Invites.Delete(deleteCtx, c.invite.ID); err != nil {
		c.logger.Warn("Failed to delete finished invite", zap.Error(err))
	}

	c.logger.Info("Session finished",
		zap.String("reason", string(c.endReason)),
		zap.Int("captions", len(artifact.Captions)),
		zap.Int("messages", len(artifact.RawMessages)))
	return artifact
}

// finishWithoutArtifact ends a session that never went live
func (c *Controller) finishWithoutArtifact(ctx context.Context, cause error) {
	c.disarm()
	c.logger.Warn("Session ended before admission", zap.Error(cause))

	cleanupCtx := context.WithoutCancel(ctx)
	c.leave(cleanupCtx)
	c.updateStatus(cleanupCtx, entities.InviteStatusFinished)
	c.transition(entities.SessionStateFinished)
}

func (c *Controller) leave(ctx context.Context) {
	leaveCtx, cancel := context.WithTimeout(ctx, c.cfg.LeaveTimeout)
	defer cancel()
	if err := c.deps.Platform.Leave(leaveCtx); err != nil {
		c.logger.Warn("Failed to leave meeting cleanly", zap.Error(err))
	}
}

// transition moves the actor to next and publishes it. Illegal moves are
// logged and ignored.
func (c *Controller) transition(next entities.SessionState) {
	prev := c.state
	if !prev.CanTransitionTo(next) {
		if prev != next {
			c.logger.Warn("Ignoring illegal transition",
				zap.String("from", string(prev)),
				zap.String("to", string(next)))
		}
		return
	}

	// The meeting deadline spans both live states, so only leaving the live
	// pair (or Joining) starts a new timer phase.
	if !(prev.IsLive() && next.IsLive()) {
		c.disarm()
	}

	c.state = next
	c.recording.Store(next == entities.SessionStateRecording)

	c.mu.Lock()
	c.snapshot.State = next
	if next == entities.SessionStatePaused && c.snapshot.StartedAt.IsZero() {
		c.snapshot.StartedAt = c.startedAt
	}
	c.mu.Unlock()

	if c.deps.Observer != nil {
		c.deps.Observer.SessionTransition(prev, next)
	}
}

func (c *Controller) publishCounts() {
	c.mu.Lock()
	c.snapshot.Captions = c.aggregator.Len()
	c.snapshot.Messages = len(c.rawMessages)
	c.snapshot.Speakers = len(c.aggregator.Attendees())
	c.mu.Unlock()
}

// arm starts a deadline for the current phase
func (c *Controller) arm(kind timerKind, d time.Duration) {
	if d <= 0 {
		return
	}
	fired := timerFired{kind: kind, phase: c.phase}
	c.timer = time.AfterFunc(d, func() {
		select {
		case c.timers <- fired:
		case <-c.done:
		}
	})
}

// disarm stops the current deadline and starts a new phase so a timer that
// already fired is recognized as stale
func (c *Controller) disarm() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.phase++
}

func (c *Controller) current(fired timerFired) bool {
	if fired.phase != c.phase {
		c.logger.Debug("Ignoring stale timer", zap.String("kind", string(fired.kind)))
		return false
	}
	return true
}

// statusContext bounds invite store writes. Status must still be written
// while the session is being shut down, so ctx cancellation is dropped.
func (c *Controller) statusContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.cfg.StatusTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (c *Controller) updateStatus(ctx context.Context, status entities.InviteStatus) {
	statusCtx, cancel := c.statusContext(ctx)
	defer cancel()
	if err := c.deps.Invites.UpdateStatus(statusCtx, c.invite.ID, status); err != nil {
		c.logger.Warn("Failed to update invite status",
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// Package delivery hands a finished session's artifact to the outside world:
// summary, attachment upload, persistence and notification, in that order.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain/entities"
)

const defaultHistory = 100

// Pipeline runs the delivery steps for each artifact. A failed step is
// recorded and the remaining steps still run.
type Pipeline struct {
	logger   *zap.Logger
	steps    []Step
	observer StepObserver
	history  int

	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
}

// NewPipeline creates a pipeline over steps, run in the given order
func NewPipeline(logger *zap.Logger, observer StepObserver, steps ...Step) *Pipeline {
	return &Pipeline{
		logger:   logger,
		steps:    steps,
		observer: observer,
		history:  defaultHistory,
		runs:     make(map[string]*Run),
	}
}

// Deliver runs every step against artifact and returns the joined errors of
// the steps that failed
func (p *Pipeline) Deliver(ctx context.Context, artifact *entities.Artifact) error {
	run := p.startRun(artifact)
	logger := p.logger.With(zap.String("sessionID", artifact.SessionID))

	var errs []error
	for i, step := range p.steps {
		if err := p.executeStep(ctx, run, artifact, i, step); err != nil {
			logger.Error("Delivery step failed",
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.ID(), err))
		}
	}

	p.completeRun(artifact.SessionID, len(errs) > 0)
	logger.Info("Delivery finished", zap.Int("failedSteps", len(errs)))
	return errors.Join(errs...)
}

// Run returns a copy of the delivery record for a session
func (p *Pipeline) Run(sessionID string) (Run, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	run, exists := p.runs[sessionID]
	if !exists {
		return Run{}, false
	}
	out := *run
	out.Steps = append([]StepExecution(nil), run.Steps...)
	return out, true
}

func (p *Pipeline) executeStep(ctx context.Context, run *Run, artifact *entities.Artifact, index int, step Step) error {
	started := time.Now()
	p.updateStep(run.SessionID, index, func(exec *StepExecution) {
		exec.State = StepStateRunning
		exec.StartedAt = &started
	})

	if err := ctx.Err(); err != nil {
		p.finishStep(run.SessionID, index, step, StepStateFailed, started, nil, err)
		return err
	}

	result := step.Execute(ctx, artifact)
	switch {
	case result.Error != nil:
		p.finishStep(run.SessionID, index, step, StepStateFailed, started, result.Data, result.Error)
		return result.Error
	case result.Skipped:
		p.finishStep(run.SessionID, index, step, StepStateSkipped, started, result.Data, nil)
	default:
		p.finishStep(run.SessionID, index, step, StepStateCompleted, started, result.Data, nil)
	}
	return nil
}

func (p *Pipeline) finishStep(sessionID string, index int, step Step, state StepState, started time.Time, data interface{}, err error) {
	now := time.Now()
	p.updateStep(sessionID, index, func(exec *StepExecution) {
		exec.State = state
		exec.CompletedAt = &now
		exec.Result = data
		if err != nil {
			exec.Error = err.Error()
		}
	})
	if p.observer != nil {
		p.observer.DeliveryStep(step.ID(), state, now.Sub(started))
	}
}

func (p *Pipeline) startRun(artifact *entities.Artifact) *Run {
	execs := make([]StepExecution, len(p.steps))
	for i, step := range p.steps {
		execs[i] = StepExecution{ID: step.ID(), State: StepStatePending}
	}
	run := &Run{
		SessionID: artifact.SessionID,
		InviteID:  artifact.InviteID,
		Steps:     execs,
		StartedAt: time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.runs[run.SessionID]; !exists {
		p.order = append(p.order, run.SessionID)
	}
	p.runs[run.SessionID] = run
	for len(p.order) > p.history {
		delete(p.runs, p.order[0])
		p.order = p.order[1:]
	}
	return run
}

func (p *Pipeline) completeRun(sessionID string, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if run, exists := p.runs[sessionID]; exists {
		now := time.Now()
		run.CompletedAt = &now
		run.Failed = failed
	}
}

func (p *Pipeline) updateStep(sessionID string, index int, apply func(*StepExecution)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if run, exists := p.runs[sessionID]; exists && index < len(run.Steps) {
		apply(&run.Steps[index])
	}
}

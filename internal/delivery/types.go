package delivery

import (
	"context"
	"time"

	"github.com/satriahrh/scribe/domain/entities"
)

// StepState represents the state of an individual delivery step
type StepState string

const (
	StepStatePending   StepState = "pending"
	StepStateRunning   StepState = "running"
	StepStateCompleted StepState = "completed"
	StepStateSkipped   StepState = "skipped"
	StepStateFailed    StepState = "failed"
)

// StepID uniquely identifies a step within the pipeline
type StepID string

const (
	StepSummarize StepID = "summarize"
	StepUpload    StepID = "upload_attachments"
	StepPersist   StepID = "persist"
	StepNotify    StepID = "notify"
)

// StepResult represents the result of a step execution
type StepResult struct {
	Skipped bool
	Data    interface{}
	Error   error
}

// Step is one stage of artifact delivery. Steps may enrich the artifact
// for the steps after them.
type Step interface {
	ID() StepID
	Execute(ctx context.Context, artifact *entities.Artifact) StepResult
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID          StepID      `json:"id"`
	State       StepState   `json:"state"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       string      `json:"error,omitempty"`
	Result      interface{} `json:"result,omitempty"`
}

// Run is the record of delivering one artifact
type Run struct {
	SessionID   string          `json:"session_id"`
	InviteID    string          `json:"invite_id"`
	Steps       []StepExecution `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Failed      bool            `json:"failed"`
}

// StepObserver is told how long each step took
type StepObserver interface {
	DeliveryStep(step StepID, state StepState, elapsed time.Duration)
}

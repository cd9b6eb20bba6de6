package gateway

import (
	"context"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks the handling of one inbound event against its context.
type Run struct {
	ID         types.RunID
	Key        types.ContextKey
	Event      *types.InboundEvent
	Status     RunStatus
	Attempts   int
	CreatedAt  time.Time
	StartedAt  *time.Time
	EndedAt    *time.Time
	Error      error
	Ctx        context.Context
	OnComplete func(response string)
}

// NewRun creates a Run in the Queued state for the given event.
func NewRun(event *types.InboundEvent) *Run {
	return &Run{
		ID:        types.NewRunID(),
		Key:       event.Key,
		Event:     event,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}

// Reply hands response to the run's completion callback, if any.
func (r *Run) Reply(response string) {
	if r.OnComplete != nil {
		r.OnComplete(response)
	}
}

// Context returns the run's context, falling back to Background for runs
// that were never dequeued.
func (r *Run) Context() context.Context {
	if r.Ctx != nil {
		return r.Ctx
	}
	return context.Background()
}

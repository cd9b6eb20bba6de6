// Package gateway serialises inbound chat events per conversation and bounds
// how many conversations are processed at once.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// ErrClosed is returned by HandleInbound once Close has been called.
var ErrClosed = errors.New("gateway: closed")

// Gateway wraps each inbound event in a Run and enqueues it on the lane for
// its context key.
type Gateway struct {
	Queue  *Queue
	closed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway with the given limit on simultaneously processed
// contexts (default 2).
func New(maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		Queue: NewQueue(concurrency),
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Close stops accepting new events. Runs already queued keep going.
func (g *Gateway) Close() {
	g.closed.Store(true)
}

// Drain closes the gateway and waits up to timeout for in-flight and queued
// runs to finish. It reports whether the queue went idle in time.
func (g *Gateway) Drain(timeout time.Duration) bool {
	g.Close()
	return g.Queue.WaitIdle(timeout)
}

// Stop closes the gateway, cancels its context, stops the queue, and waits
// for lane goroutines to exit.
func (g *Gateway) Stop() {
	g.Close()
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked with the reply text of the run.
func WithOnComplete(fn func(string)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// HandleInbound wraps the event in a Run and enqueues it.
func (g *Gateway) HandleInbound(ctx context.Context, event *types.InboundEvent, opts ...RunOption) error {
	if g.closed.Load() {
		return ErrClosed
	}
	if event.Key.ChannelID == "" {
		return fmt.Errorf("inbound event from %s has no channel", event.Source)
	}
	run := NewRun(event)
	for _, opt := range opts {
		opt(run)
	}
	return g.Queue.Enqueue(run)
}

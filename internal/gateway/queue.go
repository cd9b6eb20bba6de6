package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

const laneBuffer = 100

// Queue manages per-context lanes with a global concurrency semaphore.
// Each context gets its own FIFO channel (lane) so that messages within a
// conversation are handled in arrival order, while the semaphore limits the
// total number of concurrent run processors across all contexts.
type Queue struct {
	lanes     map[types.ContextKey]chan *Run
	semaphore *semaphore.Weighted
	processor func(*Run) error
	pending   atomic.Int64
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all lanes.
func NewQueue(maxConcurrent int64) *Queue {
	return &Queue{
		lanes:     make(map[types.ContextKey]chan *Run),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its context's lane, creating the lane (and its
// goroutine) on first use. Returns an error if the lane's buffer is full.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrClosed
	}

	lane, exists := q.lanes[run.Key]
	if !exists {
		lane = make(chan *Run, laneBuffer)
		q.lanes[run.Key] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	q.pending.Add(1)
	select {
	case lane <- run:
		return nil
	default:
		q.pending.Add(-1)
		return fmt.Errorf("queue full for context %s", run.Key)
	}
}

// processLane drains a single lane, acquiring a semaphore slot before
// running the processor synchronously.
func (q *Queue) processLane(lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			q.process(run)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) process(run *Run) {
	defer q.pending.Add(-1)
	if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
		run.Status = RunStatusFailed
		run.Error = err
		return
	}
	defer q.semaphore.Release(1)

	if q.processor == nil {
		return
	}
	started := time.Now()
	run.StartedAt = &started
	run.Status = RunStatusRunning
	run.Attempts++
	run.Ctx = q.ctx

	err := q.processor(run)

	ended := time.Now()
	run.EndedAt = &ended
	if err != nil {
		run.Status = RunStatusFailed
		run.Error = err
		slog.Error("run failed", "run_id", string(run.ID), "context", run.Key.String(), "error", err)
		run.Reply("Sorry, something went wrong processing your message.")
		return
	}
	run.Status = RunStatusComplete
}

// Pending returns the number of runs queued or in progress.
func (q *Queue) Pending() int64 {
	return q.pending.Load()
}

// WaitIdle blocks until no runs are queued or being processed, or the timeout
// expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}

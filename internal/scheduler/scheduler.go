// Package scheduler periodically prunes and saves the bot state, and
// performs the final save on shutdown.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/Emperor-Ovaltine/gideon/internal/metrics"
	"github.com/Emperor-Ovaltine/gideon/internal/persistence"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
)

// Saver writes a state document. *persistence.FileStore implements it.
type Saver interface {
	Save(ctx context.Context, doc persistence.Document) error
}

// Config controls the autosave cadence.
type Config struct {
	// Interval between autosave ticks.
	Interval time.Duration
	// PruneEvery makes every Nth tick prune before saving. Zero never prunes.
	PruneEvery int
	// IOTimeout bounds each save.
	IOTimeout time.Duration
	// ThreadIdle removes threads without activity for this long on prune
	// ticks. Zero keeps idle threads.
	ThreadIdle time.Duration
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// "@every 5m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Autosaver drives pruning and persistence. At most one save runs at a
// time; a tick that finds a save in flight is skipped.
type Autosaver struct {
	snap    *persistence.Snapshotter
	store   Saver
	cfg     Config
	metrics *metrics.Metrics

	cron *cron.Cron
	sem  *semaphore.Weighted
	// cycles counts completed ticks; guarded by sem.
	cycles int
}

// New creates an Autosaver. m may be nil.
func New(snap *persistence.Snapshotter, store Saver, cfg Config, m *metrics.Metrics) *Autosaver {
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = 10 * time.Second
	}
	return &Autosaver{
		snap:    snap,
		store:   store,
		cfg:     cfg,
		metrics: m,
		cron:    cron.New(cron.WithParser(cronParser)),
		sem:     semaphore.NewWeighted(1),
	}
}

// Start registers the autosave tick and starts the cron ticker.
func (a *Autosaver) Start() error {
	if a.cfg.Interval <= 0 {
		return fmt.Errorf("autosave interval must be positive, got %s", a.cfg.Interval)
	}
	spec := "@every " + a.cfg.Interval.String()
	if _, err := a.cron.AddFunc(spec, func() { a.Tick(context.Background()) }); err != nil {
		return fmt.Errorf("schedule autosave: %w", err)
	}
	a.cron.Start()
	slog.Info("autosave scheduled", "interval", a.cfg.Interval, "prune_every", a.cfg.PruneEvery)
	return nil
}

// Tick runs one autosave cycle. It reports false when the cycle was skipped
// because another save was in flight.
func (a *Autosaver) Tick(ctx context.Context) bool {
	if !a.sem.TryAcquire(1) {
		slog.Warn("autosave skipped, previous save still running")
		a.metrics.RecordSkippedSave()
		return false
	}
	defer a.sem.Release(1)

	a.cycles++
	if a.cfg.PruneEvery > 0 && a.cycles%a.cfg.PruneEvery == 0 {
		a.prune()
	}
	if err := a.save(ctx, "autosave"); err != nil {
		// Not fatal: the next tick retries with the then-current state.
		slog.Error("autosave failed", "error", err)
	}
	return true
}

// Cycles returns the number of ticks that ran.
func (a *Autosaver) Cycles() int {
	if err := a.sem.Acquire(context.Background(), 1); err != nil {
		return 0
	}
	defer a.sem.Release(1)
	return a.cycles
}

// Prune applies retention to every context immediately.
func (a *Autosaver) Prune() state.PruneReport {
	return a.prune()
}

func (a *Autosaver) prune() state.PruneReport {
	report := a.snap.Contexts.PruneAll(a.snap.Settings.Limits, a.cfg.ThreadIdle)
	a.metrics.RecordPrune(report.Dropped, report.ThreadsRemoved)
	slog.Info("pruned contexts",
		"contexts", report.Contexts,
		"dropped", report.Dropped,
		"threads_removed", report.ThreadsRemoved,
	)
	return report
}

// save snapshots and writes the state under the IO timeout. Caller must
// hold sem.
func (a *Autosaver) save(ctx context.Context, trigger string) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.IOTimeout)
	defer cancel()

	doc := a.snap.Snapshot()
	a.metrics.UpdateStore(len(doc.Contexts), doc.MessageCount())

	start := time.Now()
	err := a.store.Save(ctx, doc)
	a.metrics.RecordSave(trigger, time.Since(start), err)
	if err != nil {
		return err
	}
	slog.Debug("state saved", "trigger", trigger, "contexts", len(doc.Contexts), "duration", time.Since(start))
	return nil
}

// SaveNow waits for any running save and then saves without pruning.
func (a *Autosaver) SaveNow(ctx context.Context) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer a.sem.Release(1)
	return a.save(ctx, "manual")
}

// Stop stops the cron ticker and waits for a running tick to finish.
func (a *Autosaver) Stop() {
	<-a.cron.Stop().Done()
}

// Shutdown stops the ticker and performs the final full save. It never
// prunes. The caller must already have stopped accepting new mutations.
func (a *Autosaver) Shutdown(ctx context.Context) error {
	a.Stop()
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for running save: %w", err)
	}
	defer a.sem.Release(1)
	if err := a.save(ctx, "shutdown"); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	slog.Info("final state saved")
	return nil
}

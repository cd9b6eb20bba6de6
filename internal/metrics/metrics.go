// Package metrics provides Prometheus metrics for gideon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every gideon metric. A nil *Metrics records nothing, so
// components can be built without one.
type Metrics struct {
	Registry *prometheus.Registry

	// Store metrics
	Contexts     prometheus.Gauge
	Messages     prometheus.Gauge
	PruneDropped prometheus.Counter
	ThreadsIdle  prometheus.Counter

	// Persistence metrics
	SavesTotal   *prometheus.CounterVec
	SaveDuration prometheus.Histogram
	SavesSkipped prometheus.Counter

	// Adventure metrics
	AdventureTurns   prometheus.Counter
	DiceRolls        prometheus.Counter
	VisualizationDue prometheus.Counter
	ImagesTotal      *prometheus.CounterVec

	// Chat metrics
	CompletionsTotal   *prometheus.CounterVec
	CompletionDuration prometheus.Histogram
}

// New creates all metrics on a fresh registry that also carries the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates all metrics on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{Registry: reg}

	m.Contexts = f.NewGauge(prometheus.GaugeOpts{
		Name: "gideon_contexts",
		Help: "Number of conversation contexts held in memory",
	})
	m.Messages = f.NewGauge(prometheus.GaugeOpts{
		Name: "gideon_messages",
		Help: "Number of messages held across all contexts",
	})
	m.PruneDropped = f.NewCounter(prometheus.CounterOpts{
		Name: "gideon_prune_dropped_messages_total",
		Help: "Messages dropped by retention pruning",
	})
	m.ThreadsIdle = f.NewCounter(prometheus.CounterOpts{
		Name: "gideon_prune_removed_threads_total",
		Help: "Idle threads removed by pruning",
	})

	m.SavesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "gideon_state_saves_total",
		Help: "State saves by trigger and result",
	}, []string{"trigger", "status"})
	m.SaveDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "gideon_state_save_duration_seconds",
		Help:    "Duration of state saves in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
	m.SavesSkipped = f.NewCounter(prometheus.CounterOpts{
		Name: "gideon_state_saves_skipped_total",
		Help: "Autosave ticks skipped because a save was already running",
	})

	m.AdventureTurns = f.NewCounter(prometheus.CounterOpts{
		Name: "gideon_adventure_turns_total",
		Help: "Adventure turns taken (actions and rolls)",
	})
	m.DiceRolls = f.NewCounter(prometheus.CounterOpts{
		Name: "gideon_dice_rolls_total",
		Help: "Dice rolls resolved",
	})
	m.VisualizationDue = f.NewCounter(prometheus.CounterOpts{
		Name: "gideon_adventure_visualizations_due_total",
		Help: "Turns on which a scene image was due",
	})
	m.ImagesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "gideon_scene_images_total",
		Help: "Scene image generations by result",
	}, []string{"status"})

	m.CompletionsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "gideon_completions_total",
		Help: "Model completions by result",
	}, []string{"status"})
	m.CompletionDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "gideon_completion_duration_seconds",
		Help:    "Duration of model completions in seconds",
		Buckets: prometheus.DefBuckets,
	})

	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSave records a finished save.
func (m *Metrics) RecordSave(trigger string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SavesTotal.WithLabelValues(trigger, status(err)).Inc()
	m.SaveDuration.Observe(duration.Seconds())
}

// RecordSkippedSave records a tick that found a save in flight.
func (m *Metrics) RecordSkippedSave() {
	if m == nil {
		return
	}
	m.SavesSkipped.Inc()
}

// RecordPrune records the outcome of a prune pass.
func (m *Metrics) RecordPrune(dropped, threadsRemoved int) {
	if m == nil {
		return
	}
	m.PruneDropped.Add(float64(dropped))
	m.ThreadsIdle.Add(float64(threadsRemoved))
}

// UpdateStore sets the store size gauges.
func (m *Metrics) UpdateStore(contexts, messages int) {
	if m == nil {
		return
	}
	m.Contexts.Set(float64(contexts))
	m.Messages.Set(float64(messages))
}

// RecordTurn records an adventure turn.
func (m *Metrics) RecordTurn(roll, visualizationDue bool) {
	if m == nil {
		return
	}
	m.AdventureTurns.Inc()
	if roll {
		m.DiceRolls.Inc()
	}
	if visualizationDue {
		m.VisualizationDue.Inc()
	}
}

// RecordRoll records a standalone dice roll.
func (m *Metrics) RecordRoll() {
	if m == nil {
		return
	}
	m.DiceRolls.Inc()
}

// RecordImage records a scene image attempt.
func (m *Metrics) RecordImage(err error) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(status(err)).Inc()
}

// RecordCompletion records a model call.
func (m *Metrics) RecordCompletion(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.CompletionsTotal.WithLabelValues(status(err)).Inc()
	m.CompletionDuration.Observe(duration.Seconds())
}

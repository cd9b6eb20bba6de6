// Package imaging draws adventure scene pictures in the background and
// sends them to the conversation that asked for them.
package imaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/delivery"
	"github.com/Emperor-Ovaltine/gideon/internal/events"
	"github.com/Emperor-Ovaltine/gideon/internal/gateway"
	"github.com/Emperor-Ovaltine/gideon/internal/metrics"
	"github.com/Emperor-Ovaltine/gideon/internal/prompt"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Deliverer sends a reply to a route.
type Deliverer interface {
	Deliver(route string, out delivery.Outbound) error
}

// Worker turns VisualizationDue events into delivered images.
type Worker struct {
	generator types.ImageGenerator
	delivery  Deliverer
	retry     *gateway.RetryPolicy
	metrics   *metrics.Metrics
	timeout   time.Duration
}

// NewWorker creates a worker. A zero timeout bounds each picture, retries
// included, to two minutes.
func NewWorker(gen types.ImageGenerator, d Deliverer, retry *gateway.RetryPolicy, m *metrics.Metrics, timeout time.Duration) *Worker {
	if retry == nil {
		retry = gateway.DefaultRetryPolicy()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Worker{
		generator: gen,
		delivery:  d,
		retry:     retry,
		metrics:   m,
		timeout:   timeout,
	}
}

// Run handles events from bus until ctx is done or the bus closes.
func (w *Worker) Run(ctx context.Context, bus *events.Bus) error {
	return bus.HandleVisualizations(ctx, func(_ context.Context, ev events.VisualizationDue) {
		if err := w.Handle(ctx, ev); err != nil {
			slog.Warn("scene picture failed", "channel", ev.ChannelID, "turn", ev.Turn, "error", err)
		}
	})
}

// Handle generates and delivers the picture for one event.
func (w *Worker) Handle(ctx context.Context, ev events.VisualizationDue) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	p := prompt.ScenePrompt(prompt.SceneData{Setting: ev.Setting, Premise: ev.Premise, Scene: ev.Scene})

	var image []byte
	err := w.retry.Execute(ctx, func() error {
		var err error
		image, err = w.generator.GenerateImage(ctx, p)
		return err
	})
	w.metrics.RecordImage(err)
	if err != nil {
		return fmt.Errorf("generate scene for turn %d: %w", ev.Turn, err)
	}

	out := delivery.Outbound{
		Image:   image,
		Caption: fmt.Sprintf("Turn %d", ev.Turn),
	}
	if err := w.delivery.Deliver(ev.Route, out); err != nil {
		return fmt.Errorf("deliver scene for turn %d: %w", ev.Turn, err)
	}
	slog.Debug("scene picture delivered", "channel", ev.ChannelID, "turn", ev.Turn, "bytes", len(image))
	return nil
}

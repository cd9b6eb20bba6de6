// Package events carries in-process notifications between the chat runtime
// and background workers using watermill's go channel pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// TopicVisualizationDue is published when an adventure turn should get a
// scene image.
const TopicVisualizationDue = "adventure.visualization_due"

// VisualizationDue describes the scene to illustrate.
type VisualizationDue struct {
	// Route is the delivery key the image should be sent to.
	Route       string            `json:"route"`
	ChannelID   string            `json:"channel_id"`
	AdventureID types.AdventureID `json:"adventure_id"`
	Turn        int               `json:"turn"`
	Setting     string            `json:"setting"`
	Premise     string            `json:"premise"`
	Scene       string            `json:"scene"`
}

// Bus is a thin typed wrapper over a gochannel pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a bus. Messages published with no subscriber are dropped.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 100},
			watermill.NewSlogLogger(slog.Default().With("component", "events")),
		),
	}
}

// PublishVisualization publishes ev on TopicVisualizationDue.
func (b *Bus) PublishVisualization(ev VisualizationDue) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", TopicVisualizationDue, err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(TopicVisualizationDue, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TopicVisualizationDue, err)
	}
	return nil
}

// HandleVisualizations subscribes to TopicVisualizationDue and calls fn for
// each event until ctx is done or the bus is closed. Every message is acked;
// fn is responsible for its own retries.
func (b *Bus) HandleVisualizations(ctx context.Context, fn func(context.Context, VisualizationDue)) error {
	msgs, err := b.pubsub.Subscribe(ctx, TopicVisualizationDue)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicVisualizationDue, err)
	}
	for msg := range msgs {
		var ev VisualizationDue
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			slog.Error("dropping malformed event", "topic", TopicVisualizationDue, "uuid", msg.UUID, "error", err)
			msg.Ack()
			continue
		}
		fn(msg.Context(), ev)
		msg.Ack()
	}
	return nil
}

// Close stops delivery; running handlers return once their channel drains.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

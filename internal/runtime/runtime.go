// Package runtime answers inbound chat events: slash commands change
// configuration or drive adventures, everything else is a chat turn against
// the context's resolved model.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/delivery"
	"github.com/Emperor-Ovaltine/gideon/internal/events"
	"github.com/Emperor-Ovaltine/gideon/internal/gateway"
	"github.com/Emperor-Ovaltine/gideon/internal/metrics"
	"github.com/Emperor-Ovaltine/gideon/internal/retention"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Deps are the collaborators a Runtime needs. Bus and Metrics are optional.
type Deps struct {
	Contexts   *state.ContextStore
	Settings   *state.Settings
	Adventures *adventure.Engine
	Generator  types.TextGenerator
	Retry      *gateway.RetryPolicy
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	Roller     adventure.Roller
	Now        func() time.Time
}

// Runtime processes gateway runs.
type Runtime struct {
	contexts   *state.ContextStore
	settings   *state.Settings
	resolver   *state.Resolver
	adventures *adventure.Engine
	generator  types.TextGenerator
	retry      *gateway.RetryPolicy
	bus        *events.Bus
	metrics    *metrics.Metrics
	roller     adventure.Roller
	now        func() time.Time
	registry   *Registry
}

// New creates a Runtime with the built-in commands registered.
func New(d Deps) *Runtime {
	rt := &Runtime{
		contexts:   d.Contexts,
		settings:   d.Settings,
		resolver:   state.NewResolver(d.Contexts, d.Settings),
		adventures: d.Adventures,
		generator:  d.Generator,
		retry:      d.Retry,
		bus:        d.Bus,
		metrics:    d.Metrics,
		roller:     d.Roller,
		now:        d.Now,
		registry:   NewRegistry(),
	}
	if rt.retry == nil {
		rt.retry = gateway.DefaultRetryPolicy()
	}
	if rt.roller == nil {
		rt.roller = adventure.DefaultRoller
	}
	if rt.now == nil {
		rt.now = time.Now
	}
	rt.registerCommands()
	return rt
}

// Registry exposes the command registry, e.g. for listing commands to a
// chat platform.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// Resolver returns the config resolver used for chat turns.
func (rt *Runtime) Resolver() *state.Resolver {
	return rt.resolver
}

// ProcessRun handles a single run. This is the function passed to
// Queue.SetProcessor.
func (rt *Runtime) ProcessRun(run *gateway.Run) error {
	ctx := run.Context()
	if run.Event == nil {
		return errors.New("run has no event")
	}

	if name, args, ok := ParseCommand(run.Event.Text); ok {
		return rt.dispatch(ctx, run, name, args)
	}

	reply, err := rt.chat(ctx, run.Key, run.Event)
	if err != nil {
		return err
	}
	run.Reply(reply)
	return nil
}

func (rt *Runtime) dispatch(ctx context.Context, run *gateway.Run, name, args string) error {
	cmd, ok := rt.registry.Get(name)
	if !ok {
		run.Reply(fmt.Sprintf("Unknown command /%s. Try /help.", name))
		return nil
	}
	req := &Request{Run: run, Key: run.Key, Event: run.Event, Name: name, Args: args}
	reply, err := cmd.Handler(ctx, req)
	if err != nil {
		if msg, ok := userMessage(err); ok {
			run.Reply(msg)
			return nil
		}
		return fmt.Errorf("command /%s: %w", name, err)
	}
	run.Reply(reply)
	return nil
}

// chat records the user's message, asks the resolved model for a reply and
// records it. The user message is kept even when generation fails.
func (rt *Runtime) chat(ctx context.Context, key types.ContextKey, ev *types.InboundEvent) (string, error) {
	now := rt.now()
	rt.contexts.Append(key, types.UserMessage(ev.UserName, ev.Text, now, ev.AttachmentRefs...))

	model, systemPrompt := rt.resolver.Resolve(key)
	history, _ := retention.Prune(rt.contexts.History(key), rt.resolver.Limits(key.ChannelID), now)

	reply, err := rt.generate(ctx, model, systemPrompt, history)
	if err != nil {
		return "", fmt.Errorf("chat in %s: %w", key, err)
	}
	rt.contexts.Append(key, types.AssistantMessage(reply, rt.now()))
	return reply, nil
}

// generate calls the text generator under the retry policy and records the
// outcome.
func (rt *Runtime) generate(ctx context.Context, model, systemPrompt string, history []types.Message) (string, error) {
	if rt.generator == nil {
		return "", errors.New("no text generator configured")
	}
	start := time.Now()
	var reply string
	err := rt.retry.Execute(ctx, func() error {
		var err error
		reply, err = rt.generator.Generate(ctx, model, systemPrompt, history)
		return err
	})
	rt.metrics.RecordCompletion(time.Since(start), err)
	if err != nil {
		return "", err
	}
	return reply, nil
}

// publishScene asks the image worker for a picture of the current scene.
func (rt *Runtime) publishScene(req *Request, turn adventure.Turn, scene string) {
	if rt.bus == nil {
		return
	}
	s := turn.Session
	ev := events.VisualizationDue{
		Route:       delivery.Route(req.Event.Source, req.Key),
		ChannelID:   s.ChannelID,
		AdventureID: s.ID,
		Turn:        turn.Number,
		Setting:     string(s.Setting),
		Premise:     s.Premise(),
		Scene:       scene,
	}
	if err := rt.bus.PublishVisualization(ev); err != nil {
		slog.Warn("publish scene image request failed", "channel", s.ChannelID, "turn", turn.Number, "error", err)
	}
}

// userMessage maps precondition failures to a reply for the user. Anything
// else is an internal failure.
func userMessage(err error) (string, bool) {
	var (
		dice  *adventure.InvalidDiceNotationError
		usage *usageError
	)
	switch {
	case errors.As(err, &usage):
		return usage.Error(), true
	case errors.As(err, &dice):
		return fmt.Sprintf("I can't roll %q: %s. Try something like 1d20+3.", dice.Notation, dice.Reason), true
	case errors.Is(err, adventure.ErrAdventureAlreadyActive):
		return "An adventure is already running here. Use /adventure end first.", true
	case errors.Is(err, adventure.ErrNoActiveAdventure):
		return "There's no adventure running here. Start one with /adventure start.", true
	case errors.Is(err, adventure.ErrDescriptionRequired):
		return "A Custom adventure needs a description: /adventure start custom <description>.", true
	case errors.Is(err, adventure.ErrUnknownSetting):
		return "Unknown setting. Choose Fantasy, Sci-Fi, Horror, Modern or Custom.", true
	case errors.Is(err, adventure.ErrInvalidFrequency):
		return "Image frequency must be 0 (off) or a positive number of turns.", true
	case errors.Is(err, state.ErrOutOfRange):
		return "That value is out of range: " + err.Error(), true
	case errors.Is(err, state.ErrThreadNotFound):
		return "This thread has no conversation yet.", true
	case errors.Is(err, state.ErrThreadExists):
		return "This thread already exists.", true
	case errors.Is(err, state.ErrInvalidKey), errors.Is(err, state.ErrUnknownChannel):
		return "That only works inside a thread.", true
	case errors.Is(err, state.ErrEmptyValue):
		return "Please give a value.", true
	}
	return "", false
}

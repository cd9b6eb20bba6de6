// internal/state/resolver.go
package state

import (
	"github.com/Emperor-Ovaltine/gideon/internal/retention"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Resolver picks the effective model and system prompt for a context:
// thread override, then channel override, then the global default.
// Resolution never fails and never returns an empty value.
type Resolver struct {
	contexts *ContextStore
	settings *Settings
}

func NewResolver(contexts *ContextStore, settings *Settings) *Resolver {
	return &Resolver{contexts: contexts, settings: settings}
}

// ResolveModel returns the model id for (channelID, threadID). threadID may be empty.
func (r *Resolver) ResolveModel(channelID, threadID string) string {
	if threadID != "" {
		if model, _ := r.contexts.Overrides(types.ThreadKey(channelID, threadID)); model != "" {
			return model
		}
	}
	if m := r.settings.Channel(channelID).ModelOverride; m != "" {
		return m
	}
	return r.settings.Global().Model
}

// ResolveSystemPrompt returns the system prompt for (channelID, threadID).
func (r *Resolver) ResolveSystemPrompt(channelID, threadID string) string {
	if threadID != "" {
		if _, prompt := r.contexts.Overrides(types.ThreadKey(channelID, threadID)); prompt != "" {
			return prompt
		}
	}
	if p := r.settings.Channel(channelID).PromptOverride; p != "" {
		return p
	}
	return r.settings.Global().Prompt
}

// Resolve is a convenience for both lookups on a context key.
func (r *Resolver) Resolve(key types.ContextKey) (model, prompt string) {
	return r.ResolveModel(key.ChannelID, key.ThreadID), r.ResolveSystemPrompt(key.ChannelID, key.ThreadID)
}

// Limits returns the retention limits for channelID.
func (r *Resolver) Limits(channelID string) retention.Limits {
	return r.settings.Limits(channelID)
}

// SetThreadModel overrides the model of an existing thread. An empty model
// clears the override.
func (r *Resolver) SetThreadModel(channelID, threadID, model string) error {
	if channelID == "" || threadID == "" {
		return ErrInvalidKey
	}
	return r.contexts.setOverride(types.ThreadKey(channelID, threadID), &model, nil)
}

// SetThreadPrompt overrides the system prompt of an existing thread.
func (r *Resolver) SetThreadPrompt(channelID, threadID, prompt string) error {
	if channelID == "" || threadID == "" {
		return ErrInvalidKey
	}
	return r.contexts.setOverride(types.ThreadKey(channelID, threadID), nil, &prompt)
}

// SetChannelModel overrides a channel's model. An empty model clears it.
func (r *Resolver) SetChannelModel(channelID, model string) error {
	return r.settings.updateChannel(channelID, func(c *ChannelConfig) { c.ModelOverride = model })
}

// SetChannelPrompt overrides a channel's system prompt. An empty prompt clears it.
func (r *Resolver) SetChannelPrompt(channelID, prompt string) error {
	return r.settings.updateChannel(channelID, func(c *ChannelConfig) { c.PromptOverride = prompt })
}

// SetGlobalModel changes the fallback model. Any non-empty identifier is accepted.
func (r *Resolver) SetGlobalModel(model string) error {
	if model == "" {
		return ErrEmptyValue
	}
	r.settings.updateGlobal(func(g *GlobalConfig) { g.Model = model })
	return nil
}

// SetGlobalPrompt changes the fallback system prompt.
func (r *Resolver) SetGlobalPrompt(prompt string) error {
	if prompt == "" {
		return ErrEmptyValue
	}
	r.settings.updateGlobal(func(g *GlobalConfig) { g.Prompt = prompt })
	return nil
}

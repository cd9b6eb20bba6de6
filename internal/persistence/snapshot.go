package persistence

import (
	"fmt"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
)

// Snapshotter moves the in-memory state in and out of a Document.
type Snapshotter struct {
	Contexts   *state.ContextStore
	Settings   *state.Settings
	Adventures *adventure.Engine
}

// Snapshot captures every context, channel config, the global defaults and
// every adventure. Each key is copied under its own lock, so the document
// is consistent per key rather than globally.
func (s *Snapshotter) Snapshot() Document {
	doc := Empty()
	doc.Contexts = s.Contexts.Export()
	doc.ChannelConfigs = s.Settings.Export()
	g := s.Settings.Global()
	doc.GlobalConfig = &g
	if s.Adventures != nil {
		doc.Adventures = s.Adventures.Export()
	}
	return doc
}

// Restore replaces the in-memory state with doc. Blank global fields keep
// their current values and out-of-range limits are clamped.
func (s *Snapshotter) Restore(doc Document) error {
	global := s.Settings.Global()
	if doc.GlobalConfig != nil {
		g := *doc.GlobalConfig
		if g.Model != "" {
			global.Model = g.Model
		}
		if g.Prompt != "" {
			global.Prompt = g.Prompt
		}
		if g.MaxMessages != 0 {
			global.MaxMessages = clampInt(g.MaxMessages, state.MinMaxMessages, state.MaxMaxMessages)
		}
		if g.WindowHours != 0 {
			global.WindowHours = clampInt(g.WindowHours, state.MinWindowHours, state.MaxWindowHours)
		}
	}
	if err := s.Settings.Import(global, doc.ChannelConfigs); err != nil {
		return fmt.Errorf("restore settings: %w", err)
	}
	s.Contexts.Import(doc.Contexts)
	if s.Adventures != nil {
		s.Adventures.Import(doc.Adventures)
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Package persistence stores the full bot state as a single JSON document
// and loads it back on startup.
package persistence

import (
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Version is the document schema written by this package.
const Version = 2

// Document is the durable snapshot of every context, channel config, the
// global defaults and every adventure.
type Document struct {
	Version        int                     `json:"version"`
	SavedAt        time.Time               `json:"saved_at,omitzero"`
	Contexts       []state.ContextSnapshot `json:"contexts"`
	ChannelConfigs []state.ChannelConfig   `json:"channel_configs"`
	GlobalConfig   *state.GlobalConfig     `json:"global_config,omitempty"`
	Adventures     []adventure.Session     `json:"adventures"`
}

// Empty returns a document with no contexts, configs or adventures. A nil
// GlobalConfig tells Restore to keep the configured defaults.
func Empty() Document {
	return Document{
		Version:        Version,
		Contexts:       []state.ContextSnapshot{},
		ChannelConfigs: []state.ChannelConfig{},
		Adventures:     []adventure.Session{},
	}
}

// IsEmpty reports whether doc holds no state at all.
func (d Document) IsEmpty() bool {
	return len(d.Contexts) == 0 && len(d.ChannelConfigs) == 0 && len(d.Adventures) == 0 && d.GlobalConfig == nil
}

// MessageCount totals the messages across all contexts.
func (d Document) MessageCount() int {
	n := 0
	for _, c := range d.Contexts {
		n += len(c.History)
	}
	return n
}

// normalize replaces nil slices so an empty document encodes as [] rather
// than null.
func (d *Document) normalize() {
	if d.Contexts == nil {
		d.Contexts = []state.ContextSnapshot{}
	}
	if d.ChannelConfigs == nil {
		d.ChannelConfigs = []state.ChannelConfig{}
	}
	if d.Adventures == nil {
		d.Adventures = []adventure.Session{}
	}
	for i := range d.Contexts {
		if d.Contexts[i].History == nil {
			d.Contexts[i].History = []types.Message{}
		}
	}
}

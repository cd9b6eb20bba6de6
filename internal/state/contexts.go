// internal/state/contexts.go
package state

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/keyed"
	"github.com/Emperor-Ovaltine/gideon/internal/retention"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

var (
	ErrThreadNotFound = errors.New("state: thread not found")
	ErrThreadExists   = errors.New("state: thread already exists")
	ErrInvalidKey     = errors.New("state: channel and thread ids are required")
)

// conversation is one context's history and overrides. All fields are
// guarded by mu.
type conversation struct {
	mu        sync.Mutex
	name      string
	createdAt time.Time
	history   []types.Message
	model     string
	prompt    string
}

// lastActivity returns the newest message time, or the creation time for an
// empty history. Caller must hold c.mu.
func (c *conversation) lastActivity() time.Time {
	if n := len(c.history); n > 0 {
		return c.history[n-1].Timestamp
	}
	return c.createdAt
}

// ContextSnapshot is the exported form of a context used by persistence and
// inspection tooling.
type ContextSnapshot struct {
	Key            types.ContextKey `json:"key"`
	History        []types.Message  `json:"history"`
	ModelOverride  string           `json:"model_override,omitempty"`
	PromptOverride string           `json:"prompt_override,omitempty"`
	DisplayName    string           `json:"display_name,omitempty"`
	CreatedAt      time.Time        `json:"created_at,omitzero"`
}

// ContextStore holds the message history of every channel and thread.
// Operations on the same key are serialised; different keys never block
// each other beyond the brief map lookup.
type ContextStore struct {
	contexts *keyed.Map[types.ContextKey, conversation]
	now      func() time.Time
}

// NewContextStore creates an empty store.
func NewContextStore() *ContextStore {
	return &ContextStore{
		contexts: keyed.New[types.ContextKey, conversation](),
		now:      time.Now,
	}
}

func (s *ContextStore) entry(key types.ContextKey) *conversation {
	return s.contexts.GetOrCreate(key, func() *conversation {
		return &conversation{createdAt: s.now()}
	})
}

// Append adds msg to the end of key's history, creating the context if it
// does not exist. A zero timestamp is stamped with the current time.
func (s *ContextStore) Append(key types.ContextKey, msg types.Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if len(msg.AttachmentRefs) > 0 {
		msg.AttachmentRefs = append([]string(nil), msg.AttachmentRefs...)
	}

	c := s.entry(key)
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()
}

// History returns a copy of key's messages in insertion order.
func (s *ContextStore) History(key types.ContextKey) []types.Message {
	c, ok := s.contexts.Get(key)
	if !ok {
		return []types.Message{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Message{}, c.history...)
}

// Reset clears key's history. Overrides and the thread name are kept.
func (s *ContextStore) Reset(key types.ContextKey) int {
	c, ok := s.contexts.Get(key)
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.history)
	c.history = nil
	return n
}

// CreateThread registers a thread context under channelID.
func (s *ContextStore) CreateThread(channelID, threadID, name string) error {
	if channelID == "" || threadID == "" {
		return ErrInvalidKey
	}
	key := types.ThreadKey(channelID, threadID)
	created := false
	s.contexts.GetOrCreate(key, func() *conversation {
		created = true
		return &conversation{name: name, createdAt: s.now()}
	})
	if !created {
		return ErrThreadExists
	}
	return nil
}

// DeleteThread discards a thread and its history.
func (s *ContextStore) DeleteThread(channelID, threadID string) error {
	if channelID == "" || threadID == "" {
		return ErrInvalidKey
	}
	if !s.contexts.Delete(types.ThreadKey(channelID, threadID)) {
		return ErrThreadNotFound
	}
	return nil
}

// RenameThread changes a thread's display name.
func (s *ContextStore) RenameThread(channelID, threadID, name string) error {
	c, ok := s.contexts.Get(types.ThreadKey(channelID, threadID))
	if !ok || threadID == "" {
		return ErrThreadNotFound
	}
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return nil
}

// Exists reports whether a context is registered for key.
func (s *ContextStore) Exists(key types.ContextKey) bool {
	_, ok := s.contexts.Get(key)
	return ok
}

// Statistics reports message count and time span for key. Unknown keys
// report zero values.
func (s *ContextStore) Statistics(key types.ContextKey) types.ContextStats {
	stats := types.ContextStats{Key: key}
	c, ok := s.contexts.Get(key)
	if !ok {
		return stats
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	stats.Name = c.name
	stats.MessageCount = len(c.history)
	if n := len(c.history); n > 0 {
		stats.Oldest = c.history[0].Timestamp
		stats.Newest = c.history[n-1].Timestamp
	}
	return stats
}

// List returns statistics for every context, ordered by key.
func (s *ContextStore) List() []types.ContextStats {
	keys := s.contexts.Keys()
	sortKeys(keys)
	out := make([]types.ContextStats, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Statistics(k))
	}
	return out
}

// Threads returns statistics for the threads of channelID, ordered by id.
func (s *ContextStore) Threads(channelID string) []types.ContextStats {
	var out []types.ContextStats
	for _, st := range s.List() {
		if st.Key.ChannelID == channelID && st.Key.IsThread() {
			out = append(out, st)
		}
	}
	return out
}

// Overrides returns the model and prompt overrides stored on key.
func (s *ContextStore) Overrides(key types.ContextKey) (model, prompt string) {
	c, ok := s.contexts.Get(key)
	if !ok {
		return "", ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model, c.prompt
}

// setOverride updates an override on an existing context. Empty values clear it.
func (s *ContextStore) setOverride(key types.ContextKey, model, prompt *string) error {
	c, ok := s.contexts.Get(key)
	if !ok {
		return ErrThreadNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if model != nil {
		c.model = *model
	}
	if prompt != nil {
		c.prompt = *prompt
	}
	return nil
}

// PruneReport summarises a PruneAll pass.
type PruneReport struct {
	Contexts       int
	Dropped        int
	ThreadsRemoved int
}

// PruneAll applies the retention policy to every context using the limits
// returned for its channel, and removes threads idle for longer than
// threadIdle.
func (s *ContextStore) PruneAll(limitsFor func(channelID string) retention.Limits, threadIdle time.Duration) PruneReport {
	now := s.now()
	var report PruneReport

	for _, key := range s.contexts.Keys() {
		if key.IsThread() && threadIdle > 0 {
			removed := s.contexts.DeleteIf(key, func(c *conversation) bool {
				c.mu.Lock()
				defer c.mu.Unlock()
				return retention.Expired(c.lastActivity(), threadIdle, now)
			})
			if removed {
				report.ThreadsRemoved++
				continue
			}
		}

		c, ok := s.contexts.Get(key)
		if !ok {
			continue
		}
		limits := limitsFor(key.ChannelID)
		c.mu.Lock()
		kept, dropped := retention.Prune(c.history, limits, now)
		c.history = kept
		c.mu.Unlock()

		report.Contexts++
		report.Dropped += dropped
	}
	return report
}

// Export copies every context into snapshot records ordered by key.
func (s *ContextStore) Export() []ContextSnapshot {
	keys := s.contexts.Keys()
	sortKeys(keys)
	out := make([]ContextSnapshot, 0, len(keys))
	for _, k := range keys {
		c, ok := s.contexts.Get(k)
		if !ok {
			continue
		}
		c.mu.Lock()
		out = append(out, ContextSnapshot{
			Key:            k,
			History:        append([]types.Message{}, c.history...),
			ModelOverride:  c.model,
			PromptOverride: c.prompt,
			DisplayName:    c.name,
			CreatedAt:      c.createdAt,
		})
		c.mu.Unlock()
	}
	return out
}

// Import replaces the store's contents with snapshots.
func (s *ContextStore) Import(snapshots []ContextSnapshot) {
	s.contexts.Reset()
	for _, snap := range snapshots {
		created := snap.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		s.contexts.Put(snap.Key, &conversation{
			name:      snap.DisplayName,
			createdAt: created,
			history:   append([]types.Message(nil), snap.History...),
			model:     snap.ModelOverride,
			prompt:    snap.PromptOverride,
		})
	}
}

func sortKeys(keys []types.ContextKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ChannelID != keys[j].ChannelID {
			return keys[i].ChannelID < keys[j].ChannelID
		}
		return keys[i].ThreadID < keys[j].ThreadID
	})
}

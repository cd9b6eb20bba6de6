package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/state"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// legacyDocument is the version 1 layout. Thread history lived in
// discord_threads; the older "threads" and "simple_id_mapping" maps are
// ignored.
type legacyDocument struct {
	ChannelHistory       map[string][]legacyMessage `json:"channel_history"`
	ChannelModels        map[string]string          `json:"channel_models"`
	ChannelSystemPrompts map[string]string          `json:"channel_system_prompts"`
	DiscordThreads       map[string]legacyThread    `json:"discord_threads"`
	MaxChannelHistory    int                        `json:"max_channel_history"`
	TimeWindowHours      int                        `json:"time_window_hours"`
	GlobalModel          string                     `json:"global_model"`
}

type legacyThread struct {
	Name      string          `json:"name"`
	ChannelID string          `json:"channel_id"`
	CreatedAt string          `json:"created_at"`
	Messages  []legacyMessage `json:"messages"`
}

type legacyMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Name      string          `json:"name"`
	Timestamp string          `json:"timestamp"`
}

// legacyTimeLayouts covers ISO strings with and without offset or fraction.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseLegacyTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// content accepts either a plain string or a list of parts of the form
// {"type":"text","text":...} / {"type":"image_url","image_url":{"url":...}}.
func (m legacyMessage) content() (string, []string) {
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return text, nil
	}
	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(m.Content, &parts); err != nil {
		return string(m.Content), nil
	}
	var texts, refs []string
	for _, p := range parts {
		switch p.Type {
		case "text":
			texts = append(texts, p.Text)
		case "image_url":
			if p.ImageURL.URL != "" {
				refs = append(refs, p.ImageURL.URL)
			}
		}
	}
	return strings.Join(texts, "\n"), refs
}

func convertLegacyMessages(in []legacyMessage, fallback time.Time) []types.Message {
	out := make([]types.Message, 0, len(in))
	for _, m := range in {
		role := types.Role(m.Role)
		if role != types.RoleUser && role != types.RoleAssistant {
			continue
		}
		content, refs := m.content()
		ts, ok := parseLegacyTime(m.Timestamp)
		if !ok {
			ts = fallback
		}
		out = append(out, types.Message{
			Role:           role,
			Content:        content,
			Author:         m.Name,
			AttachmentRefs: refs,
			Timestamp:      ts,
		})
	}
	return out
}

// migrateV1 converts a version 1 document. Messages without a usable
// timestamp are stamped with the migration time so the next prune applies
// the window from then.
func migrateV1(data []byte) (Document, error) {
	var legacy legacyDocument
	if err := json.Unmarshal(data, &legacy); err != nil {
		return Document{}, fmt.Errorf("decode version 1 state: %w", err)
	}
	now := time.Now()
	doc := Empty()

	for ch, history := range legacy.ChannelHistory {
		if ch == "" {
			continue
		}
		doc.Contexts = append(doc.Contexts, state.ContextSnapshot{
			Key:     types.ChannelKey(ch),
			History: convertLegacyMessages(history, now),
		})
	}

	for threadID, th := range legacy.DiscordThreads {
		if threadID == "" || th.ChannelID == "" || th.ChannelID == "unknown" {
			continue
		}
		created, ok := parseLegacyTime(th.CreatedAt)
		if !ok {
			created = now
		}
		doc.Contexts = append(doc.Contexts, state.ContextSnapshot{
			Key:         types.ThreadKey(th.ChannelID, threadID),
			History:     convertLegacyMessages(th.Messages, created),
			DisplayName: th.Name,
			CreatedAt:   created,
		})
	}
	sort.Slice(doc.Contexts, func(i, j int) bool {
		return doc.Contexts[i].Key.String() < doc.Contexts[j].Key.String()
	})

	channels := make(map[string]*state.ChannelConfig)
	cfgFor := func(id string) *state.ChannelConfig {
		c, ok := channels[id]
		if !ok {
			c = &state.ChannelConfig{ChannelID: id}
			channels[id] = c
		}
		return c
	}
	for id, model := range legacy.ChannelModels {
		if id != "" && model != "" {
			cfgFor(id).ModelOverride = model
		}
	}
	for id, prompt := range legacy.ChannelSystemPrompts {
		if id != "" && prompt != "" {
			cfgFor(id).PromptOverride = prompt
		}
	}
	ids := make([]string, 0, len(channels))
	for id := range channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		doc.ChannelConfigs = append(doc.ChannelConfigs, *channels[id])
	}

	if legacy.GlobalModel != "" || legacy.MaxChannelHistory != 0 || legacy.TimeWindowHours != 0 {
		// Restore fills the prompt from the configured default.
		doc.GlobalConfig = &state.GlobalConfig{
			Model:       legacy.GlobalModel,
			MaxMessages: legacy.MaxChannelHistory,
			WindowHours: legacy.TimeWindowHours,
		}
	}
	return doc, nil
}

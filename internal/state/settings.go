// internal/state/settings.go
package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Emperor-Ovaltine/gideon/internal/keyed"
	"github.com/Emperor-Ovaltine/gideon/internal/prompt"
	"github.com/Emperor-Ovaltine/gideon/internal/retention"
)

// DefaultModel is the global model used when none is configured.
const DefaultModel = "google/gemini-2.0-flash-exp:free"

// Memory limit bounds accepted by the administrative setters.
const (
	MinMaxMessages = 5
	MaxMaxMessages = 100
	MinWindowHours = 1
	MaxWindowHours = 96
)

var (
	ErrOutOfRange     = errors.New("state: value out of range")
	ErrUnknownChannel = errors.New("state: channel id required")
	ErrEmptyValue     = errors.New("state: global value must not be empty")
)

// GlobalConfig holds the process-wide defaults every resolution falls back to.
type GlobalConfig struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	MaxMessages int    `json:"max_messages"`
	WindowHours int    `json:"window_hours"`
}

// ChannelConfig holds per-channel overrides. Zero values mean "inherit".
type ChannelConfig struct {
	ChannelID      string `json:"channel_id"`
	ModelOverride  string `json:"model_override,omitempty"`
	PromptOverride string `json:"prompt_override,omitempty"`
	MaxMessages    int    `json:"max_messages,omitempty"`
	WindowHours    int    `json:"window_hours,omitempty"`
}

func (c ChannelConfig) empty() bool {
	return c.ModelOverride == "" && c.PromptOverride == "" && c.MaxMessages == 0 && c.WindowHours == 0
}

type channelEntry struct {
	mu  sync.Mutex
	cfg ChannelConfig
}

// Settings stores the global defaults and every channel's overrides.
type Settings struct {
	mu       sync.RWMutex
	global   GlobalConfig
	channels *keyed.Map[string, channelEntry]
}

// NewSettings creates a settings store seeded with global defaults. Limits
// outside the accepted ranges are clamped and a blank model or prompt falls
// back to DefaultModel or prompt.DefaultSystemPrompt.
func NewSettings(global GlobalConfig) *Settings {
	if strings.TrimSpace(global.Model) == "" {
		global.Model = DefaultModel
	}
	if strings.TrimSpace(global.Prompt) == "" {
		global.Prompt = prompt.DefaultSystemPrompt
	}
	global.MaxMessages = clamp(global.MaxMessages, MinMaxMessages, MaxMaxMessages)
	global.WindowHours = clamp(global.WindowHours, MinWindowHours, MaxWindowHours)
	return &Settings{
		global:   global,
		channels: keyed.New[string, channelEntry](),
	}
}

// Global returns a copy of the global defaults.
func (s *Settings) Global() GlobalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// SetGlobal replaces the global defaults after validating them.
func (s *Settings) SetGlobal(g GlobalConfig) error {
	if strings.TrimSpace(g.Model) == "" || strings.TrimSpace(g.Prompt) == "" {
		return ErrEmptyValue
	}
	if err := checkMaxMessages(g.MaxMessages); err != nil {
		return err
	}
	if err := checkWindowHours(g.WindowHours); err != nil {
		return err
	}
	s.mu.Lock()
	s.global = g
	s.mu.Unlock()
	return nil
}

func (s *Settings) updateGlobal(fn func(*GlobalConfig)) {
	s.mu.Lock()
	fn(&s.global)
	s.mu.Unlock()
}

// Channel returns channelID's overrides. Unknown channels report an empty config.
func (s *Settings) Channel(channelID string) ChannelConfig {
	e, ok := s.channels.Get(channelID)
	if !ok {
		return ChannelConfig{ChannelID: channelID}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (s *Settings) updateChannel(channelID string, fn func(*ChannelConfig)) error {
	if channelID == "" {
		return ErrUnknownChannel
	}
	e := s.channels.GetOrCreate(channelID, func() *channelEntry {
		return &channelEntry{cfg: ChannelConfig{ChannelID: channelID}}
	})
	e.mu.Lock()
	fn(&e.cfg)
	e.mu.Unlock()
	return nil
}

// SetMaxMessages sets the channel's history cap. Zero restores the default.
func (s *Settings) SetMaxMessages(channelID string, n int) error {
	if n != 0 {
		if err := checkMaxMessages(n); err != nil {
			return err
		}
	}
	return s.updateChannel(channelID, func(c *ChannelConfig) { c.MaxMessages = n })
}

// SetWindowHours sets the channel's time window. Zero restores the default.
func (s *Settings) SetWindowHours(channelID string, hours int) error {
	if hours != 0 {
		if err := checkWindowHours(hours); err != nil {
			return err
		}
	}
	return s.updateChannel(channelID, func(c *ChannelConfig) { c.WindowHours = hours })
}

// SetGlobalMaxMessages changes the default history cap.
func (s *Settings) SetGlobalMaxMessages(n int) error {
	if err := checkMaxMessages(n); err != nil {
		return err
	}
	s.updateGlobal(func(g *GlobalConfig) { g.MaxMessages = n })
	return nil
}

// SetGlobalWindowHours changes the default time window.
func (s *Settings) SetGlobalWindowHours(hours int) error {
	if err := checkWindowHours(hours); err != nil {
		return err
	}
	s.updateGlobal(func(g *GlobalConfig) { g.WindowHours = hours })
	return nil
}

// Limits returns channelID's effective retention limits.
func (s *Settings) Limits(channelID string) retention.Limits {
	g := s.Global()
	limits := retention.Limits{MaxMessages: g.MaxMessages, WindowHours: g.WindowHours}
	c := s.Channel(channelID)
	if c.MaxMessages != 0 {
		limits.MaxMessages = c.MaxMessages
	}
	if c.WindowHours != 0 {
		limits.WindowHours = c.WindowHours
	}
	return limits
}

// Export returns every non-empty channel config ordered by id.
func (s *Settings) Export() []ChannelConfig {
	ids := s.channels.Keys()
	sort.Strings(ids)
	out := make([]ChannelConfig, 0, len(ids))
	for _, id := range ids {
		c := s.Channel(id)
		if c.empty() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Import replaces all channel configs and the global defaults.
func (s *Settings) Import(global GlobalConfig, channels []ChannelConfig) error {
	if err := s.SetGlobal(global); err != nil {
		return fmt.Errorf("import global config: %w", err)
	}
	s.channels.Reset()
	for _, c := range channels {
		if c.ChannelID == "" {
			continue
		}
		if c.MaxMessages != 0 {
			c.MaxMessages = clamp(c.MaxMessages, MinMaxMessages, MaxMaxMessages)
		}
		if c.WindowHours != 0 {
			c.WindowHours = clamp(c.WindowHours, MinWindowHours, MaxWindowHours)
		}
		s.channels.Put(c.ChannelID, &channelEntry{cfg: c})
	}
	return nil
}

func checkMaxMessages(n int) error {
	if n < MinMaxMessages || n > MaxMaxMessages {
		return fmt.Errorf("max messages %d not in [%d,%d]: %w", n, MinMaxMessages, MaxMaxMessages, ErrOutOfRange)
	}
	return nil
}

func checkWindowHours(h int) error {
	if h < MinWindowHours || h > MaxWindowHours {
		return fmt.Errorf("window hours %d not in [%d,%d]: %w", h, MinWindowHours, MaxWindowHours, ErrOutOfRange)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

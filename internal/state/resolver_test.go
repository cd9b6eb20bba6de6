// internal/state/resolver_test.go
package state

import (
	"errors"
	"testing"
)

func newTestResolver(t *testing.T) (*Resolver, *ContextStore, *Settings) {
	t.Helper()
	store := NewContextStore()
	settings := NewSettings(GlobalConfig{
		Model:       "global-model",
		Prompt:      "global-prompt",
		MaxMessages: 35,
		WindowHours: 48,
	})
	return NewResolver(store, settings), store, settings
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name          string
		threadModel   string
		channelModel  string
		wantThread    string
		wantChannel   string
		wantNoThread  string
		threadPrompt  string
		channelPrompt string
		wantPrompt    string
	}{
		{
			name:         "global only",
			wantThread:   "global-model",
			wantChannel:  "global-model",
			wantNoThread: "global-model",
			wantPrompt:   "global-prompt",
		},
		{
			name:          "channel beats global",
			channelModel:  "channel-model",
			channelPrompt: "channel-prompt",
			wantThread:    "channel-model",
			wantChannel:   "channel-model",
			wantNoThread:  "channel-model",
			wantPrompt:    "channel-prompt",
		},
		{
			name:          "thread beats channel",
			threadModel:   "thread-model",
			channelModel:  "channel-model",
			threadPrompt:  "thread-prompt",
			channelPrompt: "channel-prompt",
			wantThread:    "thread-model",
			wantChannel:   "channel-model",
			wantNoThread:  "channel-model",
			wantPrompt:    "thread-prompt",
		},
		{
			name:         "thread beats global",
			threadModel:  "thread-model",
			threadPrompt: "thread-prompt",
			wantThread:   "thread-model",
			wantChannel:  "global-model",
			wantNoThread: "global-model",
			wantPrompt:   "thread-prompt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store, _ := newTestResolver(t)
			if err := store.CreateThread("C1", "T1", "t"); err != nil {
				t.Fatal(err)
			}
			if tt.threadModel != "" {
				if err := r.SetThreadModel("C1", "T1", tt.threadModel); err != nil {
					t.Fatal(err)
				}
			}
			if tt.threadPrompt != "" {
				if err := r.SetThreadPrompt("C1", "T1", tt.threadPrompt); err != nil {
					t.Fatal(err)
				}
			}
			if tt.channelModel != "" {
				if err := r.SetChannelModel("C1", tt.channelModel); err != nil {
					t.Fatal(err)
				}
			}
			if tt.channelPrompt != "" {
				if err := r.SetChannelPrompt("C1", tt.channelPrompt); err != nil {
					t.Fatal(err)
				}
			}

			if got := r.ResolveModel("C1", "T1"); got != tt.wantThread {
				t.Errorf("thread model = %s, want %s", got, tt.wantThread)
			}
			if got := r.ResolveModel("C1", ""); got != tt.wantChannel {
				t.Errorf("channel model = %s, want %s", got, tt.wantChannel)
			}
			if got := r.ResolveModel("C1", "unknown-thread"); got != tt.wantNoThread {
				t.Errorf("unknown thread model = %s, want %s", got, tt.wantNoThread)
			}
			if got := r.ResolveSystemPrompt("C1", "T1"); got != tt.wantPrompt {
				t.Errorf("thread prompt = %s, want %s", got, tt.wantPrompt)
			}
			if got := r.ResolveModel("other", ""); got != "global-model" {
				t.Errorf("other channel model = %s, want global-model", got)
			}
		})
	}
}

func TestSetThreadModelRequiresThread(t *testing.T) {
	r, _, _ := newTestResolver(t)
	if err := r.SetThreadModel("C1", "missing", "m"); !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound, got %v", err)
	}
	if err := r.SetThreadPrompt("C1", "", "p"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestSetChannelModelRequiresChannel(t *testing.T) {
	r, _, _ := newTestResolver(t)
	if err := r.SetChannelModel("", "m"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestClearChannelOverride(t *testing.T) {
	r, _, _ := newTestResolver(t)
	if err := r.SetChannelModel("C1", "x"); err != nil {
		t.Fatal(err)
	}
	if err := r.SetChannelModel("C1", ""); err != nil {
		t.Fatal(err)
	}
	if got := r.ResolveModel("C1", ""); got != "global-model" {
		t.Errorf("expected global fallback after clear, got %s", got)
	}
}

func TestGlobalNeverEmpty(t *testing.T) {
	r, _, _ := newTestResolver(t)
	if err := r.SetGlobalModel(""); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("expected ErrEmptyValue, got %v", err)
	}
	if err := r.SetGlobalPrompt(""); !errors.Is(err, ErrEmptyValue) {
		t.Errorf("expected ErrEmptyValue, got %v", err)
	}
	if err := r.SetGlobalModel("anything/at:all"); err != nil {
		t.Fatal(err)
	}
	if got := r.ResolveModel("C9", "T9"); got != "anything/at:all" {
		t.Errorf("expected new global model, got %s", got)
	}
}

// internal/types/ids.go
package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type RunID string
type AdventureID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewAdventureID() AdventureID {
	return AdventureID(uuid.New().String())
}

// ContextKey addresses one conversation: a channel, or a thread nested under
// a channel when ThreadID is set.
type ContextKey struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

func ChannelKey(channelID string) ContextKey {
	return ContextKey{ChannelID: channelID}
}

func ThreadKey(channelID, threadID string) ContextKey {
	return ContextKey{ChannelID: channelID, ThreadID: threadID}
}

// IsThread reports whether the key addresses a thread context.
func (k ContextKey) IsThread() bool {
	return k.ThreadID != ""
}

// Channel returns the key of the parent channel. For channel keys it is k itself.
func (k ContextKey) Channel() ContextKey {
	return ContextKey{ChannelID: k.ChannelID}
}

// String renders the key as "channel" or "channel/thread".
func (k ContextKey) String() string {
	if k.ThreadID == "" {
		return k.ChannelID
	}
	return k.ChannelID + "/" + k.ThreadID
}

// ParseContextKey is the inverse of String. The channel part may itself
// contain ':' (e.g. "telegram:42") but not '/'.
func ParseContextKey(s string) (ContextKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ContextKey{}, fmt.Errorf("empty context key")
	}
	channel, thread, _ := strings.Cut(s, "/")
	if channel == "" {
		return ContextKey{}, fmt.Errorf("context key %q has no channel", s)
	}
	if strings.Contains(thread, "/") {
		return ContextKey{}, fmt.Errorf("context key %q has too many segments", s)
	}
	return ContextKey{ChannelID: channel, ThreadID: thread}, nil
}

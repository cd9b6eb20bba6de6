// Package retention decides which messages of a history survive a prune pass.
package retention

import (
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Limits bounds a single context's history.
type Limits struct {
	MaxMessages int
	WindowHours int
}

// Window returns the time window as a duration.
func (l Limits) Window() time.Duration {
	return time.Duration(l.WindowHours) * time.Hour
}

// Prune drops every message older than now-window, then, if more than
// maxMessages remain, the oldest of the remainder. A message stamped exactly
// at the cutoff is kept. The input slice is not modified; the returned slice
// preserves the original relative order.
//
// A non-positive maxMessages disables the count cap and a non-positive
// windowHours disables the time window.
func Prune(history []types.Message, limits Limits, now time.Time) ([]types.Message, int) {
	kept := make([]types.Message, 0, len(history))
	if limits.WindowHours > 0 {
		cutoff := now.Add(-limits.Window())
		for _, msg := range history {
			if msg.Timestamp.Before(cutoff) {
				continue
			}
			kept = append(kept, msg)
		}
	} else {
		kept = append(kept, history...)
	}

	if limits.MaxMessages > 0 && len(kept) > limits.MaxMessages {
		kept = append([]types.Message(nil), kept[len(kept)-limits.MaxMessages:]...)
	}
	return kept, len(history) - len(kept)
}

// Expired reports whether a context whose newest activity happened at last is
// older than idle. Zero idle never expires.
func Expired(last time.Time, idle time.Duration, now time.Time) bool {
	if idle <= 0 || last.IsZero() {
		return false
	}
	return last.Before(now.Add(-idle))
}

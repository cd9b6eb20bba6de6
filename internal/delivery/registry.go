// Package delivery routes outbound replies to the chat platform they came
// from.
package delivery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Outbound is one reply. Image, when set, is sent as a photo with Caption;
// Text is sent as a message.
type Outbound struct {
	Text    string
	Image   []byte
	Caption string
}

// Handler delivers a reply to the conversation identified by route.
type Handler func(route string, out Outbound) error

// Route builds the delivery address for a context on a platform, e.g.
// "telegram:-100123" or "telegram:-100123/7".
func Route(source string, key types.ContextKey) string {
	return source + ":" + key.String()
}

// ParseRoute splits a route back into its platform and context key.
func ParseRoute(route string) (string, types.ContextKey, error) {
	source, rest, ok := strings.Cut(route, ":")
	if !ok || source == "" {
		return "", types.ContextKey{}, fmt.Errorf("invalid route %q", route)
	}
	key, err := types.ParseContextKey(rest)
	if err != nil {
		return "", types.ContextKey{}, fmt.Errorf("invalid route %q: %w", route, err)
	}
	return source, key, nil
}

// Registry routes messages to the appropriate delivery handler based on
// route prefix (e.g. "telegram:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register adds a handler for routes starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver calls the handler with the longest prefix matching route.
func (r *Registry) Deliver(route string, out Outbound) error {
	r.mu.RLock()
	var (
		best    Handler
		bestLen = -1
	)
	for prefix, handler := range r.handlers {
		if strings.HasPrefix(route, prefix) && len(prefix) > bestLen {
			best, bestLen = handler, len(prefix)
		}
	}
	r.mu.RUnlock()

	if best == nil {
		return fmt.Errorf("no delivery handler for route: %s", route)
	}
	return best(route, out)
}

// DeliverText is shorthand for a text-only reply.
func (r *Registry) DeliverText(route, text string) error {
	return r.Deliver(route, Outbound{Text: text})
}

package runtime

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Emperor-Ovaltine/gideon/internal/gateway"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Request is one parsed slash command.
type Request struct {
	Run   *gateway.Run
	Key   types.ContextKey
	Event *types.InboundEvent
	Name  string
	Args  string
}

// Author is the display name of whoever sent the command.
func (r *Request) Author() string {
	if r.Event.UserName != "" {
		return r.Event.UserName
	}
	return r.Event.UserID
}

// Command is a slash command the bot answers.
type Command struct {
	Name    string
	Usage   string
	Summary string
	Handler func(ctx context.Context, req *Request) (string, error)
}

// Registry holds registered commands and provides lookup.
type Registry struct {
	commands map[string]Command
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a command to the registry, replacing any with the same name.
func (r *Registry) Register(c Command) {
	r.commands[strings.ToLower(c.Name)] = c
}

// Get returns a command by name.
func (r *Registry) Get(name string) (Command, bool) {
	c, ok := r.commands[strings.ToLower(name)]
	return c, ok
}

// All returns all registered commands ordered by name.
func (r *Registry) All() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Help renders one line per command.
func (r *Registry) Help() string {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range r.All() {
		usage := "/" + c.Name
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		fmt.Fprintf(&b, "\n%s - %s", usage, c.Summary)
	}
	return b.String()
}

// ParseCommand splits "/name@bot args" into name and args. ok is false for
// text that is not a command.
func ParseCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

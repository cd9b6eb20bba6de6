package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
)

type usageError struct {
	text string
}

func (e *usageError) Error() string { return e.text }

func usage(name, args string) error {
	return &usageError{text: "Usage: /" + name + " " + args}
}

func (rt *Runtime) registerCommands() {
	rt.registry.Register(Command{Name: "help", Summary: "List commands", Handler: rt.cmdHelp})
	rt.registry.Register(Command{Name: "reset", Summary: "Clear this conversation's history", Handler: rt.cmdReset})
	rt.registry.Register(Command{Name: "memory", Summary: "Show history size, limits and model", Handler: rt.cmdMemory})
	rt.registry.Register(Command{Name: "model", Usage: "[model|reset]", Summary: "Show or override the model here", Handler: rt.cmdModel})
	rt.registry.Register(Command{Name: "globalmodel", Usage: "<model>", Summary: "Set the default model", Handler: rt.cmdGlobalModel})
	rt.registry.Register(Command{Name: "system", Usage: "[prompt|reset]", Summary: "Show or override the system prompt here", Handler: rt.cmdSystem})
	rt.registry.Register(Command{Name: "globalsystem", Usage: "<prompt>", Summary: "Set the default system prompt", Handler: rt.cmdGlobalSystem})
	rt.registry.Register(Command{Name: "setmemory", Usage: "<5-100>", Summary: "Set how many messages this channel keeps", Handler: rt.cmdSetMemory})
	rt.registry.Register(Command{Name: "setwindow", Usage: "<1-96>", Summary: "Set how many hours of history this channel keeps", Handler: rt.cmdSetWindow})
	rt.registry.Register(Command{Name: "thread", Usage: "new|rename <name> | delete | list", Summary: "Manage thread conversations", Handler: rt.cmdThread})
	rt.registry.Register(Command{Name: "roll", Usage: "<dice> [reason]", Summary: "Roll dice, e.g. 2d6+1", Handler: rt.cmdRoll})
	rt.registry.Register(Command{
		Name:    "adventure",
		Usage:   "start [setting] [description] | action <text> | roll <dice> [reason] | status | end | images <n>",
		Summary: "Play a story with a Dungeon Master",
		Handler: rt.cmdAdventure,
	})
}

func (rt *Runtime) cmdHelp(_ context.Context, _ *Request) (string, error) {
	return rt.registry.Help(), nil
}

func (rt *Runtime) cmdReset(_ context.Context, req *Request) (string, error) {
	n := rt.contexts.Reset(req.Key)
	return fmt.Sprintf("Conversation history cleared (%d messages).", n), nil
}

func (rt *Runtime) cmdMemory(_ context.Context, req *Request) (string, error) {
	stats := rt.contexts.Statistics(req.Key)
	limits := rt.resolver.Limits(req.Key.ChannelID)
	model := rt.resolver.ResolveModel(req.Key.ChannelID, req.Key.ThreadID)

	var b strings.Builder
	fmt.Fprintf(&b, "Messages: %d (keeping at most %d from the last %dh)\n", stats.MessageCount, limits.MaxMessages, limits.WindowHours)
	if stats.MessageCount > 0 {
		fmt.Fprintf(&b, "Oldest: %s\nNewest: %s\n", stats.Oldest.Format("2006-01-02 15:04"), stats.Newest.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "Model: %s", model)
	return b.String(), nil
}

func (rt *Runtime) cmdModel(_ context.Context, req *Request) (string, error) {
	key := req.Key
	switch req.Args {
	case "":
		return "Current model: " + rt.resolver.ResolveModel(key.ChannelID, key.ThreadID), nil
	case "reset":
		if err := rt.setModel(req, ""); err != nil {
			return "", err
		}
		return "Model override cleared. Now using " + rt.resolver.ResolveModel(key.ChannelID, key.ThreadID) + ".", nil
	}
	if err := rt.setModel(req, req.Args); err != nil {
		return "", err
	}
	return "Model set to " + req.Args + ".", nil
}

// setModel overrides the thread when the command came from one, otherwise
// the channel.
func (rt *Runtime) setModel(req *Request, model string) error {
	if req.Key.IsThread() {
		rt.ensureThread(req)
		return rt.resolver.SetThreadModel(req.Key.ChannelID, req.Key.ThreadID, model)
	}
	return rt.resolver.SetChannelModel(req.Key.ChannelID, model)
}

func (rt *Runtime) cmdGlobalModel(_ context.Context, req *Request) (string, error) {
	if req.Args == "" {
		return "Default model: " + rt.settings.Global().Model, nil
	}
	if err := rt.resolver.SetGlobalModel(req.Args); err != nil {
		return "", err
	}
	return "Default model set to " + req.Args + ".", nil
}

func (rt *Runtime) cmdSystem(_ context.Context, req *Request) (string, error) {
	key := req.Key
	switch req.Args {
	case "":
		return "Current system prompt:\n" + rt.resolver.ResolveSystemPrompt(key.ChannelID, key.ThreadID), nil
	case "reset":
		if err := rt.setPrompt(req, ""); err != nil {
			return "", err
		}
		return "System prompt override cleared.", nil
	}
	if err := rt.setPrompt(req, req.Args); err != nil {
		return "", err
	}
	return "System prompt updated.", nil
}

func (rt *Runtime) setPrompt(req *Request, prompt string) error {
	if req.Key.IsThread() {
		rt.ensureThread(req)
		return rt.resolver.SetThreadPrompt(req.Key.ChannelID, req.Key.ThreadID, prompt)
	}
	return rt.resolver.SetChannelPrompt(req.Key.ChannelID, prompt)
}

// ensureThread registers the thread a command came from so overrides have
// somewhere to live before anyone has chatted in it.
func (rt *Runtime) ensureThread(req *Request) {
	if !rt.contexts.Exists(req.Key) {
		_ = rt.contexts.CreateThread(req.Key.ChannelID, req.Key.ThreadID, "")
	}
}

func (rt *Runtime) cmdGlobalSystem(_ context.Context, req *Request) (string, error) {
	if req.Args == "" {
		return "Default system prompt:\n" + rt.settings.Global().Prompt, nil
	}
	if err := rt.resolver.SetGlobalPrompt(req.Args); err != nil {
		return "", err
	}
	return "Default system prompt updated.", nil
}

func (rt *Runtime) cmdSetMemory(_ context.Context, req *Request) (string, error) {
	n, err := strconv.Atoi(req.Args)
	if err != nil {
		return "", usage("setmemory", fmt.Sprintf("<%d-%d>", state.MinMaxMessages, state.MaxMaxMessages))
	}
	if err := rt.settings.SetMaxMessages(req.Key.ChannelID, n); err != nil {
		return "", err
	}
	return fmt.Sprintf("This channel now keeps up to %d messages.", n), nil
}

func (rt *Runtime) cmdSetWindow(_ context.Context, req *Request) (string, error) {
	h, err := strconv.Atoi(req.Args)
	if err != nil {
		return "", usage("setwindow", fmt.Sprintf("<%d-%d>", state.MinWindowHours, state.MaxWindowHours))
	}
	if err := rt.settings.SetWindowHours(req.Key.ChannelID, h); err != nil {
		return "", err
	}
	return fmt.Sprintf("This channel now keeps messages from the last %d hours.", h), nil
}

func (rt *Runtime) cmdThread(_ context.Context, req *Request) (string, error) {
	sub, rest, _ := strings.Cut(req.Args, " ")
	rest = strings.TrimSpace(rest)
	key := req.Key

	switch strings.ToLower(sub) {
	case "list":
		threads := rt.contexts.Threads(key.ChannelID)
		if len(threads) == 0 {
			return "No threads in this channel.", nil
		}
		var b strings.Builder
		b.WriteString("Threads:")
		for _, th := range threads {
			name := th.Name
			if name == "" {
				name = th.Key.ThreadID
			}
			fmt.Fprintf(&b, "\n- %s (%d messages)", name, th.MessageCount)
		}
		return b.String(), nil
	case "new":
		if rest == "" {
			return "", usage("thread", "new <name>")
		}
		err := rt.contexts.CreateThread(key.ChannelID, key.ThreadID, rest)
		if errors.Is(err, state.ErrThreadExists) {
			err = rt.contexts.RenameThread(key.ChannelID, key.ThreadID, rest)
		}
		if err != nil {
			return "", err
		}
		return "Thread " + rest + " is ready.", nil
	case "rename":
		if rest == "" {
			return "", usage("thread", "rename <name>")
		}
		if err := rt.contexts.RenameThread(key.ChannelID, key.ThreadID, rest); err != nil {
			return "", err
		}
		return "Thread renamed to " + rest + ".", nil
	case "delete":
		if err := rt.contexts.DeleteThread(key.ChannelID, key.ThreadID); err != nil {
			return "", err
		}
		return "Thread conversation deleted.", nil
	}
	return "", usage("thread", "new|rename <name> | delete | list")
}

func (rt *Runtime) cmdRoll(_ context.Context, req *Request) (string, error) {
	notation, reason, _ := strings.Cut(req.Args, " ")
	if notation == "" {
		return "", usage("roll", "<dice> [reason]")
	}
	result, err := adventure.Roll(notation, rt.roller)
	if err != nil {
		return "", err
	}
	rt.metrics.RecordRoll()
	return formatRoll(req.Author(), strings.TrimSpace(reason), result), nil
}

func formatRoll(who, reason string, r adventure.RollResult) string {
	if who == "" {
		who = "You"
	}
	line := fmt.Sprintf("%s rolled %s: %s", who, r.Spec, r.Breakdown())
	if reason != "" {
		line += " (" + reason + ")"
	}
	return line
}

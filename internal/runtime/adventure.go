package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/prompt"
)

func (rt *Runtime) cmdAdventure(ctx context.Context, req *Request) (string, error) {
	sub, rest, _ := strings.Cut(req.Args, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(sub) {
	case "start":
		return rt.adventureStart(ctx, req, rest)
	case "action", "do":
		if rest == "" {
			return "", usage("adventure", "action <what you do>")
		}
		return rt.adventureAction(ctx, req, rest)
	case "roll":
		if rest == "" {
			return "", usage("adventure", "roll <dice> [reason]")
		}
		return rt.adventureRoll(ctx, req, rest)
	case "status":
		return rt.adventureStatus(req)
	case "end":
		sum, err := rt.adventures.End(req.Key.ChannelID, req.Author())
		if err != nil {
			return "", err
		}
		return sum.Text, nil
	case "images":
		n, err := strconv.Atoi(rest)
		if err != nil {
			return "", usage("adventure", "images <turns between pictures, 0 for off>")
		}
		if err := rt.adventures.SetImageFrequency(req.Key.ChannelID, n); err != nil {
			return "", err
		}
		if n == 0 {
			return "Scene pictures turned off.", nil
		}
		return fmt.Sprintf("A scene picture will be drawn every %d turns.", n), nil
	}
	return "", usage("adventure", "start|action|roll|status|end|images")
}

// adventureStart parses "[setting] [description]". A first word that is not
// a setting name is taken as the start of a Fantasy description.
func (rt *Runtime) adventureStart(ctx context.Context, req *Request, args string) (string, error) {
	opts := adventure.StartOptions{StartedBy: req.Author()}
	first, rest, _ := strings.Cut(args, " ")
	if setting, err := adventure.ParseSetting(first); err == nil {
		opts.Setting = setting
		opts.Description = strings.TrimSpace(rest)
	} else {
		opts.Setting = adventure.Fantasy
		opts.Description = args
	}

	s, err := rt.adventures.Start(req.Key.ChannelID, opts)
	if err != nil {
		return "", err
	}

	header := fmt.Sprintf("A new %s adventure begins, started by %s.", s.Setting, s.StartedBy)
	opening, err := rt.narrate(ctx, req, s)
	if err != nil {
		slog.Warn("opening narration failed", "channel", req.Key.ChannelID, "error", err)
		return header + "\n\nThe Dungeon Master is gathering their notes. Describe your first action with /adventure action.", nil
	}
	return header + "\n\n" + opening, nil
}

func (rt *Runtime) adventureAction(ctx context.Context, req *Request, text string) (string, error) {
	turn, err := rt.adventures.Action(req.Key.ChannelID, req.Author(), text)
	if err != nil {
		return "", err
	}
	rt.metrics.RecordTurn(false, turn.VisualizationDue)
	return rt.continueStory(ctx, req, turn, "")
}

func (rt *Runtime) adventureRoll(ctx context.Context, req *Request, args string) (string, error) {
	notation, reason, _ := strings.Cut(args, " ")
	reason = strings.TrimSpace(reason)

	result, turn, err := rt.adventures.Roll(req.Key.ChannelID, req.Author(), notation)
	if err != nil {
		return "", err
	}
	rt.metrics.RecordRoll()
	rt.metrics.RecordTurn(true, turn.VisualizationDue)
	return rt.continueStory(ctx, req, turn, formatRoll(req.Author(), reason, result))
}

// continueStory asks the narrator to respond to the latest turn, records the
// narration and requests a scene picture when one is due. A narration
// failure still reports the mechanical result, and a due picture is drawn
// from the player's own turn instead.
func (rt *Runtime) continueStory(ctx context.Context, req *Request, turn adventure.Turn, prefix string) (string, error) {
	narration, err := rt.narrate(ctx, req, turn.Session)
	if err != nil {
		slog.Warn("narration failed", "channel", req.Key.ChannelID, "turn", turn.Number, "error", err)
		if turn.VisualizationDue {
			rt.publishScene(req, turn, playerScene(turn.Session))
		}
		msg := "The Dungeon Master is silent for a moment. Try your next move."
		if prefix != "" {
			msg = prefix + "\n\n" + msg
		}
		return msg, nil
	}

	if turn.VisualizationDue {
		rt.publishScene(req, turn, narration)
	}
	if prefix != "" {
		return prefix + "\n\n" + narration, nil
	}
	return narration, nil
}

// playerScene describes the latest player turn in s.
func playerScene(s adventure.Session) string {
	if n := len(s.SceneLog); n > 0 {
		e := s.SceneLog[n-1]
		if e.Actor != "" {
			return e.Actor + ": " + e.Narrative
		}
		return e.Narrative
	}
	return s.Premise()
}

// narrate generates the Dungeon Master's next narration for s and appends it
// to the scene log.
func (rt *Runtime) narrate(ctx context.Context, req *Request, s adventure.Session) (string, error) {
	model := rt.resolver.ResolveModel(req.Key.ChannelID, req.Key.ThreadID)
	text, err := rt.generate(ctx, model, prompt.DungeonMasterPrompt, prompt.AdventureHistory(s))
	if err != nil {
		return "", err
	}
	if err := rt.adventures.Narrate(req.Key.ChannelID, text); err != nil {
		return "", err
	}
	return text, nil
}

func (rt *Runtime) adventureStatus(req *Request) (string, error) {
	s, err := rt.adventures.Status(req.Key.ChannelID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s adventure: %s\n", s.Setting, s.Premise())
	fmt.Fprintf(&b, "Turns: %d, running for %s\n", s.TurnCount, adventure.FormatDuration(s.Duration(rt.now())))
	if s.ImageFrequency > 0 {
		fmt.Fprintf(&b, "Scene pictures every %d turns\n", s.ImageFrequency)
	}
	recent := s.RecentActions(5)
	if len(recent) == 0 {
		b.WriteString("No actions yet.")
		return b.String(), nil
	}
	b.WriteString("Recent actions:")
	for _, e := range recent {
		actor := e.Actor
		if actor == "" {
			actor = "someone"
		}
		fmt.Fprintf(&b, "\n- %s: %s", actor, adventure.Truncate(e.Narrative, 80))
	}
	return b.String(), nil
}

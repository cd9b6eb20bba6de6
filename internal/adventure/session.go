package adventure

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

var (
	ErrAdventureAlreadyActive = errors.New("adventure: an adventure is already active in this channel")
	ErrNoActiveAdventure      = errors.New("adventure: no active adventure in this channel")
	ErrDescriptionRequired    = errors.New("adventure: the Custom setting requires a description")
	ErrUnknownSetting         = errors.New("adventure: unknown setting")
	ErrInvalidFrequency       = errors.New("adventure: image frequency must be zero or positive")
)

type Setting string

const (
	Fantasy Setting = "Fantasy"
	SciFi   Setting = "Sci-Fi"
	Horror  Setting = "Horror"
	Modern  Setting = "Modern"
	Custom  Setting = "Custom"
)

var settingPremises = map[Setting]string{
	Fantasy: "a medieval fantasy world with magic, dragons, and brave heroes",
	SciFi:   "a futuristic space adventure with advanced technology and alien species",
	Horror:  "a suspenseful horror story in an abandoned mansion",
	Modern:  "a modern-day adventure in a city with mysterious events",
}

// Settings lists the selectable settings in display order.
func Settings() []Setting {
	return []Setting{Fantasy, SciFi, Horror, Modern, Custom}
}

// ParseSetting accepts a setting name case-insensitively; "scifi" and
// "sci fi" map to Sci-Fi. An empty name selects Fantasy.
func ParseSetting(name string) (Setting, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "", " ", "", "_", "").Replace(n)
	switch n {
	case "", "fantasy":
		return Fantasy, nil
	case "scifi":
		return SciFi, nil
	case "horror":
		return Horror, nil
	case "modern":
		return Modern, nil
	case "custom":
		return Custom, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSetting, name)
}

type State string

const (
	StateIdle   State = "idle"
	StateActive State = "active"
	StateEnded  State = "ended"
)

type EntryKind string

const (
	EntryOpening   EntryKind = "opening"
	EntryAction    EntryKind = "action"
	EntryRoll      EntryKind = "roll"
	EntryNarration EntryKind = "narration"
)

// SceneEntry is one line of an adventure's scene log.
type SceneEntry struct {
	Kind      EntryKind `json:"kind"`
	Actor     string    `json:"actor,omitempty"`
	Narrative string    `json:"narrative"`
	Timestamp time.Time `json:"timestamp"`
}

func (e SceneEntry) isPlayer() bool {
	return e.Kind == EntryAction || e.Kind == EntryRoll
}

// Session is one adventure bound to a channel.
type Session struct {
	ID             types.AdventureID `json:"id"`
	ChannelID      string            `json:"channel_id"`
	Setting        Setting           `json:"setting"`
	Description    string            `json:"description,omitempty"`
	State          State             `json:"state"`
	SceneLog       []SceneEntry      `json:"scene_log"`
	TurnCount      int               `json:"turn_count"`
	ImageFrequency int               `json:"image_frequency"`
	StartedBy      string            `json:"started_by,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	EndedBy        string            `json:"ended_by,omitempty"`
	EndedAt        time.Time         `json:"ended_at,omitzero"`
}

// Premise is the description if one was given, else the setting's default.
func (s Session) Premise() string {
	if s.Description != "" {
		return s.Description
	}
	if p, ok := settingPremises[s.Setting]; ok {
		return p
	}
	return settingPremises[Fantasy]
}

// RecentActions returns up to n of the latest player actions and rolls.
func (s Session) RecentActions(n int) []SceneEntry {
	var out []SceneEntry
	for i := len(s.SceneLog) - 1; i >= 0 && len(out) < n; i-- {
		if s.SceneLog[i].isPlayer() {
			out = append(out, s.SceneLog[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Duration is the time from start to end, or to now for a running session.
func (s Session) Duration(now time.Time) time.Duration {
	end := s.EndedAt
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartedAt)
}

func (s *Session) clone() Session {
	c := *s
	c.SceneLog = append([]SceneEntry(nil), s.SceneLog...)
	return c
}

// Summary describes a finished adventure.
type Summary struct {
	Setting    Setting       `json:"setting"`
	Premise    string        `json:"premise"`
	Turns      int           `json:"turns"`
	StartedBy  string        `json:"started_by,omitempty"`
	EndedBy    string        `json:"ended_by,omitempty"`
	Duration   time.Duration `json:"duration"`
	Highlights []SceneEntry  `json:"highlights,omitempty"`
	Text       string        `json:"text"`
}

func summarize(s Session) Summary {
	sum := Summary{
		Setting:    s.Setting,
		Premise:    s.Premise(),
		Turns:      s.TurnCount,
		StartedBy:  s.StartedBy,
		EndedBy:    s.EndedBy,
		Duration:   s.Duration(s.EndedAt),
		Highlights: s.RecentActions(5),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The %s adventure in %s ended after %d turn", s.Setting, sum.Premise, s.TurnCount)
	if s.TurnCount != 1 {
		b.WriteString("s")
	}
	fmt.Fprintf(&b, " (%s).", FormatDuration(sum.Duration))
	if s.StartedBy != "" {
		fmt.Fprintf(&b, " Started by %s.", s.StartedBy)
	}
	if s.EndedBy != "" {
		fmt.Fprintf(&b, " Ended by %s.", s.EndedBy)
	}
	if len(sum.Highlights) > 0 {
		b.WriteString("\nFinal moments:")
		for _, e := range sum.Highlights {
			fmt.Fprintf(&b, "\n- %s: %s", actorName(e.Actor), Truncate(e.Narrative, 50))
		}
	} else if n := len(s.SceneLog); n > 0 {
		fmt.Fprintf(&b, "\nLast scene: %s", Truncate(s.SceneLog[n-1].Narrative, 200))
	}
	sum.Text = b.String()
	return sum
}

func actorName(a string) string {
	if a == "" {
		return "someone"
	}
	return a
}

// FormatDuration renders d as "1d 2h 3m".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}

// Truncate shortens s to n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

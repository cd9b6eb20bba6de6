// Package adventure runs turn-based narrative sessions, one per channel, and
// resolves dice rolls for them. The engine never calls out to a model; it
// tells its caller when a scene image is due.
package adventure

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/keyed"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

type slot struct {
	mu      sync.Mutex
	session *Session
}

// Engine tracks the adventure slot of every channel. Each channel's slot has
// its own lock.
type Engine struct {
	slots          *keyed.Map[string, slot]
	roller         Roller
	now            func() time.Time
	imageFrequency int
}

type Option func(*Engine)

// WithRoller replaces the dice source.
func WithRoller(r Roller) Option {
	return func(e *Engine) { e.roller = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithImageFrequency sets the image frequency for sessions started without
// an explicit one.
func WithImageFrequency(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.imageFrequency = n
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		slots:  keyed.New[string, slot](),
		roller: DefaultRoller,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) slotFor(channelID string) *slot {
	return e.slots.GetOrCreate(channelID, func() *slot { return &slot{} })
}

// active runs fn on channelID's session while holding its lock, failing with
// ErrNoActiveAdventure when there is none.
func (e *Engine) active(channelID string, fn func(s *Session) error) error {
	sl, ok := e.slots.Get(channelID)
	if !ok {
		return ErrNoActiveAdventure
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.session == nil || sl.session.State != StateActive {
		return ErrNoActiveAdventure
	}
	return fn(sl.session)
}

// StartOptions configures a new adventure.
type StartOptions struct {
	Setting     Setting
	Description string
	StartedBy   string
	// ImageFrequency overrides the engine default when non-nil.
	ImageFrequency *int
}

// Start opens a new adventure in channelID. An ended adventure in the slot is
// replaced; an active one is left untouched and ErrAdventureAlreadyActive is
// returned.
func (e *Engine) Start(channelID string, opts StartOptions) (Session, error) {
	setting, err := ParseSetting(string(opts.Setting))
	if err != nil {
		return Session{}, err
	}
	if setting == Custom && opts.Description == "" {
		return Session{}, ErrDescriptionRequired
	}
	freq := e.imageFrequency
	if opts.ImageFrequency != nil {
		if *opts.ImageFrequency < 0 {
			return Session{}, ErrInvalidFrequency
		}
		freq = *opts.ImageFrequency
	}

	sl := e.slotFor(channelID)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.session != nil && sl.session.State == StateActive {
		return Session{}, ErrAdventureAlreadyActive
	}

	now := e.now()
	s := &Session{
		ID:             types.NewAdventureID(),
		ChannelID:      channelID,
		Setting:        setting,
		Description:    opts.Description,
		State:          StateActive,
		ImageFrequency: freq,
		StartedBy:      opts.StartedBy,
		StartedAt:      now,
	}
	s.SceneLog = append(s.SceneLog, SceneEntry{
		Kind:      EntryOpening,
		Actor:     opts.StartedBy,
		Narrative: s.Premise(),
		Timestamp: now,
	})
	sl.session = s
	return s.clone(), nil
}

// Turn is the result of an action or roll.
type Turn struct {
	Number int
	// VisualizationDue is set when a scene image should be produced for
	// this turn.
	VisualizationDue bool
	Session          Session
}

func (e *Engine) takeTurn(s *Session, entry SceneEntry) Turn {
	s.SceneLog = append(s.SceneLog, entry)
	s.TurnCount++
	return Turn{
		Number:           s.TurnCount,
		VisualizationDue: visualizationDue(s.TurnCount, s.ImageFrequency),
		Session:          s.clone(),
	}
}

// visualizationDue fires on every frequency-th turn; zero never fires.
func visualizationDue(turn, frequency int) bool {
	return frequency > 0 && turn > 0 && turn%frequency == 0
}

// Action records a player's action as a turn.
func (e *Engine) Action(channelID, actor, text string) (Turn, error) {
	var turn Turn
	err := e.active(channelID, func(s *Session) error {
		turn = e.takeTurn(s, SceneEntry{
			Kind:      EntryAction,
			Actor:     actor,
			Narrative: text,
			Timestamp: e.now(),
		})
		return nil
	})
	return turn, err
}

// Roll resolves notation and records it as a turn. Invalid notation and a
// missing adventure leave the session unchanged.
func (e *Engine) Roll(channelID, actor, notation string) (RollResult, Turn, error) {
	spec, err := ParseDice(notation)
	if err != nil {
		return RollResult{}, Turn{}, err
	}

	var (
		result RollResult
		turn   Turn
	)
	err = e.active(channelID, func(s *Session) error {
		result = spec.Roll(e.roller)
		turn = e.takeTurn(s, SceneEntry{
			Kind:      EntryRoll,
			Actor:     actor,
			Narrative: "rolled " + spec.String() + " and got " + strconv.Itoa(result.Total),
			Timestamp: e.now(),
		})
		return nil
	})
	if err != nil {
		return RollResult{}, Turn{}, err
	}
	return result, turn, nil
}

// Narrate appends the narrator's text to the scene log. It is not a turn.
func (e *Engine) Narrate(channelID, text string) error {
	return e.active(channelID, func(s *Session) error {
		s.SceneLog = append(s.SceneLog, SceneEntry{
			Kind:      EntryNarration,
			Narrative: text,
			Timestamp: e.now(),
		})
		return nil
	})
}

// SetImageFrequency changes the active session's image cadence.
func (e *Engine) SetImageFrequency(channelID string, n int) error {
	if n < 0 {
		return ErrInvalidFrequency
	}
	return e.active(channelID, func(s *Session) error {
		s.ImageFrequency = n
		return nil
	})
}

// Status returns a copy of the active session.
func (e *Engine) Status(channelID string) (Session, error) {
	var out Session
	err := e.active(channelID, func(s *Session) error {
		out = s.clone()
		return nil
	})
	return out, err
}

// Get returns the session held in channelID's slot, active or ended.
func (e *Engine) Get(channelID string) (Session, bool) {
	sl, ok := e.slots.Get(channelID)
	if !ok {
		return Session{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.session == nil {
		return Session{}, false
	}
	return sl.session.clone(), true
}

// End finishes the active adventure and summarises it. The ended session
// stays in the slot until a new one starts or it is deleted.
func (e *Engine) End(channelID, endedBy string) (Summary, error) {
	var sum Summary
	err := e.active(channelID, func(s *Session) error {
		s.State = StateEnded
		s.EndedBy = endedBy
		s.EndedAt = e.now()
		sum = summarize(*s)
		return nil
	})
	return sum, err
}

// Delete clears channelID's slot regardless of state.
func (e *Engine) Delete(channelID string) bool {
	return e.slots.Delete(channelID)
}

// Export copies every held session, ordered by channel.
func (e *Engine) Export() []Session {
	ids := e.slots.Keys()
	sort.Strings(ids)
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := e.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// Import replaces every slot with sessions. A later session for the same
// channel replaces an earlier one.
func (e *Engine) Import(sessions []Session) {
	e.slots.Reset()
	for i := range sessions {
		s := sessions[i].clone()
		if s.ChannelID == "" {
			continue
		}
		if s.State == "" || s.State == StateIdle {
			continue
		}
		if s.ImageFrequency < 0 {
			s.ImageFrequency = 0
		}
		e.slots.Put(s.ChannelID, &slot{session: &s})
	}
}

package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/events"
	"github.com/Emperor-Ovaltine/gideon/internal/gateway"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
	"github.com/Emperor-Ovaltine/gideon/pkg/llm"
)

type generateCall struct {
	model        string
	systemPrompt string
	history      []types.Message
}

// fakeGenerator returns scripted replies, then "fallback".
type fakeGenerator struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   []generateCall
}

func (f *fakeGenerator) Generate(_ context.Context, model, systemPrompt string, history []types.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, generateCall{model: model, systemPrompt: systemPrompt, history: history})
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx < len(f.replies) {
		return f.replies[idx], nil
	}
	return "fallback", nil
}

func (f *fakeGenerator) lastCall() generateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fixedRoller struct{ v int }

func (r fixedRoller) IntN(n int) int { return r.v % n }

type fixture struct {
	rt         *Runtime
	gen        *fakeGenerator
	contexts   *state.ContextStore
	settings   *state.Settings
	adventures *adventure.Engine
}

func newFixture(t *testing.T, bus *events.Bus) *fixture {
	t.Helper()
	f := &fixture{
		gen:        &fakeGenerator{},
		contexts:   state.NewContextStore(),
		settings:   state.NewSettings(state.GlobalConfig{Model: "global/model", Prompt: "global prompt", MaxMessages: 35, WindowHours: 48}),
		adventures: adventure.NewEngine(adventure.WithRoller(fixedRoller{v: 2})),
	}
	f.rt = New(Deps{
		Contexts:   f.contexts,
		Settings:   f.settings,
		Adventures: f.adventures,
		Generator:  f.gen,
		Retry:      &gateway.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond},
		Bus:        bus,
		Roller:     fixedRoller{v: 2},
	})
	return f
}

func (f *fixture) send(t *testing.T, key types.ContextKey, text string) string {
	t.Helper()
	var reply string
	run := gateway.NewRun(&types.InboundEvent{Source: "test", Key: key, UserID: "u1", UserName: "ada", Text: text})
	run.OnComplete = func(s string) { reply = s }
	if err := f.rt.ProcessRun(run); err != nil {
		t.Fatalf("ProcessRun(%q): %v", text, err)
	}
	return reply
}

func TestChatTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.replies = []string{"Hello ada!"}
	key := types.ChannelKey("C1")

	reply := f.send(t, key, "hi there")
	if reply != "Hello ada!" {
		t.Errorf("unexpected reply %q", reply)
	}

	history := f.contexts.History(key)
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != types.RoleUser || history[0].Author != "ada" || history[0].Content != "hi there" {
		t.Errorf("unexpected user message %+v", history[0])
	}
	if history[1].Role != types.RoleAssistant || history[1].Content != "Hello ada!" {
		t.Errorf("unexpected assistant message %+v", history[1])
	}

	call := f.gen.lastCall()
	if call.model != "global/model" || call.systemPrompt != "global prompt" {
		t.Errorf("unexpected resolution %+v", call)
	}
	if len(call.history) != 1 || call.history[0].Content != "hi there" {
		t.Errorf("expected the new user message in history, got %+v", call.history)
	}
}

func TestChatUsesOverrides(t *testing.T) {
	f := newFixture(t, nil)
	thread := types.ThreadKey("C1", "T1")

	f.send(t, types.ChannelKey("C1"), "/model channel/model")
	f.send(t, thread, "/system be a pirate")
	f.send(t, thread, "ahoy")

	call := f.gen.lastCall()
	if call.model != "channel/model" {
		t.Errorf("expected channel model inherited by thread, got %q", call.model)
	}
	if call.systemPrompt != "be a pirate" {
		t.Errorf("expected thread prompt, got %q", call.systemPrompt)
	}
}

func TestChatHistoryWindow(t *testing.T) {
	f := newFixture(t, nil)
	key := types.ChannelKey("C1")
	old := time.Now().Add(-72 * time.Hour)
	f.contexts.Append(key, types.UserMessage("bob", "ancient", old))

	f.send(t, key, "fresh")
	call := f.gen.lastCall()
	for _, m := range call.history {
		if m.Content == "ancient" {
			t.Error("expected messages outside the window to be left out of the request")
		}
	}
	// the store itself is only trimmed by a prune pass
	if n := len(f.contexts.History(key)); n != 3 {
		t.Errorf("expected 3 stored messages, got %d", n)
	}
}

func TestChatRetriesTemporaryFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.errs = []error{&llm.APIError{StatusCode: 503, Body: "busy"}}
	f.gen.replies = []string{"", "second time lucky"}

	if reply := f.send(t, types.ChannelKey("C1"), "hello"); reply != "second time lucky" {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestChatFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.errs = []error{&llm.APIError{StatusCode: 401, Body: "bad key"}}
	key := types.ChannelKey("C1")

	run := gateway.NewRun(&types.InboundEvent{Source: "test", Key: key, UserName: "ada", Text: "hello"})
	err := f.rt.ProcessRun(run)
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected API error, got %v", err)
	}
	history := f.contexts.History(key)
	if len(history) != 1 || history[0].Role != types.RoleUser {
		t.Errorf("expected only the user message, got %+v", history)
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t, nil)
	if reply := f.send(t, types.ChannelKey("C1"), "/frobnicate"); !strings.Contains(reply, "Unknown command") {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestHelpListsCommands(t *testing.T) {
	f := newFixture(t, nil)
	reply := f.send(t, types.ChannelKey("C1"), "/help")
	for _, name := range []string{"/adventure", "/roll", "/setmemory", "/thread"} {
		if !strings.Contains(reply, name) {
			t.Errorf("help is missing %s: %q", name, reply)
		}
	}
}

func TestResetAndMemory(t *testing.T) {
	f := newFixture(t, nil)
	key := types.ChannelKey("C1")
	f.send(t, key, "one")
	f.send(t, key, "two")

	if reply := f.send(t, key, "/memory"); !strings.Contains(reply, "Messages: 4") || !strings.Contains(reply, "global/model") {
		t.Errorf("unexpected memory reply %q", reply)
	}
	if reply := f.send(t, key, "/reset"); !strings.Contains(reply, "4 messages") {
		t.Errorf("unexpected reset reply %q", reply)
	}
	if n := len(f.contexts.History(key)); n != 0 {
		t.Errorf("expected empty history, got %d", n)
	}
}

func TestModelCommands(t *testing.T) {
	f := newFixture(t, nil)
	key := types.ChannelKey("C1")

	if reply := f.send(t, key, "/model"); reply != "Current model: global/model" {
		t.Errorf("unexpected reply %q", reply)
	}
	f.send(t, key, "/model openai/gpt-4o")
	if got := f.rt.Resolver().ResolveModel("C1", ""); got != "openai/gpt-4o" {
		t.Errorf("expected channel override, got %q", got)
	}
	f.send(t, key, "/model reset")
	if got := f.rt.Resolver().ResolveModel("C1", ""); got != "global/model" {
		t.Errorf("expected override cleared, got %q", got)
	}

	f.send(t, key, "/globalmodel meta/llama")
	if got := f.settings.Global().Model; got != "meta/llama" {
		t.Errorf("expected global model updated, got %q", got)
	}
	f.send(t, key, "/globalsystem be brief")
	if got := f.settings.Global().Prompt; got != "be brief" {
		t.Errorf("expected global prompt updated, got %q", got)
	}
}

func TestMemoryLimitCommands(t *testing.T) {
	f := newFixture(t, nil)
	key := types.ChannelKey("C1")

	f.send(t, key, "/setmemory 10")
	f.send(t, key, "/setwindow 24")
	limits := f.settings.Limits("C1")
	if limits.MaxMessages != 10 || limits.WindowHours != 24 {
		t.Errorf("unexpected limits %+v", limits)
	}

	if reply := f.send(t, key, "/setmemory 500"); !strings.Contains(reply, "out of range") {
		t.Errorf("expected range error, got %q", reply)
	}
	if reply := f.send(t, key, "/setwindow 0.5"); !strings.HasPrefix(reply, "Usage:") {
		t.Errorf("expected usage, got %q", reply)
	}
	if f.settings.Limits("C1").MaxMessages != 10 {
		t.Error("rejected value must not change the limit")
	}
}

func TestThreadCommands(t *testing.T) {
	f := newFixture(t, nil)
	thread := types.ThreadKey("C1", "42")

	if reply := f.send(t, types.ChannelKey("C1"), "/thread new plans"); reply != "That only works inside a thread." {
		t.Errorf("unexpected reply %q", reply)
	}
	f.send(t, thread, "/thread new plans")
	if reply := f.send(t, types.ChannelKey("C1"), "/thread list"); !strings.Contains(reply, "plans") {
		t.Errorf("expected thread in list, got %q", reply)
	}
	f.send(t, thread, "/thread rename schemes")
	if st := f.contexts.Statistics(thread); st.Name != "schemes" {
		t.Errorf("expected renamed thread, got %+v", st)
	}
	f.send(t, thread, "/thread delete")
	if f.contexts.Exists(thread) {
		t.Error("expected thread deleted")
	}
	if reply := f.send(t, thread, "/thread delete"); reply != "This thread has no conversation yet." {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestRollCommand(t *testing.T) {
	f := newFixture(t, nil)
	reply := f.send(t, types.ChannelKey("C1"), "/roll 2d6+1 initiative")
	if reply != "ada rolled 2d6+1: 3 + 3 (+1) = 7 (initiative)" {
		t.Errorf("unexpected reply %q", reply)
	}
	if reply := f.send(t, types.ChannelKey("C1"), "/roll 0d6"); !strings.Contains(reply, "can't roll") {
		t.Errorf("expected dice error, got %q", reply)
	}
}

func TestAdventureFlow(t *testing.T) {
	f := newFixture(t, nil)
	f.gen.replies = []string{"The mansion looms.", "The door creaks open.", "You slip past unseen."}
	key := types.ChannelKey("C1")

	reply := f.send(t, key, "/adventure start horror")
	if !strings.Contains(reply, "Horror") || !strings.Contains(reply, "The mansion looms.") {
		t.Errorf("unexpected start reply %q", reply)
	}
	if call := f.gen.lastCall(); !strings.Contains(call.systemPrompt, "Dungeon Master") {
		t.Errorf("expected DM prompt, got %q", call.systemPrompt)
	}

	if reply := f.send(t, key, "/adventure start fantasy"); !strings.Contains(reply, "already running") {
		t.Errorf("expected already-active reply, got %q", reply)
	}

	if reply := f.send(t, key, "/adventure action open the door"); reply != "The door creaks open." {
		t.Errorf("unexpected action reply %q", reply)
	}
	reply = f.send(t, key, "/adventure roll 1d20+2 stealth")
	if !strings.HasPrefix(reply, "ada rolled 1d20+2: 3 (+2) = 5 (stealth)") || !strings.HasSuffix(reply, "You slip past unseen.") {
		t.Errorf("unexpected roll reply %q", reply)
	}

	status := f.send(t, key, "/adventure status")
	if !strings.Contains(status, "Turns: 2") || !strings.Contains(status, "open the door") {
		t.Errorf("unexpected status %q", status)
	}

	end := f.send(t, key, "/adventure end")
	if !strings.Contains(end, "2 turns") || !strings.Contains(end, "Ended by ada") {
		t.Errorf("unexpected summary %q", end)
	}
	if reply := f.send(t, key, "/adventure action wave"); !strings.Contains(reply, "no adventure") {
		t.Errorf("expected no-adventure reply, got %q", reply)
	}

	// adventure commands do not touch the chat history
	if n := len(f.contexts.History(key)); n != 0 {
		t.Errorf("expected no chat history, got %d", n)
	}
}

func TestAdventureCustomNeedsDescription(t *testing.T) {
	f := newFixture(t, nil)
	key := types.ChannelKey("C1")
	if reply := f.send(t, key, "/adventure start custom"); !strings.Contains(reply, "needs a description") {
		t.Errorf("unexpected reply %q", reply)
	}
	f.send(t, key, "/adventure start a pirate cove at dusk")
	s, err := f.adventures.Status("C1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Setting != adventure.Fantasy || s.Description != "a pirate cove at dusk" {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestAdventureNarrationFailureStillRecordsTurn(t *testing.T) {
	f := newFixture(t, nil)
	key := types.ChannelKey("C1")
	f.send(t, key, "/adventure start")

	f.gen.mu.Lock()
	f.gen.errs = make([]error, 10)
	for i := range f.gen.errs {
		f.gen.errs[i] = &llm.APIError{StatusCode: 400}
	}
	f.gen.mu.Unlock()

	reply := f.send(t, key, "/adventure roll 1d4")
	if !strings.Contains(reply, "rolled 1d4") || !strings.Contains(reply, "silent") {
		t.Errorf("unexpected reply %q", reply)
	}
	s, _ := f.adventures.Status("C1")
	if s.TurnCount != 1 {
		t.Errorf("expected the roll to count as a turn, got %d", s.TurnCount)
	}
}

func TestAdventureNarrationFailureStillPublishesScene(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	got := make(chan events.VisualizationDue, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.HandleVisualizations(ctx, func(_ context.Context, ev events.VisualizationDue) {
		got <- ev
	})
	time.Sleep(50 * time.Millisecond)

	f := newFixture(t, bus)
	key := types.ChannelKey("C1")
	f.send(t, key, "/adventure start horror")
	f.send(t, key, "/adventure images 1")

	f.gen.mu.Lock()
	f.gen.errs = make([]error, 10)
	for i := range f.gen.errs {
		f.gen.errs[i] = &llm.APIError{StatusCode: 400}
	}
	f.gen.mu.Unlock()

	reply := f.send(t, key, "/adventure action light a candle")
	if !strings.Contains(reply, "silent") {
		t.Errorf("unexpected reply %q", reply)
	}
	select {
	case ev := <-got:
		if ev.Turn != 1 || !strings.Contains(ev.Scene, "light a candle") {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a scene picture request despite the narration failure")
	}
}

func TestAdventurePublishesScene(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	got := make(chan events.VisualizationDue, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.HandleVisualizations(ctx, func(_ context.Context, ev events.VisualizationDue) {
		got <- ev
	})
	time.Sleep(50 * time.Millisecond)

	f := newFixture(t, bus)
	f.gen.replies = []string{"opening", "first", "second"}
	key := types.ChannelKey("C1")
	f.send(t, key, "/adventure start modern")
	f.send(t, key, "/adventure images 2")
	f.send(t, key, "/adventure action look around")

	select {
	case ev := <-got:
		t.Fatalf("no picture is due on turn 1, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	f.send(t, key, "/adventure action call a cab")
	select {
	case ev := <-got:
		if ev.Turn != 2 || ev.Scene != "second" || ev.Route != "test:C1" || ev.Setting != "Modern" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a scene picture request on turn 2")
	}
}

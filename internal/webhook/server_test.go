package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/gateway"
	"github.com/Emperor-Ovaltine/gideon/internal/metrics"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

type mockChat struct {
	last     *types.InboundEvent
	response string
	err      error
}

func (m *mockChat) Handle(_ context.Context, ev *types.InboundEvent) (string, error) {
	m.last = ev
	return m.response, m.err
}

func setupServer(t *testing.T, chat *mockChat) (*Server, *state.ContextStore, *adventure.Engine) {
	t.Helper()
	contexts := state.NewContextStore()
	adventures := adventure.NewEngine()
	opts := Options{Contexts: contexts, Adventures: adventures}
	if chat != nil {
		opts.Chat = chat.Handle
	}
	return NewServer(opts), contexts, adventures
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := setupServer(t, nil)
	w := do(t, srv, http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.RecordRoll()

	srv := NewServer(Options{Registry: reg})
	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "gideon_") {
		t.Errorf("expected gideon metrics in output")
	}
}

func TestContextsEndpoints(t *testing.T) {
	srv, contexts, _ := setupServer(t, nil)
	now := time.Now()
	contexts.Append(types.ChannelKey("C1"), types.UserMessage("ada", "hello", now))
	contexts.Append(types.ThreadKey("C1", "T1"), types.UserMessage("bob", "in thread", now))

	w := do(t, srv, http.MethodGet, "/api/contexts", "")
	var list []types.ContextStats
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 contexts, got %d", len(list))
	}

	w = do(t, srv, http.MethodGet, "/api/contexts/C1/history?thread=T1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var hist struct {
		Messages []types.Message `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&hist); err != nil {
		t.Fatal(err)
	}
	if len(hist.Messages) != 1 || hist.Messages[0].Content != "in thread" {
		t.Errorf("unexpected history %+v", hist.Messages)
	}

	if w := do(t, srv, http.MethodGet, "/api/contexts/nope/history", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAdventureEndpoint(t *testing.T) {
	srv, _, adventures := setupServer(t, nil)
	if w := do(t, srv, http.MethodGet, "/api/adventures/C1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if _, err := adventures.Start("C1", adventure.StartOptions{Setting: adventure.Modern, StartedBy: "ada"}); err != nil {
		t.Fatal(err)
	}
	w := do(t, srv, http.MethodGet, "/api/adventures/C1", "")
	var s adventure.Session
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s.Setting != adventure.Modern || s.State != adventure.StateActive {
		t.Errorf("unexpected session %+v", s)
	}
}

func TestChatEndpoint(t *testing.T) {
	chat := &mockChat{response: "hello from LLM"}
	srv, _, _ := setupServer(t, chat)

	w := do(t, srv, http.MethodPost, "/api/chat", `{"channel":"general","thread":"t1","user":"ada","text":"say hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["response"] != "hello from LLM" {
		t.Errorf("unexpected response %q", resp["response"])
	}
	if chat.last.Key != types.ThreadKey("general", "t1") || chat.last.Source != Source || chat.last.UserName != "ada" {
		t.Errorf("unexpected event %+v", chat.last)
	}
}

func TestChatEndpointValidation(t *testing.T) {
	srv, _, _ := setupServer(t, &mockChat{})
	for _, body := range []string{`not json`, `{"channel":"c"}`, `{"text":"hi"}`, `{"channel":"a/b","text":"hi"}`} {
		if w := do(t, srv, http.MethodPost, "/api/chat", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestChatEndpointErrors(t *testing.T) {
	chat := &mockChat{err: gateway.ErrClosed}
	srv, _, _ := setupServer(t, chat)
	if w := do(t, srv, http.MethodPost, "/api/chat", `{"channel":"c","text":"hi"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while closed, got %d", w.Code)
	}
	chat.err = errors.New("boom")
	if w := do(t, srv, http.MethodPost, "/api/chat", `{"channel":"c","text":"hi"}`); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestSaveEndpoint(t *testing.T) {
	saves := 0
	srv := NewServer(Options{Save: func(context.Context) error {
		saves++
		return nil
	}})
	if w := do(t, srv, http.MethodPost, "/api/save", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if saves != 1 {
		t.Errorf("expected one save, got %d", saves)
	}

	srv = NewServer(Options{})
	if w := do(t, srv, http.MethodPost, "/api/save", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without persistence, got %d", w.Code)
	}
}

func TestGatewayChat(t *testing.T) {
	gw := gateway.New(1)
	gw.Queue.SetProcessor(func(run *gateway.Run) error {
		run.Reply("echo: " + run.Event.Text)
		return nil
	})
	gw.Start(context.Background())
	defer gw.Stop()

	chat := GatewayChat(gw, time.Second)
	reply, err := chat(context.Background(), &types.InboundEvent{Source: Source, Key: types.ChannelKey("c"), Text: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "echo: ping" {
		t.Errorf("unexpected reply %q", reply)
	}
}

func TestGatewayChatTimeout(t *testing.T) {
	gw := gateway.New(1)
	release := make(chan struct{})
	gw.Queue.SetProcessor(func(run *gateway.Run) error {
		<-release
		return nil
	})
	gw.Start(context.Background())
	defer gw.Stop()
	defer close(release)

	_, err := GatewayChat(gw, 20*time.Millisecond)(context.Background(), &types.InboundEvent{Source: Source, Key: types.ChannelKey("c"), Text: "ping"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

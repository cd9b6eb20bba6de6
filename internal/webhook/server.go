// Package webhook is the local HTTP admin surface: health, metrics, context
// inspection, a chat endpoint and an immediate save trigger.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/gateway"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

// Source is the event source and route prefix of HTTP chat traffic.
const Source = "http"

// ChatHandler runs one chat event to completion and returns the reply.
type ChatHandler func(ctx context.Context, event *types.InboundEvent) (string, error)

// Options wires the server to the running bot. Nil fields disable the
// endpoints that need them.
type Options struct {
	Contexts   *state.ContextStore
	Adventures *adventure.Engine
	Chat       ChatHandler
	Save       func(ctx context.Context) error
	Registry   *prometheus.Registry
}

// Server is a lightweight HTTP handler for the admin endpoints.
type Server struct {
	opts Options
	mux  *http.ServeMux
}

// NewServer creates a Server from opts.
func NewServer(opts Options) *Server {
	s := &Server{
		opts: opts,
		mux:  http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if opts.Registry != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("GET /api/contexts", s.handleContexts)
	s.mux.HandleFunc("GET /api/contexts/{channel}/history", s.handleHistory)
	s.mux.HandleFunc("GET /api/adventures/{channel}", s.handleAdventure)
	s.mux.HandleFunc("POST /api/chat", s.handleChat)
	s.mux.HandleFunc("POST /api/save", s.handleSave)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	if s.opts.Contexts == nil {
		writeError(w, http.StatusServiceUnavailable, "contexts not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Contexts.List())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.opts.Contexts == nil {
		writeError(w, http.StatusServiceUnavailable, "contexts not configured")
		return
	}
	key := types.ThreadKey(r.PathValue("channel"), r.URL.Query().Get("thread"))
	if !s.opts.Contexts.Exists(key) {
		writeError(w, http.StatusNotFound, "context not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"key":      key,
		"stats":    s.opts.Contexts.Statistics(key),
		"messages": s.opts.Contexts.History(key),
	})
}

func (s *Server) handleAdventure(w http.ResponseWriter, r *http.Request) {
	if s.opts.Adventures == nil {
		writeError(w, http.StatusServiceUnavailable, "adventures not configured")
		return
	}
	session, ok := s.opts.Adventures.Get(r.PathValue("channel"))
	if !ok {
		writeError(w, http.StatusNotFound, "no adventure in this channel")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	Channel string `json:"channel"`
	Thread  string `json:"thread"`
	User    string `json:"user"`
	Text    string `json:"text"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.opts.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Channel == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "channel and text are required")
		return
	}
	if strings.Contains(req.Channel, "/") || strings.Contains(req.Thread, "/") {
		writeError(w, http.StatusBadRequest, "channel and thread must not contain '/'")
		return
	}
	if req.User == "" {
		req.User = "http"
	}

	event := &types.InboundEvent{
		Source:   Source,
		Key:      types.ThreadKey(req.Channel, req.Thread),
		UserID:   req.User,
		UserName: req.User,
		Text:     req.Text,
	}
	resp, err := s.opts.Chat(r.Context(), event)
	switch {
	case errors.Is(err, gateway.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timed out waiting for a reply")
		return
	case err != nil:
		slog.Error("chat handler failed", "channel", req.Channel, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": resp})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.opts.Save == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	start := time.Now()
	if err := s.opts.Save(r.Context()); err != nil {
		slog.Error("manual save failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "saved",
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// GatewayChat returns a ChatHandler that enqueues events on gw and waits up
// to timeout for the reply.
func GatewayChat(gw *gateway.Gateway, timeout time.Duration) ChatHandler {
	return func(ctx context.Context, event *types.InboundEvent) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		reply := make(chan string, 1)
		err := gw.HandleInbound(ctx, event, gateway.WithOnComplete(func(s string) {
			select {
			case reply <- s:
			default:
			}
		}))
		if err != nil {
			return "", err
		}
		select {
		case s := <-reply:
			return s, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

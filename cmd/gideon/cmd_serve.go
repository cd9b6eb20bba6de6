package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Emperor-Ovaltine/gideon/internal/adventure"
	"github.com/Emperor-Ovaltine/gideon/internal/config"
	"github.com/Emperor-Ovaltine/gideon/internal/delivery"
	"github.com/Emperor-Ovaltine/gideon/internal/events"
	"github.com/Emperor-Ovaltine/gideon/internal/gateway"
	"github.com/Emperor-Ovaltine/gideon/internal/imaging"
	"github.com/Emperor-Ovaltine/gideon/internal/metrics"
	"github.com/Emperor-Ovaltine/gideon/internal/persistence"
	"github.com/Emperor-Ovaltine/gideon/internal/prompt"
	"github.com/Emperor-Ovaltine/gideon/internal/runtime"
	"github.com/Emperor-Ovaltine/gideon/internal/scheduler"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
	"github.com/Emperor-Ovaltine/gideon/internal/telegram"
	"github.com/Emperor-Ovaltine/gideon/internal/webhook"
	"github.com/Emperor-Ovaltine/gideon/pkg/imagegen/cloudflare"
	"github.com/Emperor-Ovaltine/gideon/pkg/llm"
	"github.com/Emperor-Ovaltine/gideon/pkg/llm/openai"
)

// drainTimeout bounds how long shutdown waits for queued turns.
const drainTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(cfg *config.Config) (string, error) {
	pidPath := cfg.PIDPath()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

// stores bundles the in-memory state that is persisted as one document.
type stores struct {
	contexts   *state.ContextStore
	settings   *state.Settings
	adventures *adventure.Engine
	snap       *persistence.Snapshotter
	file       *persistence.FileStore
}

func newStores(cfg *config.Config, fs afero.Fs) *stores {
	s := &stores{
		contexts: state.NewContextStore(),
		settings: state.NewSettings(state.GlobalConfig{
			Model:       cfg.LLM.Model,
			Prompt:      cfg.LLM.SystemPrompt,
			MaxMessages: cfg.Memory.MaxMessages,
			WindowHours: cfg.Memory.WindowHours,
		}),
		adventures: adventure.NewEngine(adventure.WithImageFrequency(cfg.Adventure.ImageFrequency)),
		file:       persistence.NewFileStore(fs, cfg.StatePath(), persistence.WithBackups(cfg.Persistence.Backups)),
	}
	s.snap = &persistence.Snapshotter{Contexts: s.contexts, Settings: s.settings, Adventures: s.adventures}
	return s
}

// restore loads the state file into s. A corrupt file is either fatal or
// moved aside, depending on persistence.on_corrupt.
func (s *stores) restore(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Persistence.IOTimeoutSeconds)*time.Second)
	defer cancel()

	doc, err := s.file.Load(ctx)
	var corrupt *persistence.CorruptStateError
	switch {
	case errors.As(err, &corrupt):
		if cfg.Persistence.OnCorrupt == config.OnCorruptAbort {
			return err
		}
		moved, qerr := s.file.Quarantine()
		if qerr != nil {
			return fmt.Errorf("%w (and %v)", err, qerr)
		}
		slog.Warn("state file is corrupt, starting empty", "error", corrupt.Err, "moved_to", moved)
		return nil
	case err != nil:
		return fmt.Errorf("load state: %w", err)
	}
	if err := s.snap.Restore(doc); err != nil {
		return err
	}
	slog.Info("state loaded",
		"path", s.file.Path(),
		"contexts", len(doc.Contexts),
		"messages", doc.MessageCount(),
		"adventures", len(doc.Adventures),
	)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	st := newStores(cfg, afero.NewOsFs())
	if err := st.restore(ctx, cfg); err != nil {
		return err
	}

	// LLM provider
	provider := openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		AppName:     "Gideon",
	})
	retry := gateway.DefaultRetryPolicy()

	bus := events.NewBus()
	defer bus.Close()

	rt := runtime.New(runtime.Deps{
		Contexts:   st.contexts,
		Settings:   st.settings,
		Adventures: st.adventures,
		Generator:  prompt.NewGenerator(provider, cfg.LLM.MaxTokens, cfg.LLM.Temperature),
		Retry:      retry,
		Bus:        bus,
		Metrics:    m,
	})

	gw := gateway.New(int64(cfg.MaxConcurrent))
	gw.Queue.SetProcessor(rt.ProcessRun)
	gw.Start(ctx)
	defer gw.Stop()

	deliveryReg := delivery.NewRegistry()
	// HTTP callers read replies from the response body; scene images for
	// their contexts have nowhere to go.
	deliveryReg.Register(webhook.Source+":", func(route string, out delivery.Outbound) error {
		slog.Info("dropping delivery for http context", "route", route, "image_bytes", len(out.Image))
		return nil
	})

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		adapter.Register(deliveryReg)
		var menu []telegram.CommandInfo
		for _, c := range rt.Registry().All() {
			menu = append(menu, telegram.CommandInfo{Name: c.Name, Description: c.Summary})
		}
		if err := adapter.SetCommands(menu); err != nil {
			slog.Warn("failed to register telegram commands", "error", err)
		}
		go adapter.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	if cfg.Image.URL != "" {
		gen := cloudflare.New(cloudflare.Config{
			URL:     cfg.Image.URL,
			APIKey:  cfg.Image.APIKey,
			Width:   cfg.Image.Width,
			Height:  cfg.Image.Height,
			Steps:   cfg.Image.Steps,
			Timeout: time.Duration(cfg.Image.TimeoutSeconds) * time.Second,
		})
		worker := imaging.NewWorker(gen, deliveryReg, retry, m, time.Duration(cfg.Image.TimeoutSeconds)*time.Second)
		go func() {
			if err := worker.Run(ctx, bus); err != nil {
				slog.Error("scene image worker stopped", "error", err)
			}
		}()
		slog.Info("scene image worker started")
	} else {
		slog.Warn("scene images disabled (no image.url)")
	}

	autosaver := scheduler.New(st.snap, st.file, scheduler.Config{
		Interval:   time.Duration(cfg.Persistence.AutosaveMinutes) * time.Minute,
		PruneEvery: cfg.Persistence.PruneEvery,
		IOTimeout:  time.Duration(cfg.Persistence.IOTimeoutSeconds) * time.Second,
		ThreadIdle: time.Duration(cfg.Memory.ThreadIdleDays) * 24 * time.Hour,
	}, m)
	if err := autosaver.Start(); err != nil {
		return fmt.Errorf("start autosave: %w", err)
	}
	slog.Info("autosave started", "every_minutes", cfg.Persistence.AutosaveMinutes, "prune_every", cfg.Persistence.PruneEvery)

	var httpServer *http.Server
	if cfg.HTTP.Enabled {
		srv := webhook.NewServer(webhook.Options{
			Contexts:   st.contexts,
			Adventures: st.adventures,
			Chat:       webhook.GatewayChat(gw, 3*time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
			Save:       autosaver.SaveNow,
			Registry:   m.Registry,
		})
		httpServer = &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("http server error", "error", err)
			}
		}()
	}

	go func() {
		if err := config.Watch(ctx, cfgPath, 500*time.Millisecond, reloader(cfg, rt.Resolver(), st.settings)); err != nil {
			slog.Warn("config watcher disabled", "error", err)
		}
	}()

	slog.Info("gideon started",
		"data_dir", cfg.DataDir,
		"state_file", cfg.StatePath(),
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"model", cfg.LLM.Model,
		"pid_file", pidPath,
	)

	// shutdown stops intake, lets queued turns finish, then writes the final
	// snapshot. Nothing mutates state after the drain.
	shutdown := func() error {
		gw.Close()
		if !gw.Drain(drainTimeout) {
			slog.Warn("shutdown: queued turns did not finish in time", "pending", gw.Queue.Pending())
		}
		if httpServer != nil {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpServer.Shutdown(sctx)
			scancel()
		}
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Duration(cfg.Persistence.IOTimeoutSeconds)*time.Second)
		defer scancel()
		return autosaver.Shutdown(sctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigChan
	slog.Info("shutting down", "signal", sig)
	if err := shutdown(); err != nil {
		slog.Error("shutdown save failed", "error", err)
		return err
	}
	if sig != syscall.SIGHUP {
		return nil
	}

	slog.Info("restarting")
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	os.Remove(pidPath)
	if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("re-exec: %w", err)
	}
	return nil
}

// reloader applies the settings that can change without a restart. Values
// are only pushed when the file changed them, so chat commands that set the
// same globals are not undone by an unrelated edit.
func reloader(prev *config.Config, resolver *state.Resolver, settings *state.Settings) func(*config.Config) {
	return func(cfg *config.Config) {
		logLevel.Set(parseLevel(cfg.LogLevel))
		if cfg.LLM.Model != prev.LLM.Model {
			if err := resolver.SetGlobalModel(cfg.LLM.Model); err != nil {
				slog.Warn("reload: global model not applied", "error", err)
			}
		}
		if cfg.LLM.SystemPrompt != prev.LLM.SystemPrompt {
			if err := resolver.SetGlobalPrompt(cfg.LLM.SystemPrompt); err != nil {
				slog.Warn("reload: global prompt not applied", "error", err)
			}
		}
		if cfg.Memory.MaxMessages != prev.Memory.MaxMessages {
			if err := settings.SetGlobalMaxMessages(cfg.Memory.MaxMessages); err != nil {
				slog.Warn("reload: max_messages not applied", "error", err)
			}
		}
		if cfg.Memory.WindowHours != prev.Memory.WindowHours {
			if err := settings.SetGlobalWindowHours(cfg.Memory.WindowHours); err != nil {
				slog.Warn("reload: window_hours not applied", "error", err)
			}
		}
		prev = cfg
	}
}

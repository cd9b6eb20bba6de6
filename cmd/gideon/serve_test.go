package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Emperor-Ovaltine/gideon/internal/config"
	"github.com/Emperor-Ovaltine/gideon/internal/persistence"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
	"github.com/Emperor-Ovaltine/gideon/internal/types"
)

func testServeConfig() *config.Config {
	cfg := config.Default()
	cfg.DataDir = "/data"
	return cfg
}

func TestRestoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testServeConfig()

	st := newStores(cfg, fs)
	st.contexts.Append(types.ChannelKey("C1"), types.UserMessage("ada", "hello", time.Now()))
	if err := st.file.Save(context.Background(), st.snap.Snapshot()); err != nil {
		t.Fatal(err)
	}

	again := newStores(cfg, fs)
	if err := again.restore(context.Background(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := again.contexts.History(types.ChannelKey("C1")); len(got) != 1 || got[0].Content != "hello" {
		t.Errorf("unexpected restored history %+v", got)
	}
}

func TestRestoreFreshDataDirWithBlankPrompt(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testServeConfig()
	cfg.LLM.Model = ""
	cfg.LLM.SystemPrompt = ""

	st := newStores(cfg, fs)
	if err := st.restore(context.Background(), cfg); err != nil {
		t.Fatalf("restore on a fresh data dir: %v", err)
	}
	g := st.settings.Global()
	if g.Model == "" || g.Prompt == "" {
		t.Errorf("expected defaults for blank model and prompt, got %+v", g)
	}
}

func TestRestoreCorruptQuarantines(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testServeConfig()
	if err := afero.WriteFile(fs, cfg.StatePath(), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	st := newStores(cfg, fs)
	if err := st.restore(context.Background(), cfg); err != nil {
		t.Fatalf("expected empty start, got %v", err)
	}
	if len(st.contexts.List()) != 0 {
		t.Error("expected no contexts")
	}
	if ok, _ := afero.Exists(fs, cfg.StatePath()); ok {
		t.Error("expected corrupt file to be moved aside")
	}
}

func TestRestoreCorruptAbort(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testServeConfig()
	cfg.Persistence.OnCorrupt = config.OnCorruptAbort
	if err := afero.WriteFile(fs, cfg.StatePath(), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := newStores(cfg, fs).restore(context.Background(), cfg)
	var corrupt *persistence.CorruptStateError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptStateError, got %v", err)
	}
	if ok, _ := afero.Exists(fs, cfg.StatePath()); !ok {
		t.Error("abort must leave the file in place")
	}
}

func TestReloaderAppliesChangedValues(t *testing.T) {
	cfg := testServeConfig()
	st := newStores(cfg, afero.NewMemMapFs())
	resolver := state.NewResolver(st.contexts, st.settings)

	// A chat command changed the global model after startup.
	if err := resolver.SetGlobalModel("chat/choice"); err != nil {
		t.Fatal(err)
	}
	apply := reloader(cfg, resolver, st.settings)

	unrelated := *cfg
	unrelated.LogLevel = "debug"
	apply(&unrelated)
	if got := st.settings.Global().Model; got != "chat/choice" {
		t.Errorf("unrelated edit overwrote model: %s", got)
	}

	changed := unrelated
	changed.LLM.Model = "file/choice"
	changed.Memory.MaxMessages = 20
	apply(&changed)
	g := st.settings.Global()
	if g.Model != "file/choice" || g.MaxMessages != 20 {
		t.Errorf("expected file values applied, got %+v", g)
	}
	logLevel.Set(0)
}

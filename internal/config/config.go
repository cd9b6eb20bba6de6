// Package config loads the bot's configuration file, applies .env files and
// environment overrides, and offers flat key access for the CLI.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Emperor-Ovaltine/gideon/internal/prompt"
	"github.com/Emperor-Ovaltine/gideon/internal/state"
)

type LLM struct {
	BaseURL        string  `json:"base_url" yaml:"base_url"`
	APIKey         string  `json:"api_key" yaml:"api_key"`
	Model          string  `json:"model" yaml:"model"`
	SystemPrompt   string  `json:"system_prompt" yaml:"system_prompt"`
	MaxTokens      int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature    float32 `json:"temperature" yaml:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type Memory struct {
	MaxMessages    int `json:"max_messages" yaml:"max_messages"`
	WindowHours    int `json:"window_hours" yaml:"window_hours"`
	ThreadIdleDays int `json:"thread_idle_days" yaml:"thread_idle_days"`
}

type Persistence struct {
	StateFile        string `json:"state_file" yaml:"state_file"`
	AutosaveMinutes  int    `json:"autosave_minutes" yaml:"autosave_minutes"`
	PruneEvery       int    `json:"prune_every" yaml:"prune_every"`
	IOTimeoutSeconds int    `json:"io_timeout_seconds" yaml:"io_timeout_seconds"`
	Backups          int    `json:"backups" yaml:"backups"`
	OnCorrupt        string `json:"on_corrupt" yaml:"on_corrupt"`
}

type Image struct {
	URL            string `json:"url" yaml:"url"`
	APIKey         string `json:"api_key" yaml:"api_key"`
	Width          int    `json:"width" yaml:"width"`
	Height         int    `json:"height" yaml:"height"`
	Steps          int    `json:"steps" yaml:"steps"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

type Adventure struct {
	ImageFrequency int `json:"image_frequency" yaml:"image_frequency"`
}

type Telegram struct {
	Token string `json:"token" yaml:"token"`
}

type HTTP struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
}

type Config struct {
	DataDir       string      `json:"data_dir" yaml:"data_dir"`
	LogLevel      string      `json:"log_level" yaml:"log_level"`
	LogFormat     string      `json:"log_format" yaml:"log_format"`
	MaxConcurrent int         `json:"max_concurrent" yaml:"max_concurrent"`
	LLM           LLM         `json:"llm" yaml:"llm"`
	Memory        Memory      `json:"memory" yaml:"memory"`
	Persistence   Persistence `json:"persistence" yaml:"persistence"`
	Image         Image       `json:"image" yaml:"image"`
	Adventure     Adventure   `json:"adventure" yaml:"adventure"`
	Telegram      Telegram    `json:"telegram" yaml:"telegram"`
	HTTP          HTTP        `json:"http" yaml:"http"`
}

const (
	OnCorruptEmpty = "empty"
	OnCorruptAbort = "abort"
)

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		DataDir:       filepath.Join(home, ".gideon"),
		LogLevel:      "info",
		LogFormat:     "text",
		MaxConcurrent: 4,
	}
	cfg.LLM = LLM{
		BaseURL:        "https://openrouter.ai/api/v1",
		Model:          state.DefaultModel,
		SystemPrompt:   prompt.DefaultSystemPrompt,
		MaxTokens:      2000,
		Temperature:    0.7,
		TimeoutSeconds: 60,
	}
	cfg.Memory = Memory{MaxMessages: 35, WindowHours: 48, ThreadIdleDays: 14}
	cfg.Persistence = Persistence{
		StateFile:        "state.json",
		AutosaveMinutes:  5,
		PruneEvery:       4,
		IOTimeoutSeconds: 10,
		Backups:          10,
		OnCorrupt:        OnCorruptEmpty,
	}
	cfg.Image = Image{Width: 768, Height: 768, Steps: 25, TimeoutSeconds: 120}
	cfg.HTTP = HTTP{Listen: "127.0.0.1:8089"}
	return cfg
}

// DefaultPath is ~/.gideon/config.json.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".gideon", "config.json")
}

// StatePath is the snapshot file location, resolved against DataDir when
// relative.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.Persistence.StateFile) {
		return c.Persistence.StateFile
	}
	return filepath.Join(c.DataDir, c.Persistence.StateFile)
}

// PIDPath is where a running server records its process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, "gideon.pid")
}

// Load reads the config at path, writing defaults there first if the file
// does not exist. A .env file in the working directory and one in the data
// directory are loaded before environment overrides are applied; variables
// already set in the environment win over both.
func Load(path string) (*Config, error) {
	loadEnvFile(".env")

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if dir := os.Getenv("GIDEON_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	loadEnvFile(filepath.Join(cfg.DataDir, ".env"))
	applyEnv(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func loadEnvFile(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// applyEnv overrides from env (highest precedence).
func applyEnv(cfg *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if apiKey := os.Getenv("OPENROUTER_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("GIDEON_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if dir := os.Getenv("GIDEON_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if url := os.Getenv("CLOUDFLARE_WORKER_URL"); url != "" {
		cfg.Image.URL = url
	}
	if key := os.Getenv("CLOUDFLARE_API_KEY"); key != "" {
		cfg.Image.APIKey = key
	}
}

// normalize clamps memory limits into their accepted ranges and fills zero
// values that would otherwise disable a subsystem by accident.
func (c *Config) normalize() {
	c.Memory.MaxMessages = clamp(c.Memory.MaxMessages, 5, 100)
	c.Memory.WindowHours = clamp(c.Memory.WindowHours, 1, 96)
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.Persistence.IOTimeoutSeconds <= 0 {
		c.Persistence.IOTimeoutSeconds = 10
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.Persistence.OnCorrupt == "" {
		c.Persistence.OnCorrupt = OnCorruptEmpty
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = state.DefaultModel
	}
	if strings.TrimSpace(c.LLM.SystemPrompt) == "" {
		c.LLM.SystemPrompt = prompt.DefaultSystemPrompt
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q must be debug, info, warn or error", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q must be text or json", c.LogFormat)
	}
	switch c.Persistence.OnCorrupt {
	case OnCorruptEmpty, OnCorruptAbort:
	default:
		return fmt.Errorf("persistence.on_corrupt %q must be %s or %s", c.Persistence.OnCorrupt, OnCorruptEmpty, OnCorruptAbort)
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return fmt.Errorf("llm.model must not be empty")
	}
	if strings.TrimSpace(c.LLM.SystemPrompt) == "" {
		return fmt.Errorf("llm.system_prompt must not be empty")
	}
	if c.Persistence.AutosaveMinutes <= 0 {
		return fmt.Errorf("persistence.autosave_minutes must be positive")
	}
	if c.Adventure.ImageFrequency < 0 {
		return fmt.Errorf("adventure.image_frequency must not be negative")
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// decode fills v from data: YAML for .yaml/.yml paths, otherwise JSON with
// comments and trailing commas allowed.
func decode(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(jsonc.ToJSON(data), v)
}

func encode(path string, v any) ([]byte, error) {
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeDefaults(path string, cfg *Config) error {
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

// Config is the application configuration
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Logging     logger.Config     `toml:"logging"`
	OpenAI      OpenAIConfig      `toml:"openai"`
	Speech      SpeechConfig      `toml:"speech"`
	Translation TranslationConfig `toml:"translation"`
	Delivery    DeliveryConfig    `toml:"delivery"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Storage     StorageConfig     `toml:"storage"`
	Settings    SettingsConfig    `toml:"settings"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	ListenAddr          string   `toml:"listen_addr"`
	CORSAllowedOrigins  []string `toml:"cors_allowed_origins"`
	MaxConnections      int      `toml:"max_connections"`
	ReadTimeoutSeconds  int      `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int      `toml:"write_timeout_seconds"`
	MaxUploadMB         int      `toml:"max_upload_mb"`
}

// OpenAIConfig holds credentials shared by the speech and translation adapters
type OpenAIConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// SpeechConfig configures the recognizer
type SpeechConfig struct {
	Model    string `toml:"model"`
	Language string `toml:"language"`
	Prompt   string `toml:"prompt"`
}

// TranslationConfig configures the translator
type TranslationConfig struct {
	Provider       string `toml:"provider"` // openai, google
	Model          string `toml:"model"`
	SourceLanguage string `toml:"source_language"`
	TargetLanguage string `toml:"target_language"`
	GoogleURL      string `toml:"google_url"`
}

// DeliveryConfig configures the outbound command transport
type DeliveryConfig struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// PipelineConfig tunes the controller
type PipelineConfig struct {
	StageTimeoutSeconds int `toml:"stage_timeout_seconds"`
	EventBuffer         int `toml:"event_buffer"`
}

// StorageConfig configures the command history database
type StorageConfig struct {
	Enabled      bool   `toml:"enabled"`
	SQLitePath   string `toml:"sqlite_path"`
	HistoryLimit int    `toml:"history_limit"`
}

// SettingsConfig locates the delivery settings file
type SettingsConfig struct {
	Path string `toml:"path"`
}

// Default returns the configuration used for anything the file omits
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:          "127.0.0.1:8765",
			MaxConnections:      64,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 30,
			MaxUploadMB:         16,
		},
		Logging: logger.Config{Level: "info", Format: "console"},
		OpenAI: OpenAIConfig{
			TimeoutSeconds: 30,
			MaxRetries:     2,
		},
		Speech: SpeechConfig{
			Model:    "whisper-1",
			Language: "de",
		},
		Translation: TranslationConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			SourceLanguage: "de",
			TargetLanguage: "en",
			GoogleURL:      "https://translate.googleapis.com/translate_a/single",
		},
		Delivery: DeliveryConfig{
			TimeoutSeconds: 10,
			UserAgent:      "voice-commander/1.0",
		},
		Pipeline: PipelineConfig{
			StageTimeoutSeconds: 30,
			EventBuffer:         pipeline.DefaultEventBuffer,
		},
		Storage: StorageConfig{
			Enabled:      true,
			SQLitePath:   "data/commands.db",
			HistoryLimit: 100,
		},
		Settings: SettingsConfig{Path: "settings.toml"},
	}
}

// Load reads the TOML file at path on top of the defaults. A missing file is
// not an error. A .env file next to the working directory is loaded first and
// OPENAI_API_KEY overrides the configured key.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr is required")
	}
	switch c.Translation.Provider {
	case "openai", "google":
	default:
		return fmt.Errorf("unsupported translation provider: %q", c.Translation.Provider)
	}
	if c.Translation.SourceLanguage == "" || c.Translation.TargetLanguage == "" {
		return errors.New("translation source and target language are required")
	}
	if c.Speech.Language == "" {
		return errors.New("speech.language is required")
	}
	if c.Delivery.TimeoutSeconds <= 0 {
		return errors.New("delivery.timeout_seconds must be positive")
	}
	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required when storage is enabled")
	}
	if c.Settings.Path == "" {
		return errors.New("settings.path is required")
	}
	return nil
}

// PipelineConfig converts to the controller's configuration
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		SourceLanguage: c.Speech.Language,
		TargetLanguage: c.Translation.TargetLanguage,
		StageTimeout:   time.Duration(c.Pipeline.StageTimeoutSeconds) * time.Second,
		EventBuffer:    c.Pipeline.EventBuffer,
	}
}

// OpenAITimeout returns the HTTP timeout for OpenAI requests
func (c *Config) OpenAITimeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}

// DeliveryTimeout returns the HTTP timeout for command delivery
func (c *Config) DeliveryTimeout() time.Duration {
	return time.Duration(c.Delivery.TimeoutSeconds) * time.Second
}

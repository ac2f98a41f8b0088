package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Speech.Language != "de" || cfg.Translation.TargetLanguage != "en" {
		t.Errorf("languages = %s -> %s", cfg.Speech.Language, cfg.Translation.TargetLanguage)
	}
	if cfg.DeliveryTimeout() != 10*time.Second {
		t.Errorf("delivery timeout = %v", cfg.DeliveryTimeout())
	}
}

func TestLoadOverridesAndEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	path := writeConfig(t, `
[server]
listen_addr = "0.0.0.0:9000"

[openai]
api_key = "sk-from-file"

[translation]
provider = "google"

[pipeline]
stage_timeout_seconds = 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, env should win", cfg.OpenAI.APIKey)
	}
	if cfg.Translation.Provider != "google" {
		t.Errorf("provider = %q", cfg.Translation.Provider)
	}
	if cfg.Translation.Model != "gpt-4o-mini" {
		t.Errorf("unset model lost its default: %q", cfg.Translation.Model)
	}

	pc := cfg.PipelineConfig()
	if pc.StageTimeout != 5*time.Second || pc.SourceLanguage != "de" || pc.TargetLanguage != "en" {
		t.Errorf("pipeline config = %+v", pc)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"syntax":   `[server`,
		"provider": "[translation]\nprovider = \"deepl\"",
		"timeout":  "[delivery]\ntimeout_seconds = 0",
		"storage":  "[storage]\nenabled = true\nsqlite_path = \"\"",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

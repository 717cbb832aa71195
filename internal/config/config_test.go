package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Transcription.Provider != "speechmatics" {
		t.Errorf("expected default provider speechmatics, got %q", cfg.Transcription.Provider)
	}
	if cfg.Transcription.SampleRate != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.Transcription.SampleRate)
	}
	if cfg.Transcription.Encoding != "mulaw" {
		t.Errorf("expected default encoding mulaw, got %q", cfg.Transcription.Encoding)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("expected default port 3000, got %d", cfg.Server.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = 8080
base_url = "https://relay.example.com"

[transcription]
provider = "deepgram"
keywords = ["invoice", "refund"]

[transcription.deepgram]
api_key = "dg-key"
interim_results = false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.BaseURL != "https://relay.example.com" {
		t.Errorf("expected overridden base URL, got %q", cfg.Server.BaseURL)
	}
	if cfg.Transcription.Provider != "deepgram" {
		t.Errorf("expected provider deepgram, got %q", cfg.Transcription.Provider)
	}
	if len(cfg.Transcription.Keywords) != 2 {
		t.Errorf("expected 2 keywords, got %v", cfg.Transcription.Keywords)
	}
	if cfg.Transcription.Deepgram.APIKey != "dg-key" {
		t.Errorf("expected API key from file, got %q", cfg.Transcription.Deepgram.APIKey)
	}
	if cfg.Transcription.Deepgram.InterimResults {
		t.Error("expected interim_results false from file")
	}

	// Values the file does not set keep their defaults
	if cfg.Transcription.SampleRate != 8000 {
		t.Errorf("expected default sample rate to survive, got %d", cfg.Transcription.SampleRate)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected default host to survive, got %q", cfg.Server.Host)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC-from-env")
	t.Setenv("SPEECHMATICS_API_TOKEN", "sm-from-env")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Twilio.AccountSID != "AC-from-env" {
		t.Errorf("expected env account SID, got %q", cfg.Twilio.AccountSID)
	}
	if cfg.Transcription.Speechmatics.APIToken != "sm-from-env" {
		t.Errorf("expected env API token, got %q", cfg.Transcription.Speechmatics.APIToken)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported provider", func(c *Config) { c.Transcription.Provider = "whisper" }},
		{"invalid port", func(c *Config) { c.Server.Port = 0 }},
		{"invalid sample rate", func(c *Config) { c.Transcription.SampleRate = -1 }},
		{"invalid queue cap", func(c *Config) { c.Transcription.MaxQueuedFrames = 0 }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

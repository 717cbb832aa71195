package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level application configuration
type Config struct {
	Server        ServerConfig        `toml:"server"`
	Logging       LoggingConfig       `toml:"logging"`
	Twilio        TwilioConfig        `toml:"twilio"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Storage       StorageConfig       `toml:"storage"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	BaseURL            string   `toml:"base_url"` // public URL Twilio connects back to
	StaticFilesDir     string   `toml:"static_files_dir"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	ReadTimeoutSec     int      `toml:"read_timeout_seconds"`
	WriteTimeoutSec    int      `toml:"write_timeout_seconds"`
	ShutdownTimeoutSec int      `toml:"shutdown_timeout_seconds"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// TwilioConfig represents the telephony provider configuration
type TwilioConfig struct {
	AccountSID     string `toml:"account_sid"`
	AuthToken      string `toml:"auth_token"`
	PhoneNumber    string `toml:"phone_number"` // caller ID for both legs
	AgentNumber    string `toml:"agent_number"` // internal agent dialed into every conference
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// TranscriptionConfig represents the upstream speech recognition configuration
type TranscriptionConfig struct {
	Provider          string             `toml:"provider"` // "deepgram" or "speechmatics"
	Language          string             `toml:"language"`
	Encoding          string             `toml:"encoding"`
	SampleRate        int                `toml:"sample_rate"`
	Keywords          []string           `toml:"keywords"` // domain vocabulary boost list
	ConnectTimeoutSec int                `toml:"connect_timeout_seconds"`
	MaxQueuedFrames   int                `toml:"max_queued_frames"`
	Deepgram          DeepgramConfig     `toml:"deepgram"`
	Speechmatics      SpeechmaticsConfig `toml:"speechmatics"`
}

// DeepgramConfig represents Deepgram-specific settings
type DeepgramConfig struct {
	APIKey         string `toml:"api_key"`
	URL            string `toml:"url"`
	InterimResults bool   `toml:"interim_results"`
	Punctuate      bool   `toml:"punctuate"`
}

// SpeechmaticsConfig represents Speechmatics-specific settings
type SpeechmaticsConfig struct {
	APIToken       string `toml:"api_token"`
	URL            string `toml:"url"`
	EnablePartials bool   `toml:"enable_partials"`
	MaxDelaySec    int    `toml:"max_delay_seconds"`
	OperatingPoint string `toml:"operating_point"`
}

// StorageConfig represents the storage configuration
type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               3000,
			BaseURL:            "http://localhost:3000",
			StaticFilesDir:     "public",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSec:     30,
			WriteTimeoutSec:    30,
			ShutdownTimeoutSec: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Twilio: TwilioConfig{
			TimeoutSeconds: 30,
		},
		Transcription: TranscriptionConfig{
			Provider:          "speechmatics",
			Language:          "en",
			Encoding:          "mulaw",
			SampleRate:        8000,
			ConnectTimeoutSec: 30,
			MaxQueuedFrames:   512,
			Deepgram: DeepgramConfig{
				URL:            "wss://api.deepgram.com/v1/listen",
				InterimResults: true,
				Punctuate:      true,
			},
			Speechmatics: SpeechmaticsConfig{
				URL:            "wss://eu2.rt.speechmatics.com/v2",
				EnablePartials: true,
				MaxDelaySec:    2,
				OperatingPoint: "enhanced",
			},
		},
		Storage: StorageConfig{
			DBPath: "callrelay.db",
		},
	}
}

// Load loads the configuration from the given path, falling back to defaults
// for any values the file does not set
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides lets secrets live in the environment instead of the config file
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		c.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		c.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_PHONE_NUMBER"); v != "" {
		c.Twilio.PhoneNumber = v
	}
	if v := os.Getenv("AGENT_NUMBER"); v != "" {
		c.Twilio.AgentNumber = v
	}
	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		c.Transcription.Deepgram.APIKey = v
	}
	if v := os.Getenv("SPEECHMATICS_API_TOKEN"); v != "" {
		c.Transcription.Speechmatics.APIToken = v
	}
}

// Validate checks the configuration for values that would only fail at runtime
func (c *Config) Validate() error {
	switch c.Transcription.Provider {
	case "deepgram", "speechmatics":
	default:
		return fmt.Errorf("unsupported transcription provider: %s", c.Transcription.Provider)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Transcription.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", c.Transcription.SampleRate)
	}

	if c.Transcription.MaxQueuedFrames <= 0 {
		return fmt.Errorf("invalid max_queued_frames: %d", c.Transcription.MaxQueuedFrames)
	}

	return nil
}

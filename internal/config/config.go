package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the realtime translator client
type Config struct {
	// Backend API (token issuance, job reservation/completion, quota)
	BackendURL   string `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	BackendToken string `envconfig:"BACKEND_TOKEN" required:"true"` // bearer token for the backend API

	// Realtime transcription service
	RealtimeURL       string `envconfig:"REALTIME_URL" default:"https://api.openai.com/v1/realtime/calls"`
	RealtimeTransport string `envconfig:"REALTIME_TRANSPORT" default:"webrtc"` // webrtc or websocket

	// OpenAI API for translation/summarization
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// Language settings
	InputLang  string `envconfig:"INPUT_LANG" default:"auto"`
	OutputLang string `envconfig:"OUTPUT_LANG" default:"en"`

	// Transcript assembly
	GapPreset string `envconfig:"GAP_PRESET" default:"balanced"` // fast, balanced, stable
	GapMs     int    `envconfig:"GAP_MS" default:"0"`            // overrides preset when > 0

	// Voice activity detection hints sent to the realtime service
	VADSilenceMs int     `envconfig:"VAD_SILENCE_MS" default:"400"`
	VADThreshold float64 `envconfig:"VAD_THRESHOLD" default:"0.5"`
	VADPrefixMs  int     `envconfig:"VAD_PREFIX_MS" default:"300"`

	// Audio capture
	SampleRate    int    `envconfig:"SAMPLE_RATE" default:"48000"`
	Channels      int    `envconfig:"CHANNELS" default:"1"`
	RecordingDir  string `envconfig:"RECORDING_DIR" default:"recordings"`
	RecordingOff  bool   `envconfig:"RECORDING_OFF" default:"false"`
	HistoryDBPath string `envconfig:"HISTORY_DB_PATH" default:"data/history.db"`

	// Connection lifecycle
	MaxRetryCount          int `envconfig:"MAX_RETRY_COUNT" default:"1"`        // retries after the first attempt
	RetryBackoffMs         int `envconfig:"RETRY_BACKOFF_MS" default:"750"`     // fixed wait between attempts
	ConnectionTimeoutMs    int `envconfig:"CONNECTION_TIMEOUT_MS" default:"10000"`
	StartThrottleMs        int `envconfig:"START_THROTTLE_MS" default:"12000"`  // min interval between reservations
	RateLimitWaitMs        int `envconfig:"RATE_LIMIT_WAIT_MS" default:"60000"` // cooldown when Retry-After is absent
	DisconnectDebounceMs   int `envconfig:"DISCONNECT_DEBOUNCE_MS" default:"500"`
	PendingFinalizeRetries int `envconfig:"PENDING_FINALIZE_RETRIES" default:"1"`

	// Observability
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	DebugPort      string `envconfig:"DEBUG_PORT" default:"9090"` // metrics + health endpoints
}

// gapPresets mirror the fast/balanced/stable tuning of the web client.
var gapPresets = map[string]int{
	"fast":     700,
	"balanced": 1000,
	"stable":   1500,
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.BackendToken == "" {
		return nil, fmt.Errorf("BACKEND_TOKEN is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.RealtimeTransport != "webrtc" && cfg.RealtimeTransport != "websocket" {
		return nil, fmt.Errorf("REALTIME_TRANSPORT must be webrtc or websocket, got %q", cfg.RealtimeTransport)
	}
	if cfg.GapMs == 0 {
		gap, ok := gapPresets[cfg.GapPreset]
		if !ok {
			return nil, fmt.Errorf("unknown GAP_PRESET %q", cfg.GapPreset)
		}
		cfg.GapMs = gap
	}

	return &cfg, nil
}

// GapInterval returns the silence-gap commit interval.
func (c *Config) GapInterval() time.Duration {
	return time.Duration(c.GapMs) * time.Millisecond
}

// RetryBackoff returns the fixed wait between connection attempts.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// ConnectionTimeout returns the umbrella budget for one connection attempt.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMs) * time.Millisecond
}

// StartThrottle returns the minimum interval between reservation attempts.
func (c *Config) StartThrottle() time.Duration {
	return time.Duration(c.StartThrottleMs) * time.Millisecond
}

// RateLimitWait returns the default cooldown used when the server gives no hint.
func (c *Config) RateLimitWait() time.Duration {
	return time.Duration(c.RateLimitWaitMs) * time.Millisecond
}

// DisconnectDebounce returns the wait before a disconnect signal is acted on.
func (c *Config) DisconnectDebounce() time.Duration {
	return time.Duration(c.DisconnectDebounceMs) * time.Millisecond
}

package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("BACKEND_TOKEN", "test-backend-token")
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
	t.Cleanup(func() {
		os.Unsetenv("BACKEND_TOKEN")
		os.Unsetenv("OPENAI_API_KEY")
	})
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.BackendToken != "test-backend-token" {
		t.Errorf("Expected BackendToken 'test-backend-token', got '%s'", cfg.BackendToken)
	}
	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}
}

func TestLoadFromEnv_MissingRequired(t *testing.T) {
	os.Unsetenv("BACKEND_TOKEN")
	os.Unsetenv("OPENAI_API_KEY")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.RealtimeTransport != "webrtc" {
		t.Errorf("Expected default RealtimeTransport 'webrtc', got '%s'", cfg.RealtimeTransport)
	}
	if cfg.GapMs != 1000 {
		t.Errorf("Expected balanced preset GapMs 1000, got %d", cfg.GapMs)
	}
	if cfg.MaxRetryCount != 1 {
		t.Errorf("Expected default MaxRetryCount 1, got %d", cfg.MaxRetryCount)
	}
	if cfg.RetryBackoffMs != 750 {
		t.Errorf("Expected default RetryBackoffMs 750, got %d", cfg.RetryBackoffMs)
	}
	if cfg.StartThrottleMs != 12000 {
		t.Errorf("Expected default StartThrottleMs 12000, got %d", cfg.StartThrottleMs)
	}
	if cfg.DisconnectDebounceMs != 500 {
		t.Errorf("Expected default DisconnectDebounceMs 500, got %d", cfg.DisconnectDebounceMs)
	}
	if cfg.PendingFinalizeRetries != 1 {
		t.Errorf("Expected default PendingFinalizeRetries 1, got %d", cfg.PendingFinalizeRetries)
	}
}

func TestLoadFromEnv_GapPresets(t *testing.T) {
	setRequiredEnv(t)

	tests := []struct {
		preset string
		want   int
	}{
		{"fast", 700},
		{"balanced", 1000},
		{"stable", 1500},
	}

	for _, tt := range tests {
		os.Setenv("GAP_PRESET", tt.preset)
		cfg, err := LoadFromEnv()
		if err != nil {
			t.Fatalf("LoadFromEnv() failed for preset %s: %v", tt.preset, err)
		}
		if cfg.GapMs != tt.want {
			t.Errorf("Preset %s: expected GapMs %d, got %d", tt.preset, tt.want, cfg.GapMs)
		}
	}
	os.Unsetenv("GAP_PRESET")
}

func TestLoadFromEnv_GapOverride(t *testing.T) {
	setRequiredEnv(t)

	os.Setenv("GAP_MS", "1234")
	defer os.Unsetenv("GAP_MS")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.GapMs != 1234 {
		t.Errorf("Expected GapMs override 1234, got %d", cfg.GapMs)
	}
}

func TestLoadFromEnv_InvalidTransport(t *testing.T) {
	setRequiredEnv(t)

	os.Setenv("REALTIME_TRANSPORT", "carrier-pigeon")
	defer os.Unsetenv("REALTIME_TRANSPORT")

	_, err := LoadFromEnv()
	if err == nil {
		t.Error("Expected error for invalid transport")
	}
}

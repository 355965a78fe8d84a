package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.AudioCodec != "g711_ulaw" {
		t.Fatalf("AudioCodec = %q, want %q", cfg.AudioCodec, "g711_ulaw")
	}
	if cfg.VADThreshold != 0.5 || cfg.VADPrefixPadding != 300*time.Millisecond || cfg.VADSilenceDuration != 500*time.Millisecond {
		t.Fatalf("unexpected turn detection defaults: %v %v %v", cfg.VADThreshold, cfg.VADPrefixPadding, cfg.VADSilenceDuration)
	}
	if cfg.RealtimeConnectAttempts != 1 {
		t.Fatalf("RealtimeConnectAttempts = %d, want 1", cfg.RealtimeConnectAttempts)
	}
	if cfg.MaxCallDuration != 0 || cfg.CallIdleTimeout != 0 {
		t.Fatalf("call limits should be disabled by default, got %v / %v", cfg.MaxCallDuration, cfg.CallIdleTimeout)
	}
	if !strings.Contains(cfg.RealtimeInstructions, "receptionist") {
		t.Fatalf("RealtimeInstructions missing default prompt: %q", cfg.RealtimeInstructions)
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	setCoreEnvEmpty(t)

	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil, want missing OPENAI_API_KEY error")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("VAD_THRESHOLD", "0.7")
	t.Setenv("VAD_SILENCE_DURATION", "700ms")
	t.Setenv("REALTIME_CONNECT_ATTEMPTS", "3")
	t.Setenv("APP_MAX_CALL_DURATION", "30m")
	t.Setenv("MEDIA_STREAM_PATH", "/twilio/stream")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VADThreshold != 0.7 {
		t.Fatalf("VADThreshold = %v, want 0.7", cfg.VADThreshold)
	}
	if cfg.VADSilenceDuration != 700*time.Millisecond {
		t.Fatalf("VADSilenceDuration = %v, want 700ms", cfg.VADSilenceDuration)
	}
	if cfg.RealtimeConnectAttempts != 3 {
		t.Fatalf("RealtimeConnectAttempts = %d, want 3", cfg.RealtimeConnectAttempts)
	}
	if cfg.MaxCallDuration != 30*time.Minute {
		t.Fatalf("MaxCallDuration = %v, want 30m", cfg.MaxCallDuration)
	}
	if cfg.MediaStreamPath != "/twilio/stream" {
		t.Fatalf("MediaStreamPath = %q, want %q", cfg.MediaStreamPath, "/twilio/stream")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"VAD_THRESHOLD":             "1.5",
		"REALTIME_CONNECT_ATTEMPTS": "0",
		"MEDIA_STREAM_PATH":         "media-stream",
		"LOG_FORMAT":                "xml",
		"APP_WRITE_TIMEOUT":         "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("OPENAI_API_KEY", "sk-test")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q error = nil, want error", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_WRITE_TIMEOUT",
		"APP_MAX_CALL_DURATION",
		"APP_CALL_IDLE_TIMEOUT",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"MEDIA_STREAM_PATH",
		"PUBLIC_STREAM_URL",
		"OPENAI_API_KEY",
		"OPENAI_REALTIME_URL",
		"OPENAI_REALTIME_MODEL",
		"REALTIME_VOICE",
		"REALTIME_INSTRUCTIONS",
		"AUDIO_CODEC",
		"VAD_THRESHOLD",
		"VAD_PREFIX_PADDING",
		"VAD_SILENCE_DURATION",
		"REALTIME_DIAL_TIMEOUT",
		"REALTIME_CONNECT_ATTEMPTS",
		"FUNCTION_CALL_TIMEOUT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultInstructions = `You are a professional AI receptionist for CyberGuardNG Security Inc., a cybersecurity consulting firm.

Your responsibilities:
1. Greet callers warmly and professionally
2. Answer questions about our services (SOC 2, ISO 27001, PCI DSS compliance, incident response)
3. Provide information from our knowledge base when asked
4. Take messages for callbacks
5. Be concise and clear - this is a phone call, not a chat

Guidelines:
- Keep responses under 30 seconds
- Speak naturally like a human receptionist
- If asked complex technical questions, offer to have a specialist call back
- Always offer to connect them with someone or take a message
- Be friendly but professional`

// Config contains all runtime settings for the voice relay gateway.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	WriteTimeout     time.Duration

	// Zero disables the limit.
	MaxCallDuration time.Duration
	CallIdleTimeout time.Duration

	LogLevel  string
	LogFormat string

	MediaStreamPath string
	PublicStreamURL string

	OpenAIAPIKey            string
	RealtimeURL             string
	RealtimeModel           string
	RealtimeVoice           string
	RealtimeInstructions    string
	AudioCodec              string
	VADThreshold            float64
	VADPrefixPadding        time.Duration
	VADSilenceDuration      time.Duration
	RealtimeDialTimeout     time.Duration
	RealtimeConnectAttempts int

	FunctionCallTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicegateway"),
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("LOG_FORMAT", "text")),
		MediaStreamPath:  envOrDefault("MEDIA_STREAM_PATH", "/media-stream"),
		PublicStreamURL:  stringsTrimSpace("PUBLIC_STREAM_URL"),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		RealtimeURL:      envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:    envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-12-17"),
		RealtimeVoice:    envOrDefault("REALTIME_VOICE", "alloy"),
		// Twilio media streams carry 8 kHz mu-law; the backend is told to use the same.
		AudioCodec:              envOrDefault("AUDIO_CODEC", "g711_ulaw"),
		RealtimeInstructions:    envOrDefault("REALTIME_INSTRUCTIONS", defaultInstructions),
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:         15 * time.Second,
		WriteTimeout:            10 * time.Second,
		VADThreshold:            0.5,
		VADPrefixPadding:        300 * time.Millisecond,
		VADSilenceDuration:      500 * time.Millisecond,
		RealtimeDialTimeout:     10 * time.Second,
		RealtimeConnectAttempts: 1,
		FunctionCallTimeout:     5 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WriteTimeout, err = durationFromEnv("APP_WRITE_TIMEOUT", cfg.WriteTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxCallDuration, err = durationFromEnv("APP_MAX_CALL_DURATION", cfg.MaxCallDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.CallIdleTimeout, err = durationFromEnv("APP_CALL_IDLE_TIMEOUT", cfg.CallIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPrefixPadding, err = durationFromEnv("VAD_PREFIX_PADDING", cfg.VADPrefixPadding)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilenceDuration, err = durationFromEnv("VAD_SILENCE_DURATION", cfg.VADSilenceDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeDialTimeout, err = durationFromEnv("REALTIME_DIAL_TIMEOUT", cfg.RealtimeDialTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeConnectAttempts, err = intFromEnv("REALTIME_CONNECT_ATTEMPTS", cfg.RealtimeConnectAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.FunctionCallTimeout, err = durationFromEnv("FUNCTION_CALL_TIMEOUT", cfg.FunctionCallTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if !strings.HasPrefix(cfg.MediaStreamPath, "/") {
		return Config{}, fmt.Errorf("MEDIA_STREAM_PATH must start with /")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("VAD_THRESHOLD must be within [0, 1]")
	}
	if cfg.VADPrefixPadding < 0 || cfg.VADSilenceDuration < 0 {
		return Config{}, fmt.Errorf("VAD_PREFIX_PADDING and VAD_SILENCE_DURATION must be >= 0")
	}
	if cfg.RealtimeConnectAttempts <= 0 {
		return Config{}, fmt.Errorf("REALTIME_CONNECT_ATTEMPTS must be positive")
	}
	if cfg.MaxCallDuration < 0 || cfg.CallIdleTimeout < 0 {
		return Config{}, fmt.Errorf("APP_MAX_CALL_DURATION and APP_CALL_IDLE_TIMEOUT must be >= 0")
	}
	if cfg.WriteTimeout <= 0 || cfg.FunctionCallTimeout <= 0 || cfg.RealtimeDialTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_WRITE_TIMEOUT, FUNCTION_CALL_TIMEOUT and REALTIME_DIAL_TIMEOUT must be positive")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT: %q (expected text|json)", cfg.LogFormat)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

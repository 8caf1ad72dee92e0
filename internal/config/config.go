package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         slog.Level

	AllowAnyOrigin bool

	CompletionMode           string
	CompletionBaseURL        string
	CompletionAPIKey         string
	CompletionModel          string
	CompletionTemperature    float64
	CompletionMaxTokens      int
	CompletionTimeout        time.Duration
	CompletionMaxAttempts    int
	CompletionRetryBaseDelay time.Duration
	CompletionCacheTTL       time.Duration

	HistoryMaxTurns   int
	ChatRatePerMinute int

	DatabaseURL string

	JWTSecret string
	JWTTTL    time.Duration
}

// Load reads environment variables and applies safe defaults.
// Secrets have no defaults and must come from the environment.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "xianwen"),
		LogLevel:                 slog.LevelInfo,
		AllowAnyOrigin:           true,
		CompletionMode:           strings.ToLower(envOrDefault("COMPLETION_MODE", "http")),
		CompletionBaseURL:        stringsTrimSpace("COMPLETION_BASE_URL"),
		CompletionAPIKey:         stringsTrimSpace("COMPLETION_API_KEY"),
		CompletionModel:          envOrDefault("COMPLETION_MODEL", "deepseek-chat"),
		CompletionTemperature:    0.7,
		CompletionMaxTokens:      2000,
		CompletionTimeout:        60 * time.Second,
		CompletionMaxAttempts:    3,
		CompletionRetryBaseDelay: time.Second,
		CompletionCacheTTL:       5 * time.Minute,
		HistoryMaxTurns:          20,
		ChatRatePerMinute:        30,
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		JWTSecret:                stringsTrimSpace("JWT_SECRET"),
		JWTTTL:                   24 * time.Hour,
		ShutdownTimeout:          15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel, err = levelFromEnv("APP_LOG_LEVEL", cfg.LogLevel)
	if err != nil {
		return Config{}, err
	}

	cfg.CompletionTemperature, err = floatFromEnv("COMPLETION_TEMPERATURE", cfg.CompletionTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionMaxTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.CompletionMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionMaxAttempts, err = intFromEnv("COMPLETION_MAX_ATTEMPTS", cfg.CompletionMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionRetryBaseDelay, err = durationFromEnv("COMPLETION_RETRY_BASE_DELAY", cfg.CompletionRetryBaseDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionCacheTTL, err = durationFromEnv("COMPLETION_CACHE_TTL", cfg.CompletionCacheTTL)
	if err != nil {
		return Config{}, err
	}

	cfg.HistoryMaxTurns, err = intFromEnv("HISTORY_MAX_TURNS", cfg.HistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatRatePerMinute, err = intFromEnv("CHAT_RATE_PER_MINUTE", cfg.ChatRatePerMinute)
	if err != nil {
		return Config{}, err
	}
	cfg.JWTTTL, err = durationFromEnv("JWT_TTL", cfg.JWTTTL)
	if err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	switch cfg.CompletionMode {
	case "http", "mock":
	default:
		return Config{}, fmt.Errorf("COMPLETION_MODE must be http or mock, got %q", cfg.CompletionMode)
	}
	if cfg.CompletionMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_ATTEMPTS must be positive")
	}
	if cfg.CompletionMaxTokens <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if cfg.CompletionTemperature < 0 || cfg.CompletionTemperature > 2 {
		return Config{}, fmt.Errorf("COMPLETION_TEMPERATURE must be within [0, 2]")
	}
	// Eviction works on user/assistant pairs, so the cap must hold whole pairs.
	if cfg.HistoryMaxTurns < 2 || cfg.HistoryMaxTurns%2 != 0 {
		return Config{}, fmt.Errorf("HISTORY_MAX_TURNS must be an even number >= 2")
	}
	if cfg.ChatRatePerMinute < 0 {
		return Config{}, fmt.Errorf("CHAT_RATE_PER_MINUTE must be >= 0")
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

func levelFromEnv(key string, fallback slog.Level) (slog.Level, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return fallback, fmt.Errorf("%s parse error: %w", key, err)
	}
	return lvl, nil
}

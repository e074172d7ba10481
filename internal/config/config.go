package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the conversation relay.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	LogLevel  string
	LogFormat string

	BrainMode    string
	BrainHTTPURL string

	TTSProvider               string
	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string
	TTSFallbackVoiceID        string
	BrainHTTPStrict           bool

	StorageBackend string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	SignedURLTTL   time.Duration

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	DirectoryCacheTTL time.Duration

	DatabaseURL            string
	TranscriptHistoryLimit int
}

// Load reads an optional .env file, then environment variables, and applies
// safe defaults.
func Load() (Config, error) {
	if err := loadDotEnv(envOrDefault("APP_ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:                  envOrDefault("APP_BIND_ADDR", ":8765"),
		MetricsNamespace:          envOrDefault("APP_METRICS_NAMESPACE", "alivehere"),
		AllowAnyOrigin:            false,
		LogLevel:                  envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                 envOrDefault("LOG_FORMAT", "text"),
		BrainMode:                 envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:              stringsTrimSpace("BRAIN_HTTP_URL"),
		TTSProvider:               envOrDefault("TTS_PROVIDER", "auto"),
		ElevenLabsAPIKey:          stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:       envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSModel:        envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		TTSFallbackVoiceID:        stringsTrimSpace("TTS_FALLBACK_VOICE_ID"),
		StorageBackend:            envOrDefault("STORAGE_BACKEND", "memory"),
		S3Bucket:                  stringsTrimSpace("S3_BUCKET"),
		S3Region:                  envOrDefault("S3_REGION", "us-east-1"),
		S3Endpoint:                stringsTrimSpace("S3_ENDPOINT"),
		RedisAddr:                 stringsTrimSpace("REDIS_ADDR"),
		RedisPassword:             stringsTrimSpace("REDIS_PASSWORD"),
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		TranscriptHistoryLimit:    8,
		ShutdownTimeout:           15 * time.Second,
		SessionInactivityTimeout:  2 * time.Minute,
		SignedURLTTL:              15 * time.Minute,
		DirectoryCacheTTL:         5 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SignedURLTTL, err = durationFromEnv("S3_SIGNED_URL_TTL", cfg.SignedURLTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.DirectoryCacheTTL, err = durationFromEnv("DIRECTORY_CACHE_TTL", cfg.DirectoryCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cfg.TranscriptHistoryLimit, err = intFromEnv("TRANSCRIPT_HISTORY_LIMIT", cfg.TranscriptHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.BrainHTTPStrict, err = boolFromEnv("BRAIN_HTTP_STRICT", cfg.BrainHTTPStrict)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.TranscriptHistoryLimit < 0 {
		return Config{}, fmt.Errorf("TRANSCRIPT_HISTORY_LIMIT must be >= 0")
	}
	switch strings.ToLower(cfg.StorageBackend) {
	case "memory":
	case "s3":
		if cfg.S3Bucket == "" {
			return Config{}, fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORAGE_BACKEND: %q (expected memory|s3)", cfg.StorageBackend)
	}
	switch strings.ToLower(cfg.TTSProvider) {
	case "auto", "mock":
	case "elevenlabs":
		if cfg.ElevenLabsAPIKey == "" {
			return Config{}, fmt.Errorf("ELEVENLABS_API_KEY is required when TTS_PROVIDER=elevenlabs")
		}
	default:
		return Config{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.TTSProvider)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("invalid LOG_FORMAT: %q (expected text|json)", cfg.LogFormat)
	}

	return cfg, nil
}

// loadDotEnv populates unset variables from path. A missing file is fine.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
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

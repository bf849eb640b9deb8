package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	DatabaseURL string
	StoragePath string

	NATSURL             string
	NATSRequestSubject  string
	NATSResponseSubject string

	MaxDimension      int
	MaxTiles          int
	SlicingEnabled    bool
	BridgeTimeout     time.Duration
	BridgeCleanup     time.Duration
	RenderConcurrency int
	WorkerInFlight    int
	RenderMaxPixels   int64

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	MaxUploadBytes   int64
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		LogLevel:            os.Getenv("LOG_LEVEL"),
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		StoragePath:         getEnv("STORAGE_PATH", "./storage"),
		NATSURL:             os.Getenv("NATS_URL"),
		NATSRequestSubject:  getEnv("NATS_REQUEST_SUBJECT", "slicer.slice.request"),
		NATSResponseSubject: getEnv("NATS_RESPONSE_SUBJECT", "slicer.slice.response"),
		MaxDimension:        getEnvInt("MAX_DIMENSION", 4096),
		MaxTiles:            getEnvInt("MAX_TILES", 64),
		SlicingEnabled:      getEnvBool("SLICING_ENABLED", true),
		BridgeTimeout:       getEnvDuration("BRIDGE_TIMEOUT_MS", 15*time.Second),
		BridgeCleanup:       getEnvDuration("BRIDGE_CLEANUP_MS", 16*time.Second),
		RenderConcurrency:   getEnvInt("RENDER_CONCURRENCY", 4),
		WorkerInFlight:      getEnvInt("WORKER_MAX_IN_FLIGHT", 2),
		RenderMaxPixels:     int64(getEnvInt("RENDER_MAX_MEGAPIXELS", 268)) * 1_000_000,
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		MaxUploadBytes:      int64(getEnvInt("MAX_UPLOAD_MB", 64)) << 20,
	}

	if cfg.MaxDimension <= 0 {
		return nil, fmt.Errorf("MAX_DIMENSION must be positive, got %d", cfg.MaxDimension)
	}
	if cfg.MaxTiles <= 0 {
		return nil, fmt.Errorf("MAX_TILES must be positive, got %d", cfg.MaxTiles)
	}
	if cfg.RenderMaxPixels <= 0 {
		return nil, fmt.Errorf("RENDER_MAX_MEGAPIXELS must be positive")
	}
	if cfg.BridgeTimeout <= 0 {
		return nil, fmt.Errorf("BRIDGE_TIMEOUT_MS must be positive")
	}
	if cfg.BridgeCleanup <= cfg.BridgeTimeout {
		return nil, fmt.Errorf("BRIDGE_CLEANUP_MS (%s) must exceed BRIDGE_TIMEOUT_MS (%s)", cfg.BridgeCleanup, cfg.BridgeTimeout)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

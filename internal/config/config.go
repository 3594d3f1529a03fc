package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string

	// CredEncKey decrypts stored platform credentials; 32 bytes for
	// AES-256-GCM, base64 in the environment.
	CredEncKey []byte

	// Upstream endpoints. Overridable for tests and staging.
	DriverAppBaseURL string
	DriverAppAuthURL string
	PortalBaseURL    string
	PortalAuthURL    string

	PollInterval   time.Duration
	PollTimeout    time.Duration
	ReserveTimeout time.Duration
	WorkerPoolSize int

	NotifyWorkers int

	// FastMode skips building the full explanation text for rejected offers.
	FastMode bool

	LogLevel slog.Level
}

// FromEnv loads configuration from the environment, with a best-effort .env
// autoload first. All validation happens here, not at use.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DriverAppBaseURL: getenv("DRIVERAPP_BASE_URL", "https://api.driver-app.example.com/v1"),
		DriverAppAuthURL: getenv("DRIVERAPP_AUTH_URL", "https://auth.driver-app.example.com"),
		PortalBaseURL:    getenv("PORTAL_BASE_URL", "https://partner.portal.example.com/api"),
		PortalAuthURL:    getenv("PORTAL_AUTH_URL", "https://auth.portal.example.com"),
		FastMode:         os.Getenv("FAST_MODE") == "1",
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.PollInterval, err = secondsEnv("POLL_INTERVAL_SECONDS", 10); err != nil {
		return Config{}, err
	}
	if cfg.PollTimeout, err = secondsEnv("POLL_TIMEOUT_SECONDS", 15); err != nil {
		return Config{}, err
	}
	if cfg.ReserveTimeout, err = secondsEnv("RESERVE_TIMEOUT_SECONDS", 8); err != nil {
		return Config{}, err
	}
	if cfg.WorkerPoolSize, err = intEnv("WORKER_POOL_SIZE", 8); err != nil {
		return Config{}, err
	}
	if cfg.NotifyWorkers, err = intEnv("NOTIFY_WORKERS", 2); err != nil {
		return Config{}, err
	}

	key := strings.TrimSpace(os.Getenv("CRED_ENC_KEY"))
	if key == "" {
		return Config{}, fmt.Errorf("CRED_ENC_KEY is required (base64, 32 bytes)")
	}
	cfg.CredEncKey, err = decodeB64(key)
	if err != nil {
		return Config{}, fmt.Errorf("CRED_ENC_KEY: %w", err)
	}
	if len(cfg.CredEncKey) != 32 {
		return Config{}, fmt.Errorf("CRED_ENC_KEY must decode to 32 bytes (got %d)", len(cfg.CredEncKey))
	}

	switch strings.ToLower(getenv("LOG_LEVEL", "info")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func intEnv(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s", k)
	}
	return n, nil
}

func secondsEnv(k string, def int) (time.Duration, error) {
	n, err := intEnv(k, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func decodeB64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

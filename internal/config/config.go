package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string
	SiteID   string

	DBDriver string
	DBDSN    string

	LogLevel  string
	LogFormat string // text|json

	JWTSecret     string
	JWTIssuer     string
	EnableDevAuth bool // trust X-User-ID / X-User-Role headers (offline kiosks, tests)

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	CatalogPath string // TOML checkpoints, questions and profiles
	ConfigFile  string // optional TOML overlay

	ChecksumAlgorithm string // sha256|blake2b-256

	Sync  SyncConfig
	Sweep SweepConfig
}

// SyncConfig tunes the offline sync workers.
type SyncConfig struct {
	Workers          int
	PollInterval     time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	SessionStrategy  string
	ResponseStrategy string
}

// SweepConfig tunes the expiry and idle sweeper.
type SweepConfig struct {
	Interval     time.Duration
	IdleTimeout  time.Duration
	OfflineGrace time.Duration
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	return Config{
		Mode:               mode,
		HTTPAddr:           envOr("HTTP_ADDR", ":8080"),
		SiteID:             envOr("SITE_ID", "local"),
		DBDriver:           envOr("DB_DRIVER", "sqlite"),
		DBDSN:              envOr("DB_DSN", ""),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", "text"),
		JWTSecret:          envOr("JWT_SECRET", ""),
		JWTIssuer:          envOr("JWT_ISSUER", "mindengage"),
		EnableDevAuth:      envBool("ENABLE_DEV_AUTH", mode == ModeOffline),
		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://checkpoint.mindengage.ai"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:3010,http://localhost:3020"),
		CatalogPath:        envOr("CATALOG_PATH", "./catalog.toml"),
		ConfigFile:         os.Getenv("CONFIG_FILE"),
		ChecksumAlgorithm:  envOr("CHECKSUM_ALGORITHM", "sha256"),
		Sync: SyncConfig{
			Workers:          envInt("SYNC_WORKERS", 4),
			PollInterval:     envDuration("SYNC_POLL_INTERVAL", 2*time.Second),
			MaxRetries:       envInt("SYNC_MAX_RETRIES", 3),
			BackoffBase:      envDuration("SYNC_BACKOFF_BASE", time.Minute),
			BackoffMax:       envDuration("SYNC_BACKOFF_MAX", time.Hour),
			SessionStrategy:  envOr("SYNC_SESSION_STRATEGY", "server_wins"),
			ResponseStrategy: envOr("SYNC_RESPONSE_STRATEGY", "merge"),
		},
		Sweep: SweepConfig{
			Interval:     envDuration("SWEEP_INTERVAL", 30*time.Second),
			IdleTimeout:  envDuration("SWEEP_IDLE_TIMEOUT", 30*time.Minute),
			OfflineGrace: envDuration("SWEEP_OFFLINE_GRACE", 24*time.Hour),
		},
	}
}
func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return def
}
func envDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return d
	}
	return def
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

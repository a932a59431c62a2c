package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/config"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("MODE", "")
	t.Setenv("SYNC_WORKERS", "")
	t.Setenv("CORS_ORIGINS_ONLINE", "")
	c := config.FromEnv()
	if c.Mode != config.ModeOffline || c.HTTPAddr != ":8080" || c.DBDriver != "sqlite" {
		t.Fatalf("defaults = %+v", c)
	}
	if len(c.CORSOriginsOnline) != 1 || c.CORSOriginsOnline[0] != "https://checkpoint.mindengage.ai" {
		t.Fatalf("online origins = %q", c.CORSOriginsOnline)
	}
	if !c.EnableDevAuth || c.Sync.Workers != 4 || c.Sync.MaxRetries != 3 || c.Sweep.Interval != 30*time.Second {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MODE", "online")
	t.Setenv("SYNC_WORKERS", "9")
	t.Setenv("SYNC_BACKOFF_BASE", "5s")
	t.Setenv("CORS_ORIGINS_ONLINE", " https://a.example , ,https://b.example")
	c := config.FromEnv()
	if c.Mode != config.ModeOnline || c.EnableDevAuth {
		t.Fatalf("mode = %s dev=%v", c.Mode, c.EnableDevAuth)
	}
	if c.Sync.Workers != 9 || c.Sync.BackoffBase != 5*time.Second {
		t.Fatalf("sync = %+v", c.Sync)
	}
	if len(c.CORSOriginsOnline) != 2 || c.CORSOriginsOnline[1] != "https://b.example" {
		t.Fatalf("origins = %q", c.CORSOriginsOnline)
	}
}

func TestTOMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpointd.toml")
	body := `
[sync]
workers = 2
backoff-max = "10m"
response-strategy = "manual"
checksum = "blake2b-256"

[sweep]
idle-timeout = "45m"

[log]
format = "json"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Sync.Workers != 2 || c.Sync.BackoffMax != 10*time.Minute || c.Sync.ResponseStrategy != "manual" {
		t.Fatalf("sync = %+v", c.Sync)
	}
	if c.ChecksumAlgorithm != "blake2b-256" || c.Sweep.IdleTimeout != 45*time.Minute || c.LogFormat != "json" {
		t.Fatalf("overlay = %+v", c)
	}
	if c.Sync.MaxRetries != 3 {
		t.Fatalf("unset key changed: %d", c.Sync.MaxRetries)
	}
}

func TestTOMLOverlayErrors(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[sweep]\ninterval = \"soon\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("bad duration accepted")
	}
}

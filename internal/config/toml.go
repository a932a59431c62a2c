package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional TOML overlay. Unset keys keep the environment
// value.
type FileConfig struct {
	Sync  SyncFile  `toml:"sync"`
	Sweep SweepFile `toml:"sweep"`
	Log   LogFile   `toml:"log"`
}

type SyncFile struct {
	Workers          *int    `toml:"workers"`
	PollInterval     *string `toml:"poll-interval"`
	MaxRetries       *int    `toml:"max-retries"`
	BackoffBase      *string `toml:"backoff-base"`
	BackoffMax       *string `toml:"backoff-max"`
	SessionStrategy  *string `toml:"session-strategy"`
	ResponseStrategy *string `toml:"response-strategy"`
	Checksum         *string `toml:"checksum"`
}

type SweepFile struct {
	Interval     *string `toml:"interval"`
	IdleTimeout  *string `toml:"idle-timeout"`
	OfflineGrace *string `toml:"offline-grace"`
}

type LogFile struct {
	Level  *string `toml:"level"`
	Format *string `toml:"format"`
}

// LoadFile reads a TOML overlay. A missing file is not an error.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var fc FileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return fc, nil
}

// Apply overlays the file values onto c.
func (fc FileConfig) Apply(c *Config) error {
	setInt(&c.Sync.Workers, fc.Sync.Workers)
	setInt(&c.Sync.MaxRetries, fc.Sync.MaxRetries)
	setString(&c.Sync.SessionStrategy, fc.Sync.SessionStrategy)
	setString(&c.Sync.ResponseStrategy, fc.Sync.ResponseStrategy)
	setString(&c.ChecksumAlgorithm, fc.Sync.Checksum)
	setString(&c.LogLevel, fc.Log.Level)
	setString(&c.LogFormat, fc.Log.Format)
	for _, d := range []struct {
		key string
		dst *time.Duration
		src *string
	}{
		{"sync.poll-interval", &c.Sync.PollInterval, fc.Sync.PollInterval},
		{"sync.backoff-base", &c.Sync.BackoffBase, fc.Sync.BackoffBase},
		{"sync.backoff-max", &c.Sync.BackoffMax, fc.Sync.BackoffMax},
		{"sweep.interval", &c.Sweep.Interval, fc.Sweep.Interval},
		{"sweep.idle-timeout", &c.Sweep.IdleTimeout, fc.Sweep.IdleTimeout},
		{"sweep.offline-grace", &c.Sweep.OfflineGrace, fc.Sweep.OfflineGrace},
	} {
		if d.src == nil {
			continue
		}
		v, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

// Load reads the environment and applies the overlay named by CONFIG_FILE
// or path, when given.
func Load(path string) (Config, error) {
	c := FromEnv()
	if path == "" {
		path = c.ConfigFile
	}
	if path == "" {
		return c, nil
	}
	fc, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := fc.Apply(&c); err != nil {
		return Config{}, err
	}
	c.ConfigFile = path
	return c, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

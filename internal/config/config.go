// Package config loads YouTrek configuration and credentials.
//
// Settings live in a TOML config file (default
// ~/.config/youtrek/config.toml) and can be overridden per key with
// YOUTREK_* environment variables. Credentials are kept out of the main
// config in a separate 0600 credentials.toml so the config file stays
// safe to share in bug reports.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the tunable settings for the YouTrek client.
type Config struct {
	// DatabasePath is the location of the local issue cache. The sync
	// outbox lives in the same file, so this is durable state, not a
	// throwaway cache.
	DatabasePath string `mapstructure:"database_path"`

	// Projects limits sync to the named project short names. Empty
	// means sync everything the token can see.
	Projects []string `mapstructure:"projects"`

	// SyncInterval is how often the daemon starts a periodic sync cycle.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// BackoffBase and BackoffCap bound the exponential retry delay for
	// failed outbox replays.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`

	// BridgePort is the localhost port for the WebSocket bridge the
	// desktop shell connects to. 0 picks an ephemeral port.
	BridgePort int `mapstructure:"bridge_port"`

	// LogFile enables rotating file logging when set. Empty logs to
	// stderr only.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

// Dir returns the YouTrek configuration directory. The directory is not
// created; callers that write into it must MkdirAll first.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, "youtrek"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads configuration from the given file path. An empty path
// loads the default location and tolerates a missing file (defaults
// apply); an explicit path that does not exist is an error.
// Environment variables with the YOUTREK_ prefix override file values,
// e.g. YOUTREK_SYNC_INTERVAL=30s.
func Load(path string) (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix("YOUTREK")
	v.AutomaticEnv()

	setDefaults(v, dir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, dir string) {
	v.SetDefault("database_path", filepath.Join(dir, "youtrek.db"))
	v.SetDefault("projects", []string{})
	v.SetDefault("sync_interval", "2m")
	v.SetDefault("backoff_base", "5s")
	v.SetDefault("backoff_cap", "5m")
	v.SetDefault("bridge_port", 7911)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path cannot be empty")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive, got %s", c.SyncInterval)
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %s", c.BackoffBase)
	}
	if c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("backoff_cap %s is below backoff_base %s", c.BackoffCap, c.BackoffBase)
	}
	if c.BridgePort < 0 || c.BridgePort > 65535 {
		return fmt.Errorf("bridge_port %d is out of range", c.BridgePort)
	}
	return nil
}

/*
Package config loads the daemon configuration from a TOML file, with
defaults that work out of the box for local use.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	DB     DBConfig     `toml:"db"`
	Sweep  SweepConfig  `toml:"sweep"`
	Log    LogConfig    `toml:"log"`
}

type ServerConfig struct {
	// Addr is the HTTP listen address.
	Addr string `toml:"addr"`
}

type DBConfig struct {
	// Path is the SQLite database file. ":memory:" runs without persistence.
	Path string `toml:"path"`
}

type SweepConfig struct {
	// Enabled turns the background accrual sweep on.
	Enabled bool `toml:"enabled"`
	// Interval between sweeps. The accrual walk is idempotent, so a
	// shorter interval only costs queries, never double markup.
	Interval duration `toml:"interval"`
	// Workers bounds how many debts are processed concurrently.
	Workers int `toml:"workers"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// Development switches to the human-readable console encoder.
	Development bool `toml:"development"`
}

// duration lets TOML carry values like "6h" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		DB:     DBConfig{Path: "./data/credit.db"},
		Sweep: SweepConfig{
			Enabled:  true,
			Interval: duration{6 * time.Hour},
			Workers:  4,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the TOML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Sweep.Workers <= 0 {
		cfg.Sweep.Workers = 4
	}
	if cfg.Sweep.Interval.Duration <= 0 {
		cfg.Sweep.Interval = duration{6 * time.Hour}
	}
	return cfg, nil
}

// SweepInterval is the effective sweep period.
func (c Config) SweepInterval() time.Duration {
	return c.Sweep.Interval.Duration
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Resolved is the effective configuration after all override layers, with
// paths expanded and durations parsed.
type Resolved struct {
	Config

	// Path is the config file consulted, whether or not it exists.
	Path string

	Timeout     time.Duration
	SettleDelay time.Duration
}

// CredentialsPath returns the credential file inside the data directory.
func (r *Resolved) CredentialsPath() string {
	return filepath.Join(r.DataDir, credentialsFileName)
}

// HistoryPath returns the upload history database inside the data directory.
func (r *Resolved) HistoryPath() string {
	return filepath.Join(r.DataDir, historyFileName)
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.DataDir != "" {
		cfg.DataDir = env.DataDir
	}

	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}

	// 4. Apply CLI overrides
	if cli.WatchDir != nil {
		cfg.Watch.Dir = *cli.WatchDir
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	cfg.DataDir = expandTilde(cfg.DataDir)
	cfg.Watch.Dir = expandTilde(cfg.Watch.Dir)

	// 5. Validate the final result; env values have not been checked yet.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	timeout, _ := time.ParseDuration(cfg.API.Timeout)
	settle, _ := time.ParseDuration(cfg.Watch.SettleDelay)

	return &Resolved{
		Config:      *cfg,
		Path:        cfgPath,
		Timeout:     timeout,
		SettleDelay: settle,
	}, nil
}

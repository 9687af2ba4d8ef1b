package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the standard permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the standard permission mode for config directories.
const configDirPermissions = 0o755

// configTemplate is the config file written on first login. Every setting is
// present as a commented-out default so users can discover options without
// reading docs. It is written once and never regenerated.
const configTemplate = `# lapse-go configuration
# Uncomment and modify to override defaults.

# Log verbosity: debug, info, warn, error
# log_level = "info"

# Log format: auto, text, json
# log_format = "auto"

# Where credentials and upload history live (default: platform standard location)
# data_dir = ""

[api]
# endpoint = "https://sync-service.production.journal-api.lapse.app/graphql"
# refresh_endpoint = "https://auth.production.journal-api.lapse.app/refresh"
# timeout = "30s"

[device]
# app_version = "3.21.1"
# app_build_number = 21975
# timezone = "America/New_York"
# accept_language = "en-US,en;q=0.9"
# Leave unset to pick a random model and iOS release per run.
# device_name = "iPhone14,2"
# ios_version = "16.5"

[watch]
# dir = "~/Pictures/Lapse"
# extensions = [".heic", ".jpg", ".jpeg"]
# develop_in_days = 0
# settle_delay = "2s"
`

// CreateDefault writes the commented default config to path unless a file is
// already there. Returns true when a file was created.
func CreateDefault(path string, logger *slog.Logger) (bool, error) {
	if path == "" {
		return false, errors.New("config: no config path")
	}

	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("checking config file: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("creating default config file", slog.String("path", path))

	if err := atomicWriteFile(path, []byte(configTemplate)); err != nil {
		return false, err
	}

	return true, nil
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it to the target path, so a crash never leaves a
// partially written config. Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	// Clean up the temp file on any error path.
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}

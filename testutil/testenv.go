// Package testutil provides shared environment helpers for E2E tests. E2E
// tests drive the built binary and cannot import internal/, so everything
// they share lives here.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Environment variables read by the E2E suite.
const (
	EnvE2ERefreshToken = "LAPSE_GO_E2E_REFRESH_TOKEN"
	EnvE2EUpload       = "LAPSE_GO_E2E_UPLOAD"
)

// LoadDotEnv loads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	if _, err := os.Stat(envPath); err != nil {
		return
	}

	if err := godotenv.Load(envPath); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot parse %s: %v\n", envPath, err)
		os.Exit(1)
	}
}

// RequireEnv crashes the process if name is unset, naming the variable so
// the failure is actionable.
func RequireEnv(name, hint string) string {
	value := os.Getenv(name)
	if value == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s not set\n", name)
		fmt.Fprintln(os.Stderr, hint)
		os.Exit(1)
	}

	return value
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// IsolatedEnv returns the process environment with the CLI's config and data
// locations pointed inside root, so a test run never touches real
// credentials or history.
func IsolatedEnv(root string) []string {
	env := os.Environ()

	return append(env,
		"LAPSE_GO_CONFIG="+filepath.Join(root, "config.toml"),
		"LAPSE_GO_DATA_DIR="+filepath.Join(root, "data"),
		"XDG_CONFIG_HOME="+filepath.Join(root, "xdg-config"),
		"XDG_DATA_HOME="+filepath.Join(root, "xdg-data"),
	)
}

package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "LAPSE_GO_CONFIG"
	EnvDataDir  = "LAPSE_GO_DATA_DIR"
	EnvLogLevel = "LAPSE_GO_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LAPSE_GO_CONFIG: override config file path
	DataDir    string // LAPSE_GO_DATA_DIR: credentials and history location
	LogLevel   string // LAPSE_GO_LOG_LEVEL: log level override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}

// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for lapse-go. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	DataDir   string `toml:"data_dir"`

	API    APIConfig    `toml:"api"`
	Device DeviceConfig `toml:"device"`
	Watch  WatchConfig  `toml:"watch"`
}

// APIConfig selects the service endpoints and the HTTP timeout.
type APIConfig struct {
	Endpoint        string `toml:"endpoint"`
	RefreshEndpoint string `toml:"refresh_endpoint"`
	Timeout         string `toml:"timeout"`
}

// DeviceConfig controls the client identity presented to the service.
// Empty device_name and ios_version are picked at random per process;
// empty device_id is generated once and remembered with the credentials.
type DeviceConfig struct {
	AppVersion     string `toml:"app_version"`
	AppBuildNumber int    `toml:"app_build_number"`
	Timezone       string `toml:"timezone"`
	DeviceID       string `toml:"device_id"`
	DeviceName     string `toml:"device_name"`
	IOSVersion     string `toml:"ios_version"`
	AcceptLanguage string `toml:"accept_language"`
	ClientName     string `toml:"client_name"`
}

// WatchConfig controls the "watch" command.
type WatchConfig struct {
	Dir           string   `toml:"dir"`
	Extensions    []string `toml:"extensions"`
	DevelopInDays int      `toml:"develop_in_days"`
	SettleDelay   string   `toml:"settle_delay"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	WatchDir   *string // positional argument of "watch"
}

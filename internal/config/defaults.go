package config

import "github.com/tonimelisma/lapse-go/internal/api"

// Default values for configuration options. These are "layer 0" of the
// four-layer override chain.
const (
	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"
	defaultTimeout       = "30s"
	defaultSettleDelay   = "2s"
	defaultDevelopInDays = 0
)

var defaultExtensions = []string{".heic", ".jpg", ".jpeg"}

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		API:       defaultAPIConfig(),
		Device:    defaultDeviceConfig(),
		Watch:     defaultWatchConfig(),
	}
}

func defaultAPIConfig() APIConfig {
	return APIConfig{
		Endpoint:        api.DefaultEndpoint,
		RefreshEndpoint: api.DefaultRefreshEndpoint,
		Timeout:         defaultTimeout,
	}
}

func defaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		AppVersion:     api.DefaultAppVersion,
		AppBuildNumber: api.DefaultAppBuildNumber,
		Timezone:       api.DefaultTimezone,
		AcceptLanguage: api.DefaultAcceptLanguage,
		ClientName:     api.DefaultClientName,
	}
}

func defaultWatchConfig() WatchConfig {
	return WatchConfig{
		Extensions:    append([]string(nil), defaultExtensions...),
		DevelopInDays: defaultDevelopInDays,
		SettleDelay:   defaultSettleDelay,
	}
}

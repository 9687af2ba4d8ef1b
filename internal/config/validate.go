package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // zone database for device.timezone on hosts without one

	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// Validation range constants.
const (
	minTimeout       = 1 * time.Second
	maxTimeout       = 10 * time.Minute
	maxDevelopInDays = 365
	minSettleDelay   = 100 * time.Millisecond
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateLogging(cfg)...)
	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateDevice(&cfg.Device)...)
	errs = append(errs, validateWatch(&cfg.Watch)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after tilde
// expansion and env/CLI overrides.
func ValidateResolved(cfg *Config) error {
	var errs []error

	if cfg.DataDir == "" {
		errs = append(errs, errors.New("data_dir: could not determine a data directory; set data_dir or "+EnvDataDir))
	} else if !filepath.IsAbs(cfg.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir: must be absolute after expansion, got %q", cfg.DataDir))
	}

	return errors.Join(errs...)
}

func validateLogging(cfg *Config) []error {
	var errs []error

	errs = append(errs, validateLogLevel(cfg.LogLevel)...)
	errs = append(errs, validateLogFormat(cfg.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	errs = append(errs, validateEndpoint("api.endpoint", a.Endpoint)...)
	errs = append(errs, validateEndpoint("api.refresh_endpoint", a.RefreshEndpoint)...)

	if err := validateDuration("api.timeout", a.Timeout, minTimeout, maxTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateEndpoint(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return []error{fmt.Errorf("%s: must be an http(s) URL, got %q", field, value)}
	}

	if u.Host == "" {
		return []error{fmt.Errorf("%s: missing host in %q", field, value)}
	}

	return nil
}

func validateDuration(field, value string, minimum, maximum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum || d > maximum {
		return fmt.Errorf("%s: must be between %s and %s, got %s", field, minimum, maximum, d)
	}

	return nil
}

func validateDevice(d *DeviceConfig) []error {
	var errs []error

	if d.AppVersion == "" {
		errs = append(errs, errors.New("device.app_version: must not be empty"))
	}

	if d.AppBuildNumber <= 0 {
		errs = append(errs, fmt.Errorf("device.app_build_number: must be positive, got %d", d.AppBuildNumber))
	}

	if d.Timezone == "" {
		errs = append(errs, errors.New("device.timezone: must not be empty"))
	} else if _, err := time.LoadLocation(d.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("device.timezone: unknown time zone %q", d.Timezone))
	}

	if d.DeviceID != "" {
		if _, err := uuid.Parse(d.DeviceID); err != nil {
			errs = append(errs, fmt.Errorf("device.device_id: must be a UUID: %w", err))
		}
	}

	if _, _, err := language.ParseAcceptLanguage(d.AcceptLanguage); err != nil || d.AcceptLanguage == "" {
		errs = append(errs, fmt.Errorf("device.accept_language: invalid Accept-Language value %q", d.AcceptLanguage))
	}

	if d.ClientName == "" {
		errs = append(errs, errors.New("device.client_name: must not be empty"))
	}

	return errs
}

func validateWatch(w *WatchConfig) []error {
	var errs []error

	if len(w.Extensions) == 0 {
		errs = append(errs, errors.New("watch.extensions: must list at least one extension"))
	}

	for _, ext := range w.Extensions {
		trimmed := strings.TrimPrefix(strings.TrimSpace(ext), ".")
		if trimmed == "" || strings.ContainsAny(trimmed, `/\.`) {
			errs = append(errs, fmt.Errorf("watch.extensions: invalid extension %q", ext))
		}
	}

	if w.DevelopInDays < 0 || w.DevelopInDays > maxDevelopInDays {
		errs = append(errs, fmt.Errorf("watch.develop_in_days: must be between 0 and %d, got %d",
			maxDevelopInDays, w.DevelopInDays))
	}

	if err := validateDuration("watch.settle_delay", w.SettleDelay, minSettleDelay, maxTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

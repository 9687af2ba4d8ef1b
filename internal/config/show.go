package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.Path)

	renderGlobalSection(ew, r)
	renderAPISection(ew, &r.API)
	renderDeviceSection(ew, &r.Device)
	renderWatchSection(ew, &r.Watch)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderGlobalSection(ew *errWriter, r *Resolved) {
	ew.printf("log_level  = %q\n", r.LogLevel)
	ew.printf("log_format = %q\n", r.LogFormat)
	ew.printf("data_dir   = %q\n", r.DataDir)
	ew.printf("\n")
}

func renderAPISection(ew *errWriter, a *APIConfig) {
	ew.printf("[api]\n")
	ew.printf("  endpoint         = %q\n", a.Endpoint)
	ew.printf("  refresh_endpoint = %q\n", a.RefreshEndpoint)
	ew.printf("  timeout          = %q\n", a.Timeout)
	ew.printf("\n")
}

func renderDeviceSection(ew *errWriter, d *DeviceConfig) {
	ew.printf("[device]\n")
	ew.printf("  app_version      = %q\n", d.AppVersion)
	ew.printf("  app_build_number = %d\n", d.AppBuildNumber)
	ew.printf("  timezone         = %q\n", d.Timezone)
	ew.printf("  accept_language  = %q\n", d.AcceptLanguage)
	ew.printf("  client_name      = %q\n", d.ClientName)

	if d.DeviceID != "" {
		ew.printf("  device_id        = %q\n", d.DeviceID)
	}

	if d.DeviceName != "" {
		ew.printf("  device_name      = %q\n", d.DeviceName)
	}

	if d.IOSVersion != "" {
		ew.printf("  ios_version      = %q\n", d.IOSVersion)
	}

	ew.printf("\n")
}

func renderWatchSection(ew *errWriter, w *WatchConfig) {
	ew.printf("[watch]\n")

	if w.Dir != "" {
		ew.printf("  dir             = %q\n", w.Dir)
	}

	ew.printf("  extensions      = [%s]\n", joinQuoted(w.Extensions))
	ew.printf("  develop_in_days = %d\n", w.DevelopInDays)
	ew.printf("  settle_delay    = %q\n", w.SettleDelay)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}

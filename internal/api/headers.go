package api

import (
	"fmt"
	"maps"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Client identity defaults, matching the iOS app release being imitated.
const (
	DefaultAppVersion     = "3.21.1"
	DefaultAppBuildNumber = 21975
	DefaultTimezone       = "America/New_York"
	DefaultClientName     = "com.lapse.journal-apollo-ios"
	DefaultAcceptLanguage = "en-US,en;q=0.9"
)

var iosVersions = []string{
	"16", "16.0.1", "16.0.2", "16.0.3", "16.1", "16.1.1", "16.1.2", "16.2", "16.3", "16.3.1", "16.4",
	"16.4.1", "16.5", "16.5.1", "16.6", "16.6.1", "16.7", "16.7.1", "16.7.2",
}

var deviceModels = []string{
	"iPhone10,4", "iPhone10,5", "iPhone10,6", "iPhone11,2", "iPhone11,4", "iPhone11,6", "iPhone11,8",
	"iPhone12,1", "iPhone12,3", "iPhone12,5", "iPhone12,8", "iPhone13,1", "iPhone13,2", "iPhone13,3",
	"iPhone13,4", "iPhone14,2", "iPhone14,3", "iPhone14,4", "iPhone14,5", "iPhone14,6", "iPhone14,7",
	"iPhone14,8", "iPhone15,2", "iPhone15,3", "iPhone15,4", "iPhone15,5", "iPhone16,1", "iPhone16,2",
}

// FingerprintConfig selects the client identity. Empty fields fall back to
// the defaults above; IOSVersion and DeviceName fall back to a random entry
// from the known lists, DeviceID to a fresh UUID.
type FingerprintConfig struct {
	AppVersion     string
	AppBuildNumber int
	Timezone       string
	DeviceID       string
	DeviceName     string
	IOSVersion     string
	AcceptLanguage string
	ClientName     string
	UserAgent      string
}

// Fingerprint builds the client-identity headers attached to every API call.
// The random picks happen once, at construction, so one process presents a
// single consistent device.
type Fingerprint struct {
	static   map[string]string
	deviceID string
}

// NewFingerprint resolves cfg into a fixed header set.
func NewFingerprint(cfg FingerprintConfig) *Fingerprint {
	if cfg.AppVersion == "" {
		cfg.AppVersion = DefaultAppVersion
	}

	if cfg.AppBuildNumber == 0 {
		cfg.AppBuildNumber = DefaultAppBuildNumber
	}

	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = NewDeviceID()
	}

	if cfg.DeviceName == "" {
		cfg.DeviceName = deviceModels[rand.IntN(len(deviceModels))] //nolint:gosec // not security sensitive
	}

	if cfg.IOSVersion == "" {
		cfg.IOSVersion = iosVersions[rand.IntN(len(iosVersions))] //nolint:gosec // not security sensitive
	}

	if cfg.AcceptLanguage == "" {
		cfg.AcceptLanguage = DefaultAcceptLanguage
	}

	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}

	build := strconv.Itoa(cfg.AppBuildNumber)

	if cfg.UserAgent == "" {
		cfg.UserAgent = fmt.Sprintf("Lapse/%s/%s iOS", cfg.AppVersion, build)
	}

	return &Fingerprint{
		deviceID: cfg.DeviceID,
		static: map[string]string{
			"x-ios-version-number":         cfg.IOSVersion,
			"x-device-name":                cfg.DeviceName,
			"user-agent":                   cfg.UserAgent,
			"x-app-version-number":         cfg.AppVersion,
			"x-timezone":                   cfg.Timezone,
			"x-device-id":                  cfg.DeviceID,
			"x-app-build-number":           build,
			"apollographql-client-name":    cfg.ClientName,
			"apollographql-client-version": cfg.AppVersion + "-" + build,
			"accept-language":              cfg.AcceptLanguage,
			"accept":                       "*/*",
			"content-type":                 "application/json",
		},
	}
}

// NewDeviceID returns a fresh device identifier in the uppercase form iOS
// uses for identifierForVendor.
func NewDeviceID() string {
	return strings.ToUpper(uuid.NewString())
}

// DeviceID returns the device identifier carried in x-device-id.
func (f *Fingerprint) DeviceID() string {
	return f.deviceID
}

// Headers returns the identity headers plus the per-operation Apollo headers.
// The returned map is a fresh copy.
func (f *Fingerprint) Headers(op Operation) map[string]string {
	h := make(map[string]string, len(f.static)+3)
	maps.Copy(h, f.static)

	h["x-apollo-operation-name"] = op.OperationName
	h["x-apollo-operation-type"] = op.Type()
	h["x-emb-path"] = "/graphql/" + op.OperationName

	return h
}

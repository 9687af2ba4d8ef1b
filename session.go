package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tonimelisma/lapse-go/internal/api"
	"github.com/tonimelisma/lapse-go/internal/credstore"
	"github.com/tonimelisma/lapse-go/internal/ledger"
	"github.com/tonimelisma/lapse-go/internal/upload"
)

// dataDirPermissions restricts the data directory to the owner because it
// holds credentials.
const dataDirPermissions = 0o700

// session bundles the authenticated API stack built from the resolved config.
type session struct {
	store     *credstore.FileStore
	refresher *api.Refresher
	client    *api.Client
	deviceID  string
}

// newSession wires the credential file, refresher, fingerprint and request
// client together. No network traffic happens here.
func newSession(cc *CLIContext) (*session, error) {
	cfg := cc.Cfg
	store := credstore.NewFileStore(cfg.CredentialsPath(), cc.Logger)

	deviceID, err := resolveDeviceID(cfg.Device.DeviceID, store, cc.Logger)
	if err != nil {
		return nil, err
	}

	httpClient := newHTTPClient(cfg.Timeout)

	fingerprint := api.NewFingerprint(api.FingerprintConfig{
		AppVersion:     cfg.Device.AppVersion,
		AppBuildNumber: cfg.Device.AppBuildNumber,
		Timezone:       cfg.Device.Timezone,
		DeviceID:       deviceID,
		DeviceName:     cfg.Device.DeviceName,
		IOSVersion:     cfg.Device.IOSVersion,
		AcceptLanguage: cfg.Device.AcceptLanguage,
		ClientName:     cfg.Device.ClientName,
	})

	refresher := api.NewRefresher(cfg.API.RefreshEndpoint, httpClient, store, cc.Logger)
	client := api.NewClient(cfg.API.Endpoint, httpClient, store, refresher, fingerprint, cc.Logger)

	return &session{
		store:     store,
		refresher: refresher,
		client:    client,
		deviceID:  deviceID,
	}, nil
}

// uploader returns an Uploader on this session's client. recorder may be nil.
func (s *session) uploader(cc *CLIContext, recorder upload.Recorder) *upload.Uploader {
	return upload.NewUploader(s.client, s.client, recorder, cc.Cfg.Device.Timezone, cc.Logger)
}

// resolveDeviceID prefers the configured identifier, then the one persisted
// by an earlier run. A new identifier is generated and persisted otherwise so
// the service keeps seeing the same device.
func resolveDeviceID(configured string, store credstore.Store, logger *slog.Logger) (string, error) {
	if configured != "" {
		return strings.ToUpper(configured), nil
	}

	id, err := store.Get(credstore.KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("reading device id: %w", err)
	}

	if id != "" {
		return id, nil
	}

	id = api.NewDeviceID()

	if err := store.Set(credstore.KeyDeviceID, id); err != nil {
		logger.Warn("could not persist device id", slog.String("error", err.Error()))
	}

	logger.Debug("generated device id", slog.String("device_id", id))

	return id, nil
}

// openHistory opens the upload ledger in the data directory, creating the
// directory if needed. History is an audit trail, so callers may carry on
// without it.
func openHistory(ctx context.Context, cc *CLIContext) (*ledger.Store, error) {
	path := cc.Cfg.HistoryPath()

	if err := os.MkdirAll(filepath.Dir(path), dataDirPermissions); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return ledger.Open(ctx, path, cc.Logger)
}

// openHistoryOrWarn is openHistory for commands that work without a ledger.
// It returns nil when the ledger cannot be opened.
func openHistoryOrWarn(ctx context.Context, cc *CLIContext) *ledger.Store {
	history, err := openHistory(ctx, cc)
	if err != nil {
		cc.Logger.Warn("upload history unavailable, continuing without it",
			slog.String("error", err.Error()),
		)

		return nil
	}

	return history
}

package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// FilePerms restricts the credentials file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the data directory.
const DirPerms = 0o700

// fileFormat is the on-disk layout. Credentials live in Token; any other key
// (device id) lives in Meta.
type fileFormat struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// FileStore is a Store backed by a single JSON file. Every Set rewrites the
// file atomically (temp file + rename). Safe for concurrent use within one
// process; there is no cross-process locking.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

// NewFileStore returns a FileStore at path. The file is created on first Set.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileStore{path: path, logger: logger}
}

// Path returns the credentials file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ff, err := s.load()
	if err != nil {
		return "", err
	}

	switch key {
	case KeyRefreshToken:
		return ff.Token.RefreshToken, nil
	case KeyAccessToken:
		return ff.Token.AccessToken, nil
	default:
		return ff.Meta[key], nil
	}
}

func (s *FileStore) Set(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ff, err := s.load()
	if err != nil {
		return err
	}

	switch key {
	case KeyRefreshToken:
		ff.Token.RefreshToken = value
	case KeyAccessToken:
		ff.Token.AccessToken = value
	default:
		if ff.Meta == nil {
			ff.Meta = make(map[string]string, 1)
		}

		ff.Meta[key] = value
	}

	if err := s.save(ff); err != nil {
		return err
	}

	s.logger.Debug("credential store updated",
		slog.String("path", s.path),
		slog.String("key", key),
	)

	return nil
}

// Clear removes both credentials but keeps the device id so the client
// fingerprint survives a logout. Removes the file entirely when nothing else
// is left in it.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ff, err := s.load()
	if err != nil {
		return err
	}

	if len(ff.Meta) == 0 {
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return fmt.Errorf("credstore: removing %s: %w", s.path, rmErr)
		}

		return nil
	}

	ff.Token = &oauth2.Token{}

	return s.save(ff)
}

// load reads the file. A missing file is an empty store, not an error.
func (s *FileStore) load() (*fileFormat, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileFormat{Token: &oauth2.Token{}}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", s.path, err)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("credstore: decoding %s: %w", s.path, err)
	}

	if ff.Token == nil {
		ff.Token = &oauth2.Token{}
	}

	return &ff, nil
}

// save writes ff atomically with FilePerms. Never logs credential values.
func (s *FileStore) save(ff *fileFormat) error {
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, mkErr)
	}

	// Same directory as the target so rename(2) stays on one filesystem.
	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}

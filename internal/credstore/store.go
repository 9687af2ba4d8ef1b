// Package credstore persists the long-lived refresh credential, the
// short-lived access credential, and the device identifier. Callers see a
// flat key-value interface; the file-backed implementation keeps the two
// credentials in an oauth2.Token so the on-disk format matches what the
// rest of the client holds in memory.
package credstore

import (
	"errors"
	"sync"
)

// Well-known keys.
const (
	KeyRefreshToken = "refreshToken"
	KeyAccessToken  = "accessToken"
	KeyDeviceID     = "deviceId"
)

// ErrEmptyKey is returned by Get and Set when called with an empty key.
var ErrEmptyKey = errors.New("credstore: empty key")

// Store is a durable key-value store for credentials. Get returns "" with a
// nil error for keys that were never set.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// MemoryStore is an in-process Store. Nothing survives the process; used for
// one-shot invocations and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns a MemoryStore seeded with the given values.
func NewMemoryStore(seed map[string]string) *MemoryStore {
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}

	return &MemoryStore{values: values}
}

func (m *MemoryStore) Get(key string) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.values[key], nil
}

func (m *MemoryStore) Set(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	return nil
}

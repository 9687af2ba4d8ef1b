package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/lapse-go/internal/credstore"
)

func TestPutObject_Success(t *testing.T) {
	payload := []byte("heic-bytes")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, transferUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, int64(len(payload)), r.ContentLength)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, payload, body)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := credstore.NewMemoryStore(map[string]string{credstore.KeyAccessToken: "secret"})
	c := NewClient("http://unused", http.DefaultClient, store, nil, nil, slog.Default())

	require.NoError(t, c.PutObject(t.Context(), srv.URL+"/bucket/key?sig=abc", payload))
}

func TestPutObject_NonOKStatusFailsWithoutRetry(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusForbidden, http.StatusUnauthorized, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(status)
			}))
			defer srv.Close()

			refresher := &fakeRefresher{token: "x"}
			c := NewClient("http://unused", http.DefaultClient, nil, refresher, nil, slog.Default())

			err := c.PutObject(t.Context(), srv.URL, []byte("x"))
			require.ErrorIs(t, err, ErrTransferFailed)
			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, int32(0), refresher.calls.Load())
		})
	}
}

func TestPutObject_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("http://unused", http.DefaultClient, nil, nil, nil, slog.Default())

	err := c.PutObject(t.Context(), url, []byte("x"))
	require.ErrorIs(t, err, ErrTransferFailed)
}

func TestPutObject_InvalidURL(t *testing.T) {
	c := NewClient("http://unused", http.DefaultClient, nil, nil, nil, slog.Default())

	err := c.PutObject(t.Context(), "://bad", []byte("x"))
	require.ErrorIs(t, err, ErrTransferFailed)
}

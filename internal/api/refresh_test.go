package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/lapse-go/internal/credstore"
)

// failingSetStore wraps a MemoryStore and rejects every write.
type failingSetStore struct {
	*credstore.MemoryStore
}

func (failingSetStore) Set(_, _ string) error {
	return errors.New("disk full")
}

func signedJWT(t *testing.T, exp time.Time) string {
	t.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})

	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	return s
}

func TestRefresh_Success(t *testing.T) {
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write([]byte(`{"accessToken":"fresh-access"}`))
	}))
	defer srv.Close()

	store := credstore.NewMemoryStore(map[string]string{credstore.KeyRefreshToken: "refresh-1"})
	r := NewRefresher(srv.URL, http.DefaultClient, store, slog.Default())

	tok, err := r.Refresh(t.Context())
	require.NoError(t, err)

	assert.Equal(t, "fresh-access", tok.AccessToken)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.Equal(t, "refresh-1", gotBody["refreshToken"])

	stored, err := store.Get(credstore.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", stored)
}

func TestRefresh_MissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"invalid refresh token"}`))
	}))
	defer srv.Close()

	store := credstore.NewMemoryStore(map[string]string{
		credstore.KeyRefreshToken: "refresh-1",
		credstore.KeyAccessToken:  "old",
	})
	r := NewRefresher(srv.URL, http.DefaultClient, store, slog.Default())

	tok, err := r.Refresh(t.Context())
	require.Error(t, err)
	assert.Nil(t, tok)
	assert.ErrorIs(t, err, ErrRefreshFailed)

	stored, err := store.Get(credstore.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "old", stored, "failed refresh leaves the stored token alone")
}

func TestRefresh_FailureFailsPendingRequest(t *testing.T) {
	var apiCalls atomic.Int32

	refreshSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer refreshSrv.Close()

	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		apiCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer apiSrv.Close()

	store := credstore.NewMemoryStore(map[string]string{
		credstore.KeyRefreshToken: "refresh-1",
		credstore.KeyAccessToken:  "expired",
	})
	r := NewRefresher(refreshSrv.URL, http.DefaultClient, store, slog.Default())
	c := NewClient(apiSrv.URL, http.DefaultClient, store, r, nil, slog.Default())

	_, err := c.Send(t.Context(), testOp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, int32(1), apiCalls.Load())
}

func TestRefresh_NotLoggedIn(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	r := NewRefresher(srv.URL, http.DefaultClient, credstore.NewMemoryStore(nil), slog.Default())

	_, err := r.Refresh(t.Context())
	require.ErrorIs(t, err, ErrNotLoggedIn)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRefresh_NonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	store := credstore.NewMemoryStore(map[string]string{credstore.KeyRefreshToken: "r"})
	r := NewRefresher(srv.URL, http.DefaultClient, store, slog.Default())

	_, err := r.Refresh(t.Context())
	require.ErrorIs(t, err, ErrRefreshFailed)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestRefresh_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	store := credstore.NewMemoryStore(map[string]string{credstore.KeyRefreshToken: "r"})
	r := NewRefresher(url, http.DefaultClient, store, slog.Default())

	_, err := r.Refresh(t.Context())
	require.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRefresh_PersistFailureStillReturnsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"fresh"}`))
	}))
	defer srv.Close()

	store := failingSetStore{credstore.NewMemoryStore(map[string]string{credstore.KeyRefreshToken: "r"})}
	r := NewRefresher(srv.URL, http.DefaultClient, store, slog.Default())

	tok, err := r.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
}

func TestRefresh_ConcurrentCallsCoalesce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"accessToken":"shared"}`))
	}))
	defer srv.Close()

	store := credstore.NewMemoryStore(map[string]string{credstore.KeyRefreshToken: "r"})
	r := NewRefresher(srv.URL, http.DefaultClient, store, slog.Default())

	const callers = 5

	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]string, callers)

	started.Add(callers)

	for i := range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			started.Done()

			tok, err := r.Refresh(t.Context())
			if assert.NoError(t, err) {
				results[i] = tok.AccessToken
			}
		}()
	}

	started.Wait()
	// Give every goroutine time to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for _, got := range results {
		assert.Equal(t, "shared", got)
	}
}

func TestRefresh_CancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			close(entered)
		}

		<-release
		_, _ = w.Write([]byte(`{"accessToken":"shared"}`))
	}))
	defer srv.Close()

	store := credstore.NewMemoryStore(map[string]string{credstore.KeyRefreshToken: "r"})
	r := NewRefresher(srv.URL, http.DefaultClient, store, slog.Default())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	firstErr := make(chan error, 1)

	go func() {
		_, err := r.Refresh(ctx)
		firstErr <- err
	}()

	<-entered

	joined := make(chan *oauth2.Token, 1)

	go func() {
		tok, err := r.Refresh(t.Context())
		assert.NoError(t, err)
		joined <- tok
	}()

	// Let the second caller join the in-flight call.
	time.Sleep(50 * time.Millisecond)

	cancel()

	err := <-firstErr
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrRefreshFailed)

	close(release)

	tok := <-joined
	require.NotNil(t, tok)
	assert.Equal(t, "shared", tok.AccessToken)
	assert.Equal(t, int32(1), calls.Load())

	stored, err := store.Get(credstore.KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "shared", stored)
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	assert.True(t, exp.Equal(TokenExpiry(signedJWT(t, exp))))
	assert.True(t, TokenExpiry("not-a-jwt").IsZero())
	assert.True(t, TokenExpiry("").IsZero())
}

func TestRefresh_SetsExpiryFromJWT(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	access := signedJWT(t, exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"accessToken": access})
	}))
	defer srv.Close()

	store := credstore.NewMemoryStore(map[string]string{credstore.KeyRefreshToken: "r"})
	r := NewRefresher(srv.URL, http.DefaultClient, store, slog.Default())

	tok, err := r.Refresh(t.Context())
	require.NoError(t, err)
	assert.True(t, exp.Equal(tok.Expiry))
	assert.True(t, tok.Valid())
}

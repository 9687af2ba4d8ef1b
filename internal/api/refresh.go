package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/lapse-go/internal/credstore"
)

// DefaultRefreshEndpoint exchanges a refresh credential for an access credential.
const DefaultRefreshEndpoint = "https://auth.production.journal-api.lapse.app/refresh"

// maxResponseBytes caps how much of any response body is read into memory.
const maxResponseBytes = 10 << 20

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// Refresher mints access credentials from the stored refresh credential.
// Each Refresh is a single POST with no retry. Concurrent callers share one
// in-flight request.
type Refresher struct {
	endpoint   string
	httpClient *http.Client
	store      credstore.Store
	logger     *slog.Logger

	group singleflight.Group
}

// NewRefresher creates a Refresher that reads the refresh credential from
// store and writes new access credentials back to it.
func NewRefresher(endpoint string, httpClient *http.Client, store credstore.Store, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Refresher{
		endpoint:   endpoint,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
	}
}

// Refresh exchanges the stored refresh credential for a new access credential,
// persists it, and returns it. Any failure wraps ErrRefreshFailed, except a
// missing refresh credential which returns ErrNotLoggedIn without a request.
//
// Concurrent calls are coalesced into one request. The shared request is not
// tied to any single caller's cancellation; a caller whose ctx ends stops
// waiting and returns ctx's error while the request completes for the rest.
func (r *Refresher) Refresh(ctx context.Context) (*oauth2.Token, error) {
	ch := r.group.DoChan("refresh", func() (any, error) {
		return r.refreshOnce(context.WithoutCancel(ctx))
	})

	var res singleflight.Result

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ctx.Err())
	case res = <-ch:
	}

	if res.Err != nil {
		return nil, res.Err
	}

	if res.Shared {
		r.logger.Debug("joined in-flight token refresh")
	}

	tok, ok := res.Val.(*oauth2.Token)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected refresh result %T", ErrRefreshFailed, res.Val)
	}

	return tok, nil
}

func (r *Refresher) refreshOnce(ctx context.Context) (*oauth2.Token, error) {
	refreshToken, err := r.store.Get(credstore.KeyRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: reading refresh token: %w", ErrRefreshFailed, err)
	}

	if refreshToken == "" {
		return nil, ErrNotLoggedIn
	}

	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %w", ErrRefreshFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrRefreshFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")

	r.logger.Debug("refreshing access token", slog.String("endpoint", r.endpoint))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("token refresh request failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrRefreshFailed, err)
	}

	var rr refreshResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		r.logger.Warn("token refresh returned unparsable body", slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: decoding response (HTTP %d): %w", ErrRefreshFailed, resp.StatusCode, err)
	}

	if rr.AccessToken == "" {
		r.logger.Warn("token refresh response has no access token", slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: response has no access token (HTTP %d)", ErrRefreshFailed, resp.StatusCode)
	}

	tok := &oauth2.Token{
		AccessToken:  rr.AccessToken,
		RefreshToken: refreshToken,
		Expiry:       TokenExpiry(rr.AccessToken),
	}

	if err := r.store.Set(credstore.KeyAccessToken, tok.AccessToken); err != nil {
		// The token is still good for this process.
		r.logger.Warn("failed to persist refreshed access token", slog.String("error", err.Error()))
	}

	r.logger.Info("access token refreshed", slog.Time("expiry", tok.Expiry))

	return tok, nil
}

// TokenExpiry returns the "exp" claim of a JWT access credential without
// verifying its signature. Returns the zero time when the credential is not
// a JWT or carries no expiry.
func TokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}

	return exp.Time
}

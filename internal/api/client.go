package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/lapse-go/internal/credstore"
)

// DefaultEndpoint is the GraphQL endpoint of the journal sync service.
const DefaultEndpoint = "https://sync-service.production.journal-api.lapse.app/graphql"

// maxAuthRetries bounds the refresh-and-resend cycles per Send.
const maxAuthRetries = 1

// TokenRefresher mints a new access credential. Defined at the consumer;
// Refresher is the production implementation.
type TokenRefresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// HeaderProvider supplies client-identity headers for an operation.
// Fingerprint is the production implementation.
type HeaderProvider interface {
	Headers(op Operation) map[string]string
}

// Client sends operations to the API endpoint with the current access
// credential. A 401 triggers one refresh followed by one resend.
type Client struct {
	endpoint   string
	httpClient *http.Client
	refresher  TokenRefresher
	headers    HeaderProvider
	logger     *slog.Logger

	// cred holds the access credential shared by all Send calls. Concurrent
	// refreshes may race; the last successful one wins.
	cred atomic.Pointer[oauth2.Token]
}

// NewClient creates a Client. The credential cell is seeded from the access
// credential in store; when none is stored the first Send refreshes first.
// headers may be nil.
func NewClient(
	endpoint string,
	httpClient *http.Client,
	store credstore.Store,
	refresher TokenRefresher,
	headers HeaderProvider,
	logger *slog.Logger,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		endpoint:   endpoint,
		httpClient: httpClient,
		refresher:  refresher,
		headers:    headers,
		logger:     logger,
	}

	if store != nil {
		access, err := store.Get(credstore.KeyAccessToken)
		if err != nil {
			logger.Warn("could not read cached access token", slog.String("error", err.Error()))
		} else if access != "" {
			c.cred.Store(&oauth2.Token{AccessToken: access, Expiry: TokenExpiry(access)})
		}
	}

	return c
}

// Send executes op and returns the decoded JSON object. Failures are
// *RequestError values matching one of ErrNetwork, ErrInvalidResponse,
// ErrAuthenticationFailed or ErrJSONParsing. GraphQL errors inside a JSON
// object are not failures at this layer.
func (c *Client) Send(ctx context.Context, op Operation) (Result, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, &RequestError{Operation: op.OperationName, Err: ErrJSONParsing, Cause: err}
	}

	tok := c.cred.Load()
	if tok == nil || tok.AccessToken == "" {
		c.logger.Debug("no cached access token, refreshing before first request",
			slog.String("operation", op.OperationName),
		)

		tok, err = c.refresh(ctx)
		if err != nil {
			return nil, &RequestError{Operation: op.OperationName, Err: ErrAuthenticationFailed, Cause: err}
		}
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.doOnce(ctx, op, body, tok.AccessToken)
		if err != nil {
			c.logger.Warn("request failed",
				slog.String("operation", op.OperationName),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)

			return nil, &RequestError{Operation: op.OperationName, Err: ErrNetwork, Cause: err}
		}

		if resp.StatusCode != http.StatusUnauthorized {
			return c.decodeResponse(op, resp)
		}

		drainAndClose(resp)

		if attempt >= maxAuthRetries {
			c.logger.Warn("still unauthorized after token refresh",
				slog.String("operation", op.OperationName),
			)

			return nil, &RequestError{
				Operation:  op.OperationName,
				StatusCode: http.StatusUnauthorized,
				Err:        ErrAuthenticationFailed,
			}
		}

		c.logger.Info("received 401, refreshing access token",
			slog.String("operation", op.OperationName),
		)

		tok, err = c.refresh(ctx)
		if err != nil {
			return nil, &RequestError{
				Operation:  op.OperationName,
				StatusCode: http.StatusUnauthorized,
				Err:        ErrAuthenticationFailed,
				Cause:      err,
			}
		}
	}
}

// refresh obtains a new access credential and swaps it into the cell.
func (c *Client) refresh(ctx context.Context) (*oauth2.Token, error) {
	if c.refresher == nil {
		return nil, ErrNotLoggedIn
	}

	tok, err := c.refresher.Refresh(ctx)
	if err != nil {
		c.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		return nil, err
	}

	c.cred.Store(tok)

	return tok, nil
}

// doOnce sends a single POST (no retry). The body is re-wrapped per call so
// a resend carries identical bytes.
func (c *Client) doOnce(ctx context.Context, op Operation, body []byte, accessToken string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.headers != nil {
		for k, v := range c.headers.Headers(op) {
			req.Header.Set(k, v)
		}
	}

	req.Header.Set("authorization", accessToken)
	req.Header.Set("content-type", "application/json")

	return c.httpClient.Do(req)
}

// decodeResponse classifies a non-401 response. Any JSON object is a
// success regardless of status.
func (c *Client) decodeResponse(op Operation, resp *http.Response) (Result, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RequestError{
			Operation:  op.OperationName,
			StatusCode: resp.StatusCode,
			Err:        ErrNetwork,
			Cause:      fmt.Errorf("reading response body: %w", err),
		}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &RequestError{Operation: op.OperationName, StatusCode: resp.StatusCode, Err: ErrInvalidResponse}
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		c.logger.Warn("response is not valid JSON",
			slog.String("operation", op.OperationName),
			slog.Int("status", resp.StatusCode),
		)

		return nil, &RequestError{
			Operation:  op.OperationName,
			StatusCode: resp.StatusCode,
			Err:        ErrJSONParsing,
			Cause:      err,
		}
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, &RequestError{
			Operation:  op.OperationName,
			StatusCode: resp.StatusCode,
			Err:        ErrInvalidResponse,
			Cause:      fmt.Errorf("expected JSON object, got %T", parsed),
		}
	}

	c.logger.Debug("request completed",
		slog.String("operation", op.OperationName),
		slog.Int("status", resp.StatusCode),
	)

	return Result(obj), nil
}

// drainAndClose discards the rest of the body so the connection can be reused.
func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	resp.Body.Close()
}

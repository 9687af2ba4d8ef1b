package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// transferUserAgent is what the iOS networking stack sends for object uploads.
const transferUserAgent = "Lapse/20651 CFNetwork/1408.0.4 Darwin/22.5.0"

// PutObject uploads data to a pre-signed target URL with a single PUT.
// The URL is pre-authenticated, so no Authorization header is sent. This does
// not go through Send and is never retried. Only HTTP 200 is success; every
// failure wraps ErrTransferFailed.
func (c *Client) PutObject(ctx context.Context, targetURL string, data []byte) error {
	c.logger.Debug("uploading object", slog.Int("size", len(data)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, targetURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", ErrTransferFailed, err)
	}

	req.Header.Set("User-Agent", transferUserAgent)
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("object upload request failed", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}

	drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("object upload returned unexpected status", slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: HTTP %d", ErrTransferFailed, resp.StatusCode)
	}

	c.logger.Debug("object upload complete")

	return nil
}

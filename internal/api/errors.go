// Package api is the authenticated request layer for the Lapse journal API.
// It sends GraphQL-style operations, refreshes the access credential once
// when the server rejects it, and performs direct object-storage transfers.
package api

import (
	"errors"
	"fmt"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, api.ErrAuthenticationFailed) to check.
var (
	ErrNetwork              = errors.New("api: network error")
	ErrInvalidResponse      = errors.New("api: invalid response from server")
	ErrAuthenticationFailed = errors.New("api: authentication failed")
	ErrJSONParsing          = errors.New("api: failed to parse JSON response")
	ErrRefreshFailed        = errors.New("api: token refresh failed")
	ErrNotLoggedIn          = errors.New("api: not logged in")
	ErrTransferFailed       = errors.New("api: object transfer failed")
)

// RequestError wraps a sentinel with the operation name, the HTTP status
// (0 when no response arrived), and the underlying cause.
type RequestError struct {
	Operation  string
	StatusCode int
	Err        error // sentinel, for errors.Is()
	Cause      error
}

func (e *RequestError) Error() string {
	msg := e.Err.Error()

	if e.Operation != "" {
		msg += ": " + e.Operation
	}

	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}

	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *RequestError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}

	return []error{e.Err, e.Cause}
}

package upload

import (
	"errors"
	"fmt"
)

// Sentinel errors for upload failure kinds.
// Use errors.Is(err, upload.ErrAwsUploadFailed) to check.
var (
	ErrEmptyImage        = errors.New("upload: image is empty")
	ErrUploadURLMissing  = errors.New("upload: server returned no upload URL")
	ErrAwsUploadFailed   = errors.New("upload: object transfer failed")
	ErrCreateMediaFailed = errors.New("upload: media registration failed")
	ErrAPI               = errors.New("upload: API request failed")
)

// Stage identifies one step of the upload pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageAcquireTarget Stage = "acquire_target"
	StageTransfer      Stage = "transfer"
	StageRegister      Stage = "register"
	StageDone          Stage = "done"
)

// StageError reports which stage of which attempt failed. Err is the kind
// sentinel; Cause is the underlying error, if any.
type StageError struct {
	Stage     Stage
	AttemptID string
	Err       error // sentinel, for errors.Is()
	Cause     error
}

func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s (stage %s, attempt %s)", e.Err.Error(), e.Stage, e.AttemptID)

	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}

	return []error{e.Err, e.Cause}
}

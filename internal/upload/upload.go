// Package upload publishes one photo to the journal through three dependent
// steps: acquire a pre-signed upload target, transfer the bytes to it, and
// register the media record.
//
// Steps run strictly in order and nothing is compensated on failure. If the
// register step fails after a successful transfer, the transferred object is
// left behind with no media record pointing at it.
package upload

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/lapse-go/internal/api"
)

// developOffset is how far in the future a new photo develops.
const developOffset = 5 * time.Second

// Operation texts sent verbatim to the API.
const (
	uploadURLOperation = "ImageUploadURLGraphQLQuery"
	uploadURLQuery     = "query ImageUploadURLGraphQLQuery($filename: String!) { imageUploadURL(filename: $filename) }"

	createMediaOperation = "CreateMediaGraphQLMutation"
	createMediaQuery     = "mutation CreateMediaGraphQLMutation($input: CreateMediaInput!) " +
		"{ createMedia(input: $input) { __typename success } }"
)

// Sender executes one API operation. Satisfied by *api.Client.
type Sender interface {
	Send(ctx context.Context, op api.Operation) (api.Result, error)
}

// ObjectPutter transfers bytes to a pre-signed URL. Satisfied by *api.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, targetURL string, data []byte) error
}

// Attempt describes one upload attempt as seen by a Recorder.
type Attempt struct {
	ID      string
	TakenAt time.Time
	Source  string
	Size    int
}

// Recorder observes pipeline progress. Errors from a Recorder are logged and
// never fail the upload.
type Recorder interface {
	Begin(ctx context.Context, a Attempt) error
	Stage(ctx context.Context, attemptID string, stage Stage) error
	Finish(ctx context.Context, attemptID string, err error) error
}

// Uploader runs the upload pipeline. Safe for concurrent use; each call owns
// its own attempt state.
type Uploader struct {
	sender   Sender
	putter   ObjectPutter
	recorder Recorder
	timezone string
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewUploader creates an Uploader. recorder may be nil. timezone is the IANA
// zone name reported with each media record.
func NewUploader(sender Sender, putter ObjectPutter, recorder Recorder, timezone string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	if timezone == "" {
		timezone = api.DefaultTimezone
	}

	return &Uploader{
		sender:   sender,
		putter:   putter,
		recorder: recorder,
		timezone: timezone,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return strings.ToUpper(uuid.NewString()) },
	}
}

// Upload publishes image and returns the new media identifier.
// developInDays is accepted for callers but does not affect the develop time,
// which is always a fixed offset from now.
func (u *Uploader) Upload(ctx context.Context, image []byte, developInDays int) (string, error) {
	return u.UploadFrom(ctx, "", image, developInDays)
}

// UploadFrom is Upload with the image's origin recorded for history.
func (u *Uploader) UploadFrom(ctx context.Context, source string, image []byte, developInDays int) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}

	s := &session{
		id:      u.newID(),
		takenAt: u.now().UTC(),
		image:   image,
	}

	logger := u.logger.With(slog.String("attempt", s.id))
	logger.Info("starting upload",
		slog.Int("size", len(image)),
		slog.Int("develop_in_days", developInDays),
	)

	u.record(ctx, logger, func(rctx context.Context, r Recorder) error {
		return r.Begin(rctx, Attempt{ID: s.id, TakenAt: s.takenAt, Source: source, Size: len(image)})
	})

	err := u.run(ctx, logger, s)

	u.record(ctx, logger, func(rctx context.Context, r Recorder) error {
		return r.Finish(rctx, s.id, err)
	})

	if err != nil {
		logger.Warn("upload failed", slog.String("error", err.Error()))
		return "", err
	}

	logger.Info("upload complete")

	return s.id, nil
}

// session is the per-attempt state. Never shared between attempts.
type session struct {
	id      string
	takenAt time.Time
	image   []byte
	target  string
}

func (u *Uploader) run(ctx context.Context, logger *slog.Logger, s *session) error {
	u.enter(ctx, logger, s.id, StageAcquireTarget)

	target, err := u.acquireTarget(ctx, s)
	if err != nil {
		return err
	}

	s.target = target

	u.enter(ctx, logger, s.id, StageTransfer)

	if err := u.putter.PutObject(ctx, s.target, s.image); err != nil {
		return &StageError{Stage: StageTransfer, AttemptID: s.id, Err: ErrAwsUploadFailed, Cause: err}
	}

	u.enter(ctx, logger, s.id, StageRegister)

	if err := u.register(ctx, s); err != nil {
		logger.Warn("transferred object has no media record")
		return err
	}

	u.enter(ctx, logger, s.id, StageDone)

	return nil
}

func (u *Uploader) acquireTarget(ctx context.Context, s *session) (string, error) {
	res, err := u.sender.Send(ctx, api.Operation{
		OperationName: uploadURLOperation,
		Query:         uploadURLQuery,
		Variables:     map[string]any{"filename": s.id + "/filtered_0.heic"},
	})
	if err != nil {
		return "", &StageError{Stage: StageAcquireTarget, AttemptID: s.id, Err: ErrAPI, Cause: err}
	}

	if gqlErrs, ok := res.Errors(); ok {
		return "", &StageError{Stage: StageAcquireTarget, AttemptID: s.id, Err: ErrAPI, Cause: graphQLCause(gqlErrs)}
	}

	target, _ := res.Data()["imageUploadURL"].(string)
	if target == "" {
		return "", &StageError{Stage: StageAcquireTarget, AttemptID: s.id, Err: ErrUploadURLMissing}
	}

	return target, nil
}

func (u *Uploader) register(ctx context.Context, s *session) error {
	res, err := u.sender.Send(ctx, api.Operation{
		OperationName: createMediaOperation,
		Query:         createMediaQuery,
		Variables:     map[string]any{"input": u.mediaInput(s)},
	})
	if err != nil {
		return &StageError{Stage: StageRegister, AttemptID: s.id, Err: ErrAPI, Cause: err}
	}

	createMedia, _ := res.Data()["createMedia"].(map[string]any)
	if success, _ := createMedia["success"].(bool); success {
		return nil
	}

	var cause error
	if gqlErrs, ok := res.Errors(); ok {
		cause = graphQLCause(gqlErrs)
	}

	return &StageError{Stage: StageRegister, AttemptID: s.id, Err: ErrCreateMediaFailed, Cause: cause}
}

func (u *Uploader) mediaInput(s *session) map[string]any {
	return map[string]any{
		"content": []any{
			map[string]any{
				"filtered": s.id + "/filtered_0",
				"metadata": map[string]any{
					"colorTemperature": 6000,
					"exposureValue":    9,
					"didFlash":         false,
				},
			},
		},
		"developsAt": map[string]any{"isoString": isoString(u.now().Add(developOffset))},
		"faces":      []any{},
		"mediaId":    s.id,
		"takenAt":    map[string]any{"isoString": isoString(s.takenAt)},
		"timezone":   u.timezone,
	}
}

// enter logs a stage transition and forwards it to the recorder.
func (u *Uploader) enter(ctx context.Context, logger *slog.Logger, attemptID string, stage Stage) {
	logger.Debug("upload stage", slog.String("stage", string(stage)))

	u.record(ctx, logger, func(rctx context.Context, r Recorder) error {
		return r.Stage(rctx, attemptID, stage)
	})
}

// record calls fn with a context that outlives cancellation of ctx, so an
// interrupted upload still reaches its terminal state in the history.
func (u *Uploader) record(ctx context.Context, logger *slog.Logger, fn func(context.Context, Recorder) error) {
	if u.recorder == nil {
		return
	}

	if err := fn(context.WithoutCancel(ctx), u.recorder); err != nil {
		logger.Warn("failed to record upload progress", slog.String("error", err.Error()))
	}
}

// isoString formats t the way the API expects ISO-8601 timestamps.
func isoString(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// graphQLCause joins server-reported errors into a single cause.
func graphQLCause(errs []api.GraphQLError) error {
	if len(errs) == 0 {
		return api.GraphQLError{Message: "Unknown error occurred"}
	}

	joined := make([]error, 0, len(errs))
	for _, e := range errs {
		joined = append(joined, e)
	}

	return errors.Join(joined...)
}

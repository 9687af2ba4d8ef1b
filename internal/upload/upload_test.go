package upload

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/lapse-go/internal/api"
)

// scriptedSender returns one canned response per operation name.
type scriptedSender struct {
	mu        sync.Mutex
	responses map[string]api.Result
	errs      map[string]error
	ops       []api.Operation
}

func (s *scriptedSender) Send(_ context.Context, op api.Operation) (api.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops = append(s.ops, op)

	if err := s.errs[op.OperationName]; err != nil {
		return nil, err
	}

	return s.responses[op.OperationName], nil
}

func (s *scriptedSender) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.ops))
	for _, op := range s.ops {
		names = append(names, op.OperationName)
	}

	return names
}

type fakePutter struct {
	err   error
	calls []string
	data  [][]byte
}

func (f *fakePutter) PutObject(_ context.Context, targetURL string, data []byte) error {
	f.calls = append(f.calls, targetURL)
	f.data = append(f.data, data)

	return f.err
}

type recordedEvent struct {
	kind  string
	stage Stage
	err   error
}

type fakeRecorder struct {
	events       []recordedEvent
	begun        Attempt
	fail         bool
	finishCtxErr error
}

func (f *fakeRecorder) Begin(_ context.Context, a Attempt) error {
	f.begun = a
	f.events = append(f.events, recordedEvent{kind: "begin"})

	return f.failure()
}

func (f *fakeRecorder) Stage(_ context.Context, _ string, stage Stage) error {
	f.events = append(f.events, recordedEvent{kind: "stage", stage: stage})
	return f.failure()
}

func (f *fakeRecorder) Finish(ctx context.Context, _ string, err error) error {
	f.finishCtxErr = ctx.Err()
	f.events = append(f.events, recordedEvent{kind: "finish", err: err})
	return f.failure()
}

func (f *fakeRecorder) failure() error {
	if f.fail {
		return errors.New("ledger unavailable")
	}

	return nil
}

// cancellingSender cancels the caller's context when it sees cancelOn.
type cancellingSender struct {
	*scriptedSender
	cancelOn string
	cancel   context.CancelFunc
}

func (c *cancellingSender) Send(ctx context.Context, op api.Operation) (api.Result, error) {
	if op.OperationName == c.cancelOn {
		c.cancel()
		return nil, ctx.Err()
	}

	return c.scriptedSender.Send(ctx, op)
}

var fixedNow = time.Date(2024, 9, 1, 12, 30, 0, 0, time.UTC)

func okResponses() map[string]api.Result {
	return map[string]api.Result{
		uploadURLOperation: {"data": map[string]any{"imageUploadURL": "https://x/y"}},
		createMediaOperation: {"data": map[string]any{
			"createMedia": map[string]any{"__typename": "CreateMediaPayload", "success": true},
		}},
	}
}

func newTestUploader(sender Sender, putter ObjectPutter, recorder Recorder) *Uploader {
	u := NewUploader(sender, putter, recorder, "Europe/Helsinki", slog.Default())
	u.now = func() time.Time { return fixedNow }

	n := 0
	u.newID = func() string {
		n++
		return []string{"", "ATTEMPT-1", "ATTEMPT-2", "ATTEMPT-3"}[n]
	}

	return u
}

func TestUpload_Success(t *testing.T) {
	sender := &scriptedSender{responses: okResponses()}
	putter := &fakePutter{}
	u := newTestUploader(sender, putter, nil)

	id, err := u.Upload(t.Context(), []byte("image"), 3)
	require.NoError(t, err)

	assert.Equal(t, "ATTEMPT-1", id)
	assert.Equal(t, []string{uploadURLOperation, createMediaOperation}, sender.names())
	assert.Equal(t, []string{"https://x/y"}, putter.calls)
	assert.Equal(t, []byte("image"), putter.data[0])

	assert.Equal(t, "ATTEMPT-1/filtered_0.heic", sender.ops[0].Variables["filename"])
}

func TestUpload_RegisterVariables(t *testing.T) {
	sender := &scriptedSender{responses: okResponses()}
	u := newTestUploader(sender, &fakePutter{}, nil)

	_, err := u.Upload(t.Context(), []byte("image"), 7)
	require.NoError(t, err)

	require.Len(t, sender.ops, 2)
	op := sender.ops[1]
	assert.Equal(t, "mutation", op.Type())

	input, ok := op.Variables["input"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "ATTEMPT-1", input["mediaId"])
	assert.Equal(t, "Europe/Helsinki", input["timezone"])
	assert.Equal(t, map[string]any{"isoString": "2024-09-01T12:30:00Z"}, input["takenAt"])
	assert.Equal(t, map[string]any{"isoString": "2024-09-01T12:30:05Z"}, input["developsAt"],
		"develop time is a fixed offset, independent of developInDays")
	assert.Equal(t, []any{}, input["faces"])

	content, ok := input["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)

	entry, ok := content[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ATTEMPT-1/filtered_0", entry["filtered"])
	assert.Equal(t, map[string]any{"colorTemperature": 6000, "exposureValue": 9, "didFlash": false}, entry["metadata"])
}

func TestUpload_GraphQLErrorStopsBeforeTransfer(t *testing.T) {
	sender := &scriptedSender{responses: map[string]api.Result{
		uploadURLOperation: {"errors": []any{map[string]any{"message": "boom"}}},
	}}
	putter := &fakePutter{}
	u := newTestUploader(sender, putter, nil)

	_, err := u.Upload(t.Context(), []byte("image"), 0)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "boom")

	var gqlErr api.GraphQLError
	assert.ErrorAs(t, err, &gqlErr)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAcquireTarget, stageErr.Stage)

	assert.Empty(t, putter.calls)
	assert.Equal(t, []string{uploadURLOperation}, sender.names())
}

func TestUpload_MissingTarget(t *testing.T) {
	tests := []struct {
		name string
		res  api.Result
	}{
		{name: "no data", res: api.Result{}},
		{name: "no field", res: api.Result{"data": map[string]any{}}},
		{name: "empty string", res: api.Result{"data": map[string]any{"imageUploadURL": ""}}},
		{name: "wrong type", res: api.Result{"data": map[string]any{"imageUploadURL": 42.0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &scriptedSender{responses: map[string]api.Result{uploadURLOperation: tt.res}}
			putter := &fakePutter{}
			u := newTestUploader(sender, putter, nil)

			_, err := u.Upload(t.Context(), []byte("image"), 0)
			require.ErrorIs(t, err, ErrUploadURLMissing)
			assert.Empty(t, putter.calls)
		})
	}
}

func TestUpload_RequestFailureInStageA(t *testing.T) {
	cause := &api.RequestError{Operation: uploadURLOperation, Err: api.ErrAuthenticationFailed}
	sender := &scriptedSender{errs: map[string]error{uploadURLOperation: cause}}
	putter := &fakePutter{}
	u := newTestUploader(sender, putter, nil)

	_, err := u.Upload(t.Context(), []byte("image"), 0)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrAPI)
	assert.ErrorIs(t, err, api.ErrAuthenticationFailed)
	assert.Empty(t, putter.calls)
}

func TestUpload_TransferFailureStopsBeforeRegister(t *testing.T) {
	sender := &scriptedSender{responses: okResponses()}
	putter := &fakePutter{err: api.ErrTransferFailed}
	u := newTestUploader(sender, putter, nil)

	_, err := u.Upload(t.Context(), []byte("image"), 0)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrAwsUploadFailed)
	assert.ErrorIs(t, err, api.ErrTransferFailed)
	assert.Equal(t, []string{uploadURLOperation}, sender.names())
}

func TestUpload_RegisterUnsuccessful(t *testing.T) {
	tests := []struct {
		name string
		res  api.Result
	}{
		{name: "success false", res: api.Result{"data": map[string]any{"createMedia": map[string]any{"success": false}}}},
		{name: "success missing", res: api.Result{"data": map[string]any{"createMedia": map[string]any{}}}},
		{name: "no createMedia", res: api.Result{"data": map[string]any{}}},
		{name: "errors", res: api.Result{"errors": []any{map[string]any{"message": "bad input"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses := okResponses()
			responses[createMediaOperation] = tt.res
			sender := &scriptedSender{responses: responses}
			putter := &fakePutter{}
			u := newTestUploader(sender, putter, nil)

			_, err := u.Upload(t.Context(), []byte("image"), 0)
			require.ErrorIs(t, err, ErrCreateMediaFailed)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, StageRegister, stageErr.Stage)
			assert.Equal(t, "ATTEMPT-1", stageErr.AttemptID)

			// The transferred object is not cleaned up.
			assert.Len(t, putter.calls, 1)
		})
	}
}

func TestUpload_RegisterRequestFailure(t *testing.T) {
	sender := &scriptedSender{
		responses: okResponses(),
		errs:      map[string]error{createMediaOperation: &api.RequestError{Err: api.ErrNetwork}},
	}
	u := newTestUploader(sender, &fakePutter{}, nil)

	_, err := u.Upload(t.Context(), []byte("image"), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAPI)
	assert.ErrorIs(t, err, api.ErrNetwork)
}

func TestUpload_EmptyImage(t *testing.T) {
	sender := &scriptedSender{responses: okResponses()}
	u := newTestUploader(sender, &fakePutter{}, nil)

	_, err := u.Upload(t.Context(), nil, 0)
	require.ErrorIs(t, err, ErrEmptyImage)
	assert.Empty(t, sender.names())
}

func TestUpload_RetryUsesNewAttemptID(t *testing.T) {
	sender := &scriptedSender{responses: okResponses()}
	putter := &fakePutter{err: api.ErrTransferFailed}
	u := newTestUploader(sender, putter, nil)

	_, err := u.Upload(t.Context(), []byte("image"), 0)
	require.Error(t, err)

	putter.err = nil

	id, err := u.Upload(t.Context(), []byte("image"), 0)
	require.NoError(t, err)

	assert.Equal(t, "ATTEMPT-2", id)
	assert.Equal(t, "ATTEMPT-1/filtered_0.heic", sender.ops[0].Variables["filename"])
	assert.Equal(t, "ATTEMPT-2/filtered_0.heic", sender.ops[1].Variables["filename"])
}

func TestUpload_DefaultIDsAreUniqueUppercase(t *testing.T) {
	sender := &scriptedSender{responses: okResponses()}
	u := NewUploader(sender, &fakePutter{}, nil, "", slog.Default())

	a, err := u.Upload(t.Context(), []byte("x"), 0)
	require.NoError(t, err)

	b, err := u.Upload(t.Context(), []byte("x"), 0)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[0-9A-F-]{36}$`, a)
}

func TestUpload_RecorderSeesStages(t *testing.T) {
	rec := &fakeRecorder{}
	u := newTestUploader(&scriptedSender{responses: okResponses()}, &fakePutter{}, rec)

	_, err := u.UploadFrom(t.Context(), "/photos/a.heic", []byte("image"), 0)
	require.NoError(t, err)

	assert.Equal(t, Attempt{ID: "ATTEMPT-1", TakenAt: fixedNow, Source: "/photos/a.heic", Size: 5}, rec.begun)
	assert.Equal(t, []recordedEvent{
		{kind: "begin"},
		{kind: "stage", stage: StageAcquireTarget},
		{kind: "stage", stage: StageTransfer},
		{kind: "stage", stage: StageRegister},
		{kind: "stage", stage: StageDone},
		{kind: "finish"},
	}, rec.events)
}

func TestUpload_RecorderFailureDoesNotFailUpload(t *testing.T) {
	rec := &fakeRecorder{fail: true}
	u := newTestUploader(&scriptedSender{responses: okResponses()}, &fakePutter{}, rec)

	id, err := u.Upload(t.Context(), []byte("image"), 0)
	require.NoError(t, err)
	assert.Equal(t, "ATTEMPT-1", id)
}

func TestUpload_RecorderSeesFailure(t *testing.T) {
	rec := &fakeRecorder{}
	u := newTestUploader(&scriptedSender{responses: okResponses()}, &fakePutter{err: errors.New("reset")}, rec)

	_, err := u.Upload(t.Context(), []byte("image"), 0)
	require.Error(t, err)

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, "finish", last.kind)
	assert.ErrorIs(t, last.err, ErrAwsUploadFailed)
}

func TestStageError_Message(t *testing.T) {
	err := &StageError{Stage: StageTransfer, AttemptID: "A", Err: ErrAwsUploadFailed, Cause: errors.New("HTTP 403")}

	assert.Equal(t, "upload: object transfer failed (stage transfer, attempt A): HTTP 403", err.Error())
}

func TestUpload_CancelledRegisterStillFinishesRecord(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	sender := &cancellingSender{
		scriptedSender: &scriptedSender{responses: okResponses()},
		cancelOn:       createMediaOperation,
		cancel:         cancel,
	}
	rec := &fakeRecorder{}
	u := newTestUploader(sender, &fakePutter{}, rec)

	_, err := u.Upload(ctx, []byte("image"), 0)
	require.ErrorIs(t, err, context.Canceled)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageRegister, se.Stage)

	require.NotEmpty(t, rec.events)
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, "finish", last.kind)
	assert.ErrorIs(t, last.err, context.Canceled)
	assert.NoError(t, rec.finishCtxErr)
}

func TestUpload_RegisterFailureLogsAttemptOnce(t *testing.T) {
	var buf bytes.Buffer

	sender := &scriptedSender{responses: okResponses()}
	sender.responses[createMediaOperation] = api.Result{"data": map[string]any{
		"createMedia": map[string]any{"success": false},
	}}

	u := newTestUploader(sender, &fakePutter{}, nil)
	u.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	_, err := u.Upload(t.Context(), []byte("image"), 0)
	require.ErrorIs(t, err, ErrCreateMediaFailed)

	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "transferred object has no media record") {
			line = l
		}
	}

	require.NotEmpty(t, line)
	assert.Equal(t, 1, strings.Count(line, `"attempt":`))
}

package ledger

import (
	"context"

	"github.com/tonimelisma/lapse-go/internal/api"
)

// senderFunc answers each operation by name.
type senderFunc func(operationName string) map[string]any

func (f senderFunc) Send(_ context.Context, op api.Operation) (api.Result, error) {
	return api.Result(f(op.OperationName)), nil
}

type putterFunc func() error

func (f putterFunc) PutObject(_ context.Context, _ string, _ []byte) error {
	return f()
}

// cancelOnRegister serves the upload URL, then cancels the caller's context
// while the media record is being created.
type cancelOnRegister struct {
	cancel context.CancelFunc
}

func (c cancelOnRegister) Send(ctx context.Context, op api.Operation) (api.Result, error) {
	if op.OperationName == "ImageUploadURLGraphQLQuery" {
		return api.Result{"data": map[string]any{"imageUploadURL": "https://x/y"}}, nil
	}

	c.cancel()

	return nil, ctx.Err()
}

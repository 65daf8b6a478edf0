// Package requestid carries per-request identity through a context: the
// request id set by the HTTP middleware and the account the caller
// authenticated as.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

type (
	requestIDKey struct{}
	accountIDKey struct{}
)

// New generates a random UUID v4 request ID.
func New() string {
	return uuid.NewString()
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// FromContext extracts the request ID from ctx. Returns "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey{}, accountID)
}

// AccountID returns the authenticated account, or "" outside a request.
func AccountID(ctx context.Context) string {
	id, _ := ctx.Value(accountIDKey{}).(string)
	return id
}

package requestid

import (
	"context"

	"github.com/google/uuid"
)

type contextKey struct{}

func WithContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

// New returns ctx carrying a freshly generated id.
func New(ctx context.Context) context.Context {
	return WithContext(ctx, uuid.NewString())
}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

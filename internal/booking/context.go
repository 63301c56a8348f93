package booking

import (
	"context"
	"strings"
)

// MaxIdempotencyKeyLength bounds client supplied keys.
const MaxIdempotencyKeyLength = 255

type idempotencyKeyCtx struct{}

func NewContextWithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, strings.TrimSpace(key))
}

// IdempotencyKeyFromContext reports false for a missing, blank or oversized
// key.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, _ := ctx.Value(idempotencyKeyCtx{}).(string)
	if key == "" || len(key) > MaxIdempotencyKeyLength {
		return "", false
	}

	return key, true
}

package handler

import (
	"context"

	"github.com/pankajthekush/renderbridge/api/schemas"
)

// MaybeAwait resolves a value that may or may not still be pending. Plain
// values come back unchanged; Awaitables are waited on and their eventual
// value (or error) returned. Callers never need to care which case they have.
func MaybeAwait(ctx context.Context, value any) (any, error) {
	if awaitable, ok := value.(schemas.Awaitable); ok {
		return awaitable.Await(ctx)
	}
	return value, nil
}

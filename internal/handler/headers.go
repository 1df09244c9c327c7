package handler

import (
	"context"

	"github.com/pankajthekush/renderbridge/api/schemas"
)

// GetHeaderValue reads a single header from source, swallowing failures. A
// lookup can fail because the underlying target is already gone; callers that
// only want a best-effort value get the empty string instead of an error.
func GetHeaderValue(ctx context.Context, source schemas.HeaderValuer, name string) string {
	value, err := source.HeaderValue(ctx, name)
	if err != nil {
		return ""
	}
	return value
}

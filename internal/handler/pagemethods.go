package handler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pankajthekush/renderbridge/api/schemas"
)

// applyPageMethods runs the request's descriptor batch against the page.
//
// Entries that are not descriptors, and descriptors naming operations the
// page does not expose, are warned about and skipped; they never affect the
// rest of the batch. Errors raised by an invoked operation, by resolving its
// deferred result, or by the post-method load wait propagate to the caller
// and abort the remaining batch.
func (h *Handler) applyPageMethods(
	ctx context.Context,
	page schemas.Page,
	req *schemas.Request,
	log *zap.Logger,
) error {
	for _, entry := range req.PageMethods() {
		pm, ok := entry.(*schemas.PageMethod)
		if !ok {
			log.Warn(msgIgnoringWrongType,
				zap.Any("value", entry),
				zap.String("type", fmt.Sprintf("%T", entry)),
			)
			continue
		}

		var (
			raw any
			err error
		)
		if pm.Fn != nil {
			// Callables receive the page itself, not the stored arguments.
			raw, err = pm.Fn(ctx, page)
		} else {
			op, found := page.Lookup(pm.Name)
			if !found {
				log.Warn(msgIgnoringMissingMethod,
					zap.Stringer("page_method", pm),
					zap.String("method", pm.Name),
				)
				continue
			}
			raw, err = op(ctx, pm.Args, pm.Kwargs)
		}
		if err != nil {
			return err
		}

		result, err := MaybeAwait(ctx, raw)
		if err != nil {
			return err
		}
		pm.Result = result

		waitCtx, cancel := h.navContext(ctx)
		err = page.Stabilize(waitCtx)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

package handler

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/pankajthekush/renderbridge/api/schemas"
)

// NavigationErrorMessage is the transient error text the browser raises when
// content is requested while a navigation is still replacing the document. It
// is the only content-retrieval failure worth retrying.
const NavigationErrorMessage = schemas.PageNavigatingMessage

// getPageContent fetches the page's serialized content, retrying exactly once
// if the first attempt hits the in-flight-navigation condition. Whatever the
// second attempt yields — success or error — is returned as-is, and every
// other error propagates immediately.
func (h *Handler) getPageContent(ctx context.Context, page schemas.Page, log *zap.Logger) (string, error) {
	content, err := page.Content(ctx)
	if err == nil {
		return content, nil
	}
	if !strings.Contains(err.Error(), NavigationErrorMessage) {
		return "", err
	}
	log.Debug(msgRetryingContent,
		zap.String("page_url", page.URL()),
		zap.String("error", err.Error()),
	)
	return page.Content(ctx)
}

// Package handler implements the download flow that lets a crawler request
// be rendered by a headless browser page: navigate, run the request's page
// methods, extract the document, and re-encode it into a crawler response.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pankajthekush/renderbridge/api/schemas"
	"github.com/pankajthekush/renderbridge/internal/config"
	"github.com/pankajthekush/renderbridge/internal/htmlenc"
)

// Log messages that callers and tests rely on.
const (
	msgIgnoringWrongType     = "Ignoring page method: expected PageMethod"
	msgIgnoringMissingMethod = "Ignoring page method: could not find method"
	msgRetryingContent       = "Retrying to get content from page"
	msgNavigationNoResponse  = "Navigating returned no response, response will have empty headers and status 200"
	msgClosingFailedPage     = "Closing page due to failed request"
	msgPageInitFailed        = "Page init callback failed"
	msgTargetClosedRetry     = "Target closed, retrying to create page"
)

// PageFactory provides fresh pages for requests that do not carry one.
type PageFactory interface {
	NewPage(ctx context.Context, req *schemas.Request) (schemas.Page, error)
}

// Handler downloads crawler requests through browser pages.
type Handler struct {
	cfg     *config.Config
	pages   PageFactory
	logger  *zap.Logger
	limiter *rate.Limiter
}

// New builds a Handler. The navigation rate limiter is installed only when
// the configuration asks for one.
func New(cfg *config.Config, pages PageFactory, logger *zap.Logger) *Handler {
	h := &Handler{
		cfg:    cfg,
		pages:  pages,
		logger: logger.Named("handler"),
	}
	if cfg.Network.NavigationRate > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(cfg.Network.NavigationRate), 1)
	}
	return h
}

// DownloadRequest renders the request and returns the resulting response.
// When the page target disappears mid-download the whole attempt is retried
// with a fresh page, up to the configured bound.
func (h *Handler) DownloadRequest(ctx context.Context, req *schemas.Request) (*schemas.Response, error) {
	attempts := 0
	for {
		resp, err := h.downloadOnce(ctx, req)
		if err == nil || !IsTargetClosedError(err) {
			return resp, err
		}
		attempts++
		if attempts > h.cfg.Browser.TargetClosedMaxRetries {
			return nil, err
		}
		h.requestLogger(req).Debug(msgTargetClosedRetry,
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
	}
}

func (h *Handler) downloadOnce(ctx context.Context, req *schemas.Request) (*schemas.Response, error) {
	log := h.requestLogger(req)

	page, err := h.pageFor(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := h.runPageInitCallback(ctx, page, req); err != nil {
		// Non-fatal, mirrors warn-and-continue handling elsewhere.
		log.Warn(msgPageInitFailed, zap.Error(err))
	}

	resp, err := h.downloadWithPage(ctx, page, req, log)
	if err != nil {
		if !includePage(req) && !page.IsClosed() {
			log.Warn(msgClosingFailedPage,
				zap.String("error_type", fmt.Sprintf("%T", err)),
				zap.Error(err),
			)
			if closeErr := page.Close(ctx); closeErr != nil {
				log.Debug("Failed to close page after failed request", zap.Error(closeErr))
			}
		}
		return nil, err
	}
	return resp, nil
}

func (h *Handler) downloadWithPage(
	ctx context.Context,
	page schemas.Page,
	req *schemas.Request,
	log *zap.Logger,
) (*schemas.Response, error) {
	// Expose the page early so callers holding the request can reach it
	// even if something below fails.
	if includePage(req) {
		req.Meta[schemas.MetaPage] = page
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()

	navCtx, cancel := h.navContext(ctx)
	nav, err := page.Goto(navCtx, req.URL)
	cancel()
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	status := http.StatusOK
	if nav != nil {
		headers = nav.Headers.Clone()
		if headers == nil {
			headers = http.Header{}
		}
		// The browser already decoded the body; the original header would
		// misdescribe the bytes we hand back.
		headers.Del("Content-Encoding")
		status = nav.Status
		setRedirectMeta(req, nav)
	} else {
		log.Warn(msgNavigationNoResponse)
	}

	if err := h.applyPageMethods(ctx, page, req, log); err != nil {
		return nil, err
	}

	content, err := h.getPageContent(ctx, page, log)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start)
	req.Meta[schemas.MetaDownloadLatency] = latency

	body, encodingName := htmlenc.EncodeBody(headers, content)

	if !includePage(req) {
		if err := page.Close(ctx); err != nil {
			log.Debug("Failed to close page", zap.Error(err))
		}
	}

	return &schemas.Response{
		URL:      page.URL(),
		Status:   status,
		Headers:  headers,
		Body:     body,
		Encoding: encodingName,
		Flags:    []string{schemas.ResponseFlag},
		Request:  req,
		Latency:  latency,
	}, nil
}

// pageFor reuses the page a previous request left in the meta, if it is
// still alive, and creates a fresh one otherwise.
func (h *Handler) pageFor(ctx context.Context, req *schemas.Request) (schemas.Page, error) {
	if page, ok := req.Meta[schemas.MetaPage].(schemas.Page); ok && !page.IsClosed() {
		return page, nil
	}
	return h.pages.NewPage(ctx, req)
}

func (h *Handler) runPageInitCallback(ctx context.Context, page schemas.Page, req *schemas.Request) error {
	raw, present := req.Meta[schemas.MetaPageInitCallback]
	if !present {
		return nil
	}
	callback, ok := raw.(schemas.PageFunc)
	if !ok {
		return fmt.Errorf("page init callback has type %T, expected schemas.PageFunc", raw)
	}
	_, err := callback(ctx, page)
	return err
}

// navContext bounds navigation and load-state waits.
func (h *Handler) navContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.Network.NavigationTimeout > 0 {
		return context.WithTimeout(ctx, h.cfg.Network.NavigationTimeout)
	}
	return context.WithCancel(ctx)
}

func (h *Handler) requestLogger(req *schemas.Request) *zap.Logger {
	return h.logger.With(
		zap.String("context_name", req.ContextName()),
		zap.String("request_url", req.URL),
		zap.String("request_method", req.Method),
	)
}

func includePage(req *schemas.Request) bool {
	include, _ := req.Meta[schemas.MetaIncludePage].(bool)
	return include
}

func setRedirectMeta(req *schemas.Request, nav *schemas.NavigationInfo) {
	if len(nav.RedirectURLs) == 0 {
		return
	}
	req.Meta[schemas.MetaRedirectTimes] = len(nav.RedirectURLs)
	req.Meta[schemas.MetaRedirectURLs] = nav.RedirectURLs
	req.Meta[schemas.MetaRedirectReasons] = nav.RedirectReasons
}

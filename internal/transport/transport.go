// Package transport adapts the download handler to the standard library's
// http.RoundTripper contract, so HTTP clients and crawling frameworks such as
// colly can transparently receive browser-rendered responses.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pankajthekush/renderbridge/api/schemas"
)

// Request headers understood by the transport. They are consumed here and
// never reach the network.
const (
	// RenderHeader marks a request for browser rendering. Any value except
	// "false" and "0" enables it (the transport can also render everything,
	// see RenderAll).
	RenderHeader = "X-Renderbridge-Render"

	// ContextHeader selects the named browser context for the request.
	ContextHeader = "X-Renderbridge-Context"
)

// EncodingHeader is set on rendered responses to the canonical name of the
// encoding the body was serialized with.
const EncodingHeader = "X-Renderbridge-Encoding"

// Downloader renders a crawler request through a browser page. Implemented by
// handler.Handler.
type Downloader interface {
	DownloadRequest(ctx context.Context, req *schemas.Request) (*schemas.Response, error)
}

// RoundTripper renders marked requests through a Downloader and forwards the
// rest to a base transport.
type RoundTripper struct {
	downloader Downloader
	base       http.RoundTripper
	logger     *zap.Logger

	// renderAll renders every request regardless of marker headers.
	renderAll bool

	// defaults are page methods applied to every rendered request that does
	// not carry its own.
	defaults []*schemas.PageMethod
}

// Option configures a RoundTripper.
type Option func(*RoundTripper)

// WithBase sets the transport used for requests that are not rendered.
// Defaults to http.DefaultTransport.
func WithBase(base http.RoundTripper) Option {
	return func(rt *RoundTripper) { rt.base = base }
}

// WithRenderAll makes the transport render every request, markers or not.
func WithRenderAll() Option {
	return func(rt *RoundTripper) { rt.renderAll = true }
}

// WithDefaultPageMethods applies the given page methods to rendered requests
// that carry none of their own.
func WithDefaultPageMethods(methods ...*schemas.PageMethod) Option {
	return func(rt *RoundTripper) { rt.defaults = methods }
}

// New builds a rendering RoundTripper on top of downloader.
func New(downloader Downloader, logger *zap.Logger, opts ...Option) *RoundTripper {
	rt := &RoundTripper{
		downloader: downloader,
		base:       http.DefaultTransport,
		logger:     logger.Named("transport"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

var _ http.RoundTripper = (*RoundTripper)(nil)

// RoundTrip implements http.RoundTripper.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !rt.shouldRender(req) {
		return rt.base.RoundTrip(req)
	}

	rendered, err := rt.downloader.DownloadRequest(req.Context(), rt.toDownloadRequest(req))
	if err != nil {
		rt.logger.Debug("Rendered request failed.",
			zap.String("request_url", req.URL.String()), zap.Error(err))
		return nil, err
	}
	return rt.toHTTPResponse(req, rendered), nil
}

func (rt *RoundTripper) shouldRender(req *http.Request) bool {
	if rt.renderAll {
		return true
	}
	switch req.Header.Get(RenderHeader) {
	case "", "false", "0":
		return false
	}
	return true
}

// toDownloadRequest translates an HTTP request into the handler's request
// shape, stripping the transport's own marker headers.
func (rt *RoundTripper) toDownloadRequest(req *http.Request) *schemas.Request {
	headers := req.Header.Clone()
	headers.Del(RenderHeader)
	headers.Del(ContextHeader)

	meta := map[string]any{}
	if name := req.Header.Get(ContextHeader); name != "" {
		meta[schemas.MetaContextName] = name
	}
	if len(rt.defaults) > 0 {
		methods := make([]any, 0, len(rt.defaults))
		for _, method := range rt.defaults {
			methods = append(methods, method)
		}
		meta[schemas.MetaPageMethods] = methods
	}

	return &schemas.Request{
		URL:     req.URL.String(),
		Method:  req.Method,
		Headers: headers,
		Meta:    meta,
	}
}

func (rt *RoundTripper) toHTTPResponse(req *http.Request, rendered *schemas.Response) *http.Response {
	headers := rendered.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set(EncodingHeader, rendered.Encoding)

	return &http.Response{
		Status:        strconv.Itoa(rendered.Status) + " " + http.StatusText(rendered.Status),
		StatusCode:    rendered.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(rendered.Body)),
		ContentLength: int64(len(rendered.Body)),
		Request:       req,
	}
}

// NewCollector builds a colly collector whose traffic goes through a
// rendering transport. Every visit is rendered; pass colly options to adjust
// the collector itself.
func NewCollector(rt *RoundTripper, opts ...colly.CollectorOption) *colly.Collector {
	collector := colly.NewCollector(opts...)
	collector.WithTransport(rt)
	return collector
}

package schemas

import (
	"net/http"
	"time"
)

// Meta keys recognized by the download handler. They live on Request.Meta so
// that per-request behavior travels with the request, the way the crawler
// frameworks this adapter serves expect.
const (
	// MetaPageMethods holds either a []any or a map[string]any of
	// *PageMethod descriptors to run after navigation.
	MetaPageMethods = "renderbridge_page_methods"

	// MetaIncludePage keeps the page open after the response and stores it
	// under MetaPage for reuse by a follow-up request.
	MetaIncludePage = "renderbridge_include_page"

	// MetaPage holds a Page to reuse instead of creating a fresh one.
	MetaPage = "renderbridge_page"

	// MetaPageInitCallback holds a PageFunc run before navigation.
	MetaPageInitCallback = "renderbridge_page_init_callback"

	// MetaContextName names the logical browser context for diagnostics.
	MetaContextName = "renderbridge_context"

	// Written by the handler after a download.
	MetaDownloadLatency = "download_latency"
	MetaRedirectTimes   = "redirect_times"
	MetaRedirectURLs    = "redirect_urls"
	MetaRedirectReasons = "redirect_reasons"
)

// DefaultContextName is used when a request does not name a context.
const DefaultContextName = "default"

// ResponseFlag marks responses that went through the browser.
const ResponseFlag = "rendered"

// Request is the crawler-side request handed to the download handler.
type Request struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte

	// Meta carries per-request instructions in and results out. The
	// descriptor batch under MetaPageMethods is owned by this map; the
	// dispatcher mutates each descriptor's Result slot exactly once.
	Meta map[string]any
}

// ContextName returns the request's logical context name, defaulting it in
// the meta map the first time it is asked for.
func (r *Request) ContextName() string {
	if r.Meta == nil {
		r.Meta = make(map[string]any)
	}
	if name, ok := r.Meta[MetaContextName].(string); ok && name != "" {
		return name
	}
	r.Meta[MetaContextName] = DefaultContextName
	return DefaultContextName
}

// PageMethods returns the descriptor batch in dispatch order. The sequence
// form keeps its order; the mapping form is returned in arbitrary order.
// Non-descriptor entries are preserved so the dispatcher can report them.
func (r *Request) PageMethods() []any {
	switch methods := r.Meta[MetaPageMethods].(type) {
	case []any:
		return methods
	case map[string]any:
		out := make([]any, 0, len(methods))
		for _, pm := range methods {
			out = append(out, pm)
		}
		return out
	case nil:
		return nil
	default:
		// A scalar where a batch belongs: hand it to the dispatcher as a
		// single entry so it gets the usual wrong-type warning.
		return []any{methods}
	}
}

// Response is the rendered result handed back to the crawler.
type Response struct {
	URL     string
	Status  int
	Headers http.Header
	Body    []byte

	// Encoding names the charset Body is encoded with.
	Encoding string
	Flags    []string
	Request  *Request

	// Latency measures navigation through content extraction.
	Latency time.Duration
}

package schemas

import (
	"context"
	"net/http"
	"sync"
)

// -- Page Contract --

// Args holds the positional arguments for a page operation.
type Args []any

// Kwargs holds the keyword arguments for a page operation. Keys are unique.
type Kwargs map[string]any

// Operation is a single named capability exposed by a Page. Implementations
// receive the positional and keyword arguments stored in the descriptor that
// named them. The returned value may be a plain value or an Awaitable.
type Operation func(ctx context.Context, args Args, kwargs Kwargs) (any, error)

// Page is the browser-page collaborator the download handler drives. It is
// implemented by the chromedp-backed session and by mocks in tests.
type Page interface {
	// URL returns the page's current URL, for diagnostics.
	URL() string

	// Goto navigates to the given URL and returns information about the
	// resulting main-document response. A nil NavigationInfo with a nil
	// error means the navigation produced no response (e.g. about:blank).
	Goto(ctx context.Context, url string) (*NavigationInfo, error)

	// Content returns the page's current serialized HTML.
	Content(ctx context.Context) (string, error)

	// Lookup resolves a named operation against the page's capability set.
	Lookup(name string) (Operation, bool)

	// Stabilize waits for the page load state to settle after an operation.
	Stabilize(ctx context.Context) error

	IsClosed() bool
	Close(ctx context.Context) error
}

// NavigationInfo describes the main-document response of a navigation.
type NavigationInfo struct {
	URL     string
	Status  int
	Headers http.Header

	// Redirect chain leading to the final document, oldest first.
	RedirectURLs    []string
	RedirectReasons []int
}

// PageNavigatingMessage is the fixed text of the transient error raised when
// the page's content is requested while a navigation is still replacing the
// document. Page implementations must use this exact text so callers can
// recognize the condition.
const PageNavigatingMessage = "Unable to retrieve content because the page is navigating and changing the content."

// HeaderValuer is anything that can look up a single header value, possibly
// failing (e.g. because the underlying target is already gone).
type HeaderValuer interface {
	HeaderValue(ctx context.Context, name string) (string, error)
}

// -- Deferred Values --

// Awaitable is a value that is not ready yet. Operations and page-method
// callables may return one instead of a concrete value; the dispatcher
// resolves it transparently.
type Awaitable interface {
	Await(ctx context.Context) (any, error)
}

// Promise is the concrete Awaitable used by page implementations that finish
// work in the background. Resolve or Reject may be called at most once; later
// calls are ignored.
type Promise struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewPromise returns an unresolved Promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolve completes the promise with a value.
func (p *Promise) Resolve(value any) {
	p.once.Do(func() {
		p.value = value
		close(p.done)
	})
}

// Reject completes the promise with an error.
func (p *Promise) Reject(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Await blocks until the promise settles or the context is done.
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pankajthekush/renderbridge/api/schemas"
	"github.com/pankajthekush/renderbridge/internal/config"
)

// Bound on load-state waits when no navigation timeout is configured.
const defaultStabilizeTimeout = 30 * time.Second

// Page is a single browser tab. It implements schemas.Page on top of a
// dedicated chromedp target context.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	ops map[string]schemas.Operation

	watcher *navWatcher
	onClose func()

	mu       sync.Mutex
	isClosed bool
	lastURL  string
	lastNav  *schemas.NavigationInfo
}

var _ schemas.Page = (*Page)(nil)
var _ schemas.HeaderValuer = (*Page)(nil)

func newPage(id string, ctx context.Context, cancel context.CancelFunc, cfg *config.Config, logger *zap.Logger) *Page {
	p := &Page{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		cfg:     cfg,
		watcher: &navWatcher{},
	}
	p.ops = p.buildOperations()
	return p
}

// start creates the underlying target and begins observing its network
// traffic so navigations can report response metadata.
func (p *Page) start(ctx context.Context) error {
	startCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()

	chromedp.ListenTarget(p.ctx, p.watcher.handle)

	if err := chromedp.Run(startCtx, network.Enable()); err != nil {
		return p.wrapTargetClosed(err)
	}
	return nil
}

// setExtraHeaders forwards request headers into the target so navigations
// carry them.
func (p *Page) setExtraHeaders(ctx context.Context, h http.Header) error {
	if len(h) == 0 {
		return nil
	}
	headers := make(network.Headers, len(h))
	for name := range h {
		headers[name] = h.Get(name)
	}
	headerCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	return p.wrapTargetClosed(chromedp.Run(headerCtx, network.SetExtraHTTPHeaders(headers)))
}

// ID returns the page's unique identifier.
func (p *Page) ID() string { return p.id }

// URL returns the page's last known URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastURL
}

// Goto navigates to url and returns metadata about the main-document
// response, or nil when the navigation produced none.
func (p *Page) Goto(ctx context.Context, url string) (*schemas.NavigationInfo, error) {
	navCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()

	p.watcher.reset()

	var location string
	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.Location(&location),
	)
	if err != nil {
		return nil, p.wrapTargetClosed(err)
	}

	nav := p.watcher.navigationInfo()
	if nav != nil && location != "" {
		nav.URL = location
	}

	p.mu.Lock()
	if location != "" {
		p.lastURL = location
	} else {
		p.lastURL = url
	}
	p.lastNav = nav
	p.mu.Unlock()

	return nav, nil
}

// Content returns the serialized HTML of the current document.
func (p *Page) Content(ctx context.Context) (string, error) {
	contentCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()

	var html string
	err := chromedp.Run(contentCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err != nil {
		if isMidNavigationError(err) {
			return "", fmt.Errorf("%s: %w", schemas.PageNavigatingMessage, err)
		}
		return "", p.wrapTargetClosed(err)
	}
	return html, nil
}

// Lookup resolves a named operation against the page's capability set.
func (p *Page) Lookup(name string) (schemas.Operation, bool) {
	op, ok := p.ops[name]
	return op, ok
}

// Stabilize waits for the document to be ready again, e.g. after an operation
// triggered a navigation. Slow pages are tolerated; only a dead caller
// context aborts.
func (p *Page) Stabilize(ctx context.Context) error {
	stabCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	stabCtx, timeoutCancel := context.WithTimeout(stabCtx, p.stabilizeTimeout())
	defer timeoutCancel()

	if err := chromedp.Run(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.ctx.Err() != nil {
			return p.wrapTargetClosed(err)
		}
		p.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}
	return nil
}

// stabilizeTimeout is the configured navigation timeout, falling back to a
// fixed bound when none is set.
func (p *Page) stabilizeTimeout() time.Duration {
	if t := p.cfg.Network.NavigationTimeout; t > 0 {
		return t
	}
	return defaultStabilizeTimeout
}

// HeaderValue looks up a single header of the last navigation response.
func (p *Page) HeaderValue(ctx context.Context, name string) (string, error) {
	p.mu.Lock()
	nav := p.lastNav
	p.mu.Unlock()

	if nav == nil {
		return "", errors.New("page has no navigation response")
	}
	return nav.Headers.Get(name), nil
}

// IsClosed reports whether the page has been closed.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isClosed || p.ctx.Err() != nil
}

// Close tears down the tab and releases its pool slot. Closing twice is a
// no-op.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.isClosed {
		p.mu.Unlock()
		return nil
	}
	p.isClosed = true
	p.mu.Unlock()

	p.logger.Debug("Closing page.")
	p.cancel()
	if p.onClose != nil {
		p.onClose()
	}
	return nil
}

// wrapTargetClosed marks errors caused by the tab's context going away so the
// download loop can recognize them and retry with a fresh page.
func (p *Page) wrapTargetClosed(err error) error {
	if err == nil {
		return nil
	}
	if p.ctx.Err() != nil || p.IsClosed() {
		return fmt.Errorf("target closed: %w", err)
	}
	return err
}

// Errors chromedp surfaces when the document is being replaced under an
// in-flight DOM read.
var midNavigationIndicators = []string{
	"Cannot find context with specified id",
	"Inspected target navigated or closed",
	"node with given id does not belong to the document",
	"document updated",
}

func isMidNavigationError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range midNavigationIndicators {
		if strings.Contains(msg, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}

// -- Navigation Watcher --

// navWatcher observes CDP network events on a target and records the
// main-document response of the current navigation, including the redirect
// chain that led to it.
type navWatcher struct {
	mu sync.Mutex

	docRequestID    network.RequestID
	response        *network.Response
	redirectURLs    []string
	redirectReasons []int
}

// reset clears state from the previous navigation.
func (w *navWatcher) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.docRequestID = ""
	w.response = nil
	w.redirectURLs = nil
	w.redirectReasons = nil
}

func (w *navWatcher) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Type != network.ResourceTypeDocument {
			return
		}
		w.mu.Lock()
		// A redirect re-sends the document request under the same ID; the
		// response that caused it belongs to the chain.
		if e.RedirectResponse != nil && e.RequestID == w.docRequestID {
			w.redirectURLs = append(w.redirectURLs, e.RedirectResponse.URL)
			w.redirectReasons = append(w.redirectReasons, int(e.RedirectResponse.Status))
		}
		w.docRequestID = e.RequestID
		w.mu.Unlock()
	case *network.EventResponseReceived:
		w.mu.Lock()
		if e.RequestID == w.docRequestID {
			w.response = e.Response
		}
		w.mu.Unlock()
	}
}

// navigationInfo snapshots the current navigation's outcome, or nil when no
// document response was observed.
func (w *navWatcher) navigationInfo() *schemas.NavigationInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.response == nil {
		return nil
	}

	headers := http.Header{}
	for name, value := range w.response.Headers {
		headers.Add(name, fmt.Sprint(value))
	}
	return &schemas.NavigationInfo{
		URL:             w.response.URL,
		Status:          int(w.response.Status),
		Headers:         headers,
		RedirectURLs:    append([]string(nil), w.redirectURLs...),
		RedirectReasons: append([]int(nil), w.redirectReasons...),
	}
}

// combineContext derives a context from primary (which carries the CDP target
// values) that is also canceled when secondary is.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

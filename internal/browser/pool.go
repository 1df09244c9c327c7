// Package browser provides the chromedp-backed page implementation behind the
// download handler: a pool that owns the Chrome process (or remote connection)
// and hands out pages, and the page sessions themselves.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pankajthekush/renderbridge/api/schemas"
	"github.com/pankajthekush/renderbridge/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Pool owns the browser process lifecycle and creates pages on demand. The
// number of concurrently open pages is capped by the configuration; NewPage
// blocks until a slot frees up.
type Pool struct {
	logger *zap.Logger
	cfg    *config.Config

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	slots *semaphore.Weighted

	pages map[string]*Page
	mu    sync.RWMutex
	wg    sync.WaitGroup

	// Browser startup is deferred until the first page is requested.
	initOnce sync.Once
	initErr  error
}

// NewPool creates a page pool. The browser itself is not launched (or dialed)
// until the first page is requested.
func NewPool(cfg *config.Config, logger *zap.Logger) *Pool {
	maxPages := cfg.Browser.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	p := &Pool{
		logger: logger.Named("browser_pool"),
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(maxPages)),
		pages:  make(map[string]*Page),
	}
	p.logger.Info("Browser pool created (startup deferred).", zap.Int("max_pages", maxPages))
	return p
}

// initialize builds the allocator and connects to (or launches) the browser.
func (p *Pool) initialize(ctx context.Context) error {
	p.initOnce.Do(func() {
		switch {
		case p.cfg.Browser.CDPURL != "":
			p.logger.Info("Connecting to browser over CDP.", zap.String("url", p.cfg.Browser.CDPURL))
			p.allocCtx, p.allocCancel = chromedp.NewRemoteAllocator(context.Background(),
				p.cfg.Browser.CDPURL, chromedp.NoModifyURL)
		case p.cfg.Browser.RemoteURL != "":
			p.logger.Info("Connecting to remote browser.", zap.String("url", p.cfg.Browser.RemoteURL))
			p.allocCtx, p.allocCancel = chromedp.NewRemoteAllocator(context.Background(),
				p.cfg.Browser.RemoteURL)
		default:
			p.logger.Info("Launching browser.", zap.Bool("headless", p.cfg.Browser.Headless))
			p.allocCtx, p.allocCancel = chromedp.NewExecAllocator(context.Background(),
				p.allocatorOptions()...)
		}

		p.browserCtx, p.browserCancel = chromedp.NewContext(p.allocCtx,
			chromedp.WithErrorf(p.chromedpErrorf))

		// Force the browser process to start so launch failures surface
		// here instead of on the first navigation.
		if err := chromedp.Run(p.browserCtx); err != nil {
			p.browserCancel()
			p.allocCancel()
			p.initErr = fmt.Errorf("failed to start browser: %w", err)
			return
		}
		p.logger.Info("Browser pool initialized successfully.")
	})
	return p.initErr
}

func (p *Pool) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", p.cfg.Browser.Headless),
		// Stability flags for containerized environments.
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if p.cfg.Browser.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.cfg.Browser.ExecPath))
	}
	for name, value := range p.cfg.Browser.LaunchFlags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

func (p *Pool) chromedpErrorf(format string, args ...any) {
	p.logger.Debug("chromedp: " + fmt.Sprintf(format, args...))
}

// NewPage opens a fresh tab, blocking while the pool is at capacity. The
// returned page holds its pool slot until it is closed.
func (p *Pool) NewPage(ctx context.Context, req *schemas.Request) (schemas.Page, error) {
	if err := p.initialize(ctx); err != nil {
		return nil, err
	}
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	pageID := uuid.New().String()
	pageCtx, pageCancel := chromedp.NewContext(p.browserCtx)

	page := newPage(pageID, pageCtx, pageCancel, p.cfg,
		p.logger.With(zap.String("page_id", pageID), zap.String("context_name", req.ContextName())))

	p.wg.Add(1)
	page.onClose = func() {
		p.mu.Lock()
		delete(p.pages, pageID)
		p.mu.Unlock()
		p.slots.Release(1)
		p.wg.Done()
		p.logger.Debug("Page removed from pool.", zap.String("page_id", pageID))
	}

	// Create the target now so a dead browser fails fast.
	if err := page.start(ctx); err != nil {
		page.onClose()
		pageCancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if err := page.setExtraHeaders(ctx, req.Headers); err != nil {
		p.logger.Warn("Could not apply request headers to page.",
			zap.String("page_id", pageID), zap.Error(err))
	}

	p.mu.Lock()
	p.pages[pageID] = page
	p.mu.Unlock()

	p.logger.Debug("New page opened.", zap.String("page_id", pageID))
	return page, nil
}

// PageCount reports the number of currently open pages.
func (p *Pool) PageCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pages)
}

// Shutdown closes all open pages and then the browser itself.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("Shutting down browser pool.")

	if p.browserCtx == nil {
		p.logger.Info("Pool never started a browser, nothing to shut down.")
		return nil
	}

	p.mu.RLock()
	open := make([]*Page, 0, len(p.pages))
	for _, page := range p.pages {
		open = append(open, page)
	}
	p.mu.RUnlock()

	for _, page := range open {
		go func(page *Page) {
			if err := page.Close(ctx); err != nil {
				p.logger.Warn("Error closing page during shutdown.",
					zap.String("page_id", page.ID()), zap.Error(err))
			}
		}(page)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("All pages closed gracefully.")
	case <-ctx.Done():
		p.logger.Warn("Timeout waiting for pages to close, shutting down anyway.", zap.Error(ctx.Err()))
	case <-time.After(shutdownGracePeriod):
		p.logger.Warn("Grace period elapsed waiting for pages to close, shutting down anyway.")
	}

	p.browserCancel()
	p.allocCancel()
	p.logger.Info("Browser pool shutdown complete.")
	return nil
}

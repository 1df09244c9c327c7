package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pankajthekush/renderbridge/api/schemas"
	"github.com/pankajthekush/renderbridge/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Mock Page --

// mockPage is a scriptable schemas.Page for driving the handler without a
// browser.
type mockPage struct {
	mu sync.Mutex

	url    string
	closed bool

	ops map[string]schemas.Operation

	navInfo *schemas.NavigationInfo
	navErr  error

	// contentResults is consumed one entry per Content call; an entry is
	// either a string or an error.
	contentResults []any
	contentCalls   int

	gotoCalls      int
	stabilizeCalls int
	closeCalls     int
	stabilizeErr   error
}

var _ schemas.Page = (*mockPage)(nil)

func newMockPage() *mockPage {
	return &mockPage{
		url: "https://example.org/",
		ops: map[string]schemas.Operation{},
	}
}

func (p *mockPage) URL() string { return p.url }

func (p *mockPage) Goto(ctx context.Context, url string) (*schemas.NavigationInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoCalls++
	if p.navErr != nil {
		return nil, p.navErr
	}
	return p.navInfo, nil
}

func (p *mockPage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.contentCalls++
	if len(p.contentResults) == 0 {
		return "", errors.New("mockPage: no content scripted")
	}
	next := p.contentResults[0]
	p.contentResults = p.contentResults[1:]
	if err, ok := next.(error); ok {
		return "", err
	}
	return next.(string), nil
}

func (p *mockPage) Lookup(name string) (schemas.Operation, bool) {
	op, ok := p.ops[name]
	return op, ok
}

func (p *mockPage) Stabilize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stabilizeCalls++
	return p.stabilizeErr
}

func (p *mockPage) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *mockPage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCalls++
	return nil
}

// -- Mock Factory --

type mockFactory struct {
	mu    sync.Mutex
	pages []*mockPage
	calls int
	err   error
}

func (f *mockFactory) NewPage(ctx context.Context, req *schemas.Request) (schemas.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	page := f.pages[f.calls%len(f.pages)]
	f.calls++
	return page, nil
}

// -- Construction Helpers --

func testConfig() *config.Config {
	return &config.Config{
		Browser: config.BrowserConfig{TargetClosedMaxRetries: 3},
	}
}

// newTestHandler returns a handler logging into an observer so tests can
// assert the exact messages the contract promises.
func newTestHandler(t *testing.T, factory PageFactory) (*Handler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return New(testConfig(), factory, zap.New(core)), logs
}

func htmlNavInfo(url string) *schemas.NavigationInfo {
	return &schemas.NavigationInfo{
		URL:     url,
		Status:  http.StatusOK,
		Headers: http.Header{"Content-Type": []string{"text/html; charset=UTF-8"}},
	}
}

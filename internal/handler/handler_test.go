package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankajthekush/renderbridge/api/schemas"
)

const indexHTML = "<html><head><title>Awesome site</title></head><body>áéíóú</body></html>"

func newRequest(meta map[string]any) *schemas.Request {
	if meta == nil {
		meta = map[string]any{}
	}
	return &schemas.Request{
		URL:    "https://example.org/index.html",
		Method: "GET",
		Meta:   meta,
	}
}

func TestDownloadRequest(t *testing.T) {
	page := newMockPage()
	page.url = "https://example.org/index.html"
	page.navInfo = htmlNavInfo(page.url)
	page.navInfo.Headers.Set("Content-Encoding", "gzip")
	page.contentResults = []any{indexHTML}
	factory := &mockFactory{pages: []*mockPage{page}}
	h, _ := newTestHandler(t, factory)

	req := newRequest(nil)
	resp, err := h.DownloadRequest(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, page.url, resp.URL)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []byte(indexHTML), resp.Body)
	assert.Equal(t, "utf-8", resp.Encoding)
	assert.Contains(t, resp.Flags, schemas.ResponseFlag)
	assert.Same(t, req, resp.Request)

	// The browser already decoded the body.
	assert.Empty(t, resp.Headers.Get("Content-Encoding"))
	assert.Equal(t, "text/html; charset=UTF-8", resp.Headers.Get("Content-Type"))

	latency, ok := req.Meta[schemas.MetaDownloadLatency].(time.Duration)
	require.True(t, ok)
	assert.GreaterOrEqual(t, latency, time.Duration(0))

	// Pages are closed once the response is built, unless kept explicitly.
	assert.Equal(t, 1, page.closeCalls)
}

func TestDownloadRequestRunsPageMethods(t *testing.T) {
	page := newMockPage()
	page.navInfo = htmlNavInfo(page.url)
	page.contentResults = []any{indexHTML}
	page.ops["title"] = func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
		return "Awesome site", nil
	}
	h, _ := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	title := schemas.NewPageMethod("title")
	req := newRequest(map[string]any{
		schemas.MetaPageMethods: []any{title},
	})

	_, err := h.DownloadRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Awesome site", title.Result)
}

func TestDownloadRequestRedirectMeta(t *testing.T) {
	page := newMockPage()
	page.url = "https://example.org/final"
	page.navInfo = htmlNavInfo(page.url)
	page.navInfo.RedirectURLs = []string{"https://example.org/a", "https://example.org/b"}
	page.navInfo.RedirectReasons = []int{301, 302}
	page.contentResults = []any{indexHTML}
	h, _ := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	req := newRequest(nil)
	_, err := h.DownloadRequest(context.Background(), req)
	require.NoError(t, err)

	want := map[string]any{
		schemas.MetaRedirectTimes:   2,
		schemas.MetaRedirectURLs:    []string{"https://example.org/a", "https://example.org/b"},
		schemas.MetaRedirectReasons: []int{301, 302},
	}
	got := map[string]any{
		schemas.MetaRedirectTimes:   req.Meta[schemas.MetaRedirectTimes],
		schemas.MetaRedirectURLs:    req.Meta[schemas.MetaRedirectURLs],
		schemas.MetaRedirectReasons: req.Meta[schemas.MetaRedirectReasons],
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("redirect meta mismatch (-want +got):\n%s", diff)
	}
}

func TestDownloadRequestNoNavigationResponse(t *testing.T) {
	page := newMockPage()
	page.navInfo = nil // navigation yielded no main-document response
	page.contentResults = []any{indexHTML}
	h, logs := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	resp, err := h.DownloadRequest(context.Background(), newRequest(nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Empty(t, resp.Headers)
	assert.Equal(t, 1, logs.FilterMessage(msgNavigationNoResponse).Len())
}

func TestDownloadRequestIncludePage(t *testing.T) {
	page := newMockPage()
	page.navInfo = htmlNavInfo(page.url)
	page.contentResults = []any{indexHTML, indexHTML}
	factory := &mockFactory{pages: []*mockPage{page}}
	h, _ := newTestHandler(t, factory)

	req := newRequest(map[string]any{schemas.MetaIncludePage: true})
	_, err := h.DownloadRequest(context.Background(), req)
	require.NoError(t, err)

	assert.Zero(t, page.closeCalls, "included pages stay open")
	assert.Same(t, page, req.Meta[schemas.MetaPage])

	// A follow-up request carrying the page reuses it instead of asking
	// the factory for a new one.
	followUp := newRequest(map[string]any{schemas.MetaPage: page})
	_, err = h.DownloadRequest(context.Background(), followUp)
	require.NoError(t, err)
	assert.Equal(t, 1, factory.calls)
	assert.Equal(t, 2, page.gotoCalls)
}

func TestDownloadRequestNavigationErrorClosesPage(t *testing.T) {
	page := newMockPage()
	boom := errors.New("net::ERR_CONNECTION_REFUSED")
	page.navErr = boom
	h, logs := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	_, err := h.DownloadRequest(context.Background(), newRequest(nil))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, page.closeCalls)
	assert.Equal(t, 1, logs.FilterMessage(msgClosingFailedPage).Len())
}

func TestDownloadRequestIncludePageSkipsCloseOnError(t *testing.T) {
	page := newMockPage()
	page.navErr = errors.New("net::ERR_CONNECTION_REFUSED")
	h, logs := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	req := newRequest(map[string]any{schemas.MetaIncludePage: true})
	_, err := h.DownloadRequest(context.Background(), req)

	assert.Error(t, err)
	assert.Zero(t, page.closeCalls)
	assert.Zero(t, logs.FilterMessage(msgClosingFailedPage).Len())
}

func TestDownloadRequestRetriesOnTargetClosed(t *testing.T) {
	closedPage := newMockPage()
	closedPage.navErr = errors.New("Target page, context or browser has been closed")
	healthyPage := newMockPage()
	healthyPage.navInfo = htmlNavInfo(healthyPage.url)
	healthyPage.contentResults = []any{indexHTML}

	factory := &mockFactory{pages: []*mockPage{closedPage, healthyPage}}
	h, logs := newTestHandler(t, factory)

	resp, err := h.DownloadRequest(context.Background(), newRequest(nil))
	require.NoError(t, err)

	assert.Equal(t, []byte(indexHTML), resp.Body)
	assert.Equal(t, 2, factory.calls)
	assert.Equal(t, 1, logs.FilterMessage(msgTargetClosedRetry).Len())
}

func TestDownloadRequestTargetClosedRetriesAreBounded(t *testing.T) {
	page := newMockPage()
	page.navErr = errors.New("Target page, context or browser has been closed")
	factory := &mockFactory{pages: []*mockPage{page}}
	h, _ := newTestHandler(t, factory)

	_, err := h.DownloadRequest(context.Background(), newRequest(nil))

	assert.True(t, IsTargetClosedError(err))
	// Initial attempt plus the configured number of retries.
	assert.Equal(t, testConfig().Browser.TargetClosedMaxRetries+1, factory.calls)
}

func TestDownloadRequestPageInitCallback(t *testing.T) {
	page := newMockPage()
	page.navInfo = htmlNavInfo(page.url)
	page.contentResults = []any{indexHTML}
	h, logs := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	var initRan bool
	req := newRequest(map[string]any{
		schemas.MetaPageInitCallback: schemas.PageFunc(func(ctx context.Context, p schemas.Page) (any, error) {
			initRan = true
			assert.Zero(t, page.gotoCalls, "init callback must run before navigation")
			return nil, nil
		}),
	})

	_, err := h.DownloadRequest(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, initRan)
	assert.Zero(t, logs.FilterMessage(msgPageInitFailed).Len())
}

func TestDownloadRequestPageInitCallbackFailureIsNonFatal(t *testing.T) {
	page := newMockPage()
	page.navInfo = htmlNavInfo(page.url)
	page.contentResults = []any{indexHTML}
	h, logs := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	req := newRequest(map[string]any{
		schemas.MetaPageInitCallback: schemas.PageFunc(func(ctx context.Context, p schemas.Page) (any, error) {
			return nil, assert.AnError
		}),
	})

	_, err := h.DownloadRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage(msgPageInitFailed).Len())
}

func TestDownloadRequestPageInitCallbackWrongType(t *testing.T) {
	page := newMockPage()
	page.navInfo = htmlNavInfo(page.url)
	page.contentResults = []any{indexHTML}
	h, logs := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	req := newRequest(map[string]any{schemas.MetaPageInitCallback: "not a callback"})

	_, err := h.DownloadRequest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage(msgPageInitFailed).Len())
}

func TestDownloadRequestBodyEncodingFromHeaders(t *testing.T) {
	text := `<html><head><meta charset="gb2312"></head><body>áéíóú</body></html>`
	page := newMockPage()
	page.navInfo = &schemas.NavigationInfo{
		URL:     page.url,
		Status:  http.StatusOK,
		Headers: http.Header{"Content-Type": []string{"text/html; charset=ISO-8859-1"}},
	}
	page.contentResults = []any{text}
	h, _ := newTestHandler(t, &mockFactory{pages: []*mockPage{page}})

	resp, err := h.DownloadRequest(context.Background(), newRequest(nil))
	require.NoError(t, err)

	assert.Equal(t, "windows-1252", resp.Encoding)
	assert.NotEqual(t, []byte(text), resp.Body, "body must be re-encoded per the header charset")
}

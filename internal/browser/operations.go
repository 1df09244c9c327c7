package browser

import (
	"context"
	"fmt"
	"os"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/spf13/cast"

	"github.com/pankajthekush/renderbridge/api/schemas"
)

// buildOperations assembles the page's named capability set. Requests refer
// to these by name in their page-method descriptors.
func (p *Page) buildOperations() map[string]schemas.Operation {
	return map[string]schemas.Operation{
		"goto": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			url, err := stringArg(args, 0, "url")
			if err != nil {
				return nil, err
			}
			return p.Goto(ctx, url)
		},
		"content": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			return p.Content(ctx)
		},
		"title": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			var title string
			err := p.run(ctx, chromedp.Title(&title))
			return title, err
		},
		"is_closed": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			return p.IsClosed(), nil
		},
		"click": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			selector, err := stringArg(args, 0, "selector")
			if err != nil {
				return nil, err
			}
			return nil, p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
		},
		"fill": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			selector, err := stringArg(args, 0, "selector")
			if err != nil {
				return nil, err
			}
			value, err := stringArg(args, 1, "value")
			if err != nil {
				return nil, err
			}
			return nil, p.run(ctx, chromedp.SetValue(selector, value, chromedp.ByQuery))
		},
		"evaluate": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			script, err := stringArg(args, 0, "expression")
			if err != nil {
				return nil, err
			}
			var result any
			if err := p.run(ctx, chromedp.Evaluate(script, &result)); err != nil {
				return nil, err
			}
			return result, nil
		},
		"wait_for_selector": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			selector, err := stringArg(args, 0, "selector")
			if err != nil {
				return nil, err
			}
			if state, _ := kwargs["state"].(string); state == "hidden" {
				return nil, p.run(ctx, chromedp.WaitNotVisible(selector, chromedp.ByQuery))
			}
			return nil, p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
		},
		"wait_for_timeout": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			millis, err := floatArg(args, 0, "timeout")
			if err != nil {
				return nil, err
			}
			return nil, p.run(ctx, chromedp.Sleep(time.Duration(millis*float64(time.Millisecond))))
		},
		"wait_for_load_state": func(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
			return nil, p.Stabilize(ctx)
		},
		"screenshot": p.screenshotOperation,
		"pdf":        p.pdfOperation,
	}
}

// screenshotOperation captures the viewport, or the full page when the
// full_page keyword is set. The image bytes are returned and, when a path
// keyword is present, also written to disk.
func (p *Page) screenshotOperation(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
	fullPage := cast.ToBool(kwargs["full_page"])
	quality := 90
	if raw, ok := kwargs["quality"]; ok {
		q, err := cast.ToIntE(raw)
		if err != nil {
			return nil, fmt.Errorf("screenshot quality: %w", err)
		}
		quality = q
	}

	var buf []byte
	var action chromedp.Action
	if fullPage {
		action = chromedp.FullScreenshot(&buf, quality)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := p.run(ctx, action); err != nil {
		return nil, err
	}
	return buf, p.maybeWriteArtifact(kwargs, buf)
}

// pdfOperation prints the current document to PDF.
func (p *Page) pdfOperation(ctx context.Context, args schemas.Args, kwargs schemas.Kwargs) (any, error) {
	var buf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		printer := cdppage.PrintToPDF()
		if cast.ToBool(kwargs["landscape"]) {
			printer = printer.WithLandscape(true)
		}
		var err error
		buf, _, err = printer.Do(c)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return buf, p.maybeWriteArtifact(kwargs, buf)
}

func (p *Page) maybeWriteArtifact(kwargs schemas.Kwargs, data []byte) error {
	path, _ := kwargs["path"].(string)
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact to %s: %w", path, err)
	}
	return nil
}

// run executes chromedp actions under both the page lifetime and the caller's
// deadline, normalizing closed-target failures.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	return p.wrapTargetClosed(chromedp.Run(runCtx, actions...))
}

// -- Argument Helpers --

func stringArg(args schemas.Args, index int, name string) (string, error) {
	if index >= len(args) {
		return "", fmt.Errorf("missing required argument %q at position %d", name, index)
	}
	value, err := cast.ToStringE(args[index])
	if err != nil {
		return "", fmt.Errorf("argument %q: %w", name, err)
	}
	return value, nil
}

func floatArg(args schemas.Args, index int, name string) (float64, error) {
	if index >= len(args) {
		return 0, fmt.Errorf("missing required argument %q at position %d", name, index)
	}
	value, err := cast.ToFloat64E(args[index])
	if err != nil {
		return 0, fmt.Errorf("argument %q: %w", name, err)
	}
	return value, nil
}

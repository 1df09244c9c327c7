package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pankajthekush/renderbridge/api/schemas"
	"github.com/pankajthekush/renderbridge/internal/browser"
	"github.com/pankajthekush/renderbridge/internal/handler"
	"github.com/pankajthekush/renderbridge/internal/observability"
)

const componentShutdownTimeout = 15 * time.Second

// renderReport is the JSON document the render command emits alongside the
// page content.
type renderReport struct {
	URL          string   `json:"url"`
	Status       int      `json:"status"`
	Encoding     string   `json:"encoding"`
	LatencyMS    int64    `json:"latency_ms"`
	Flags        []string `json:"flags"`
	RedirectURLs []string `json:"redirect_urls,omitempty"`
	OutputFile   string   `json:"output_file,omitempty"`
	Screenshot   string   `json:"screenshot,omitempty"`
	PDF          string   `json:"pdf,omitempty"`
}

// newRenderCmd creates and configures the `render` command.
func newRenderCmd() *cobra.Command {
	var (
		output       string
		screenshot   string
		pdf          string
		waitSelector string
		scroll       bool
	)

	renderCmd := &cobra.Command{
		Use:   "render [url]",
		Short: "Renders a single URL through a headless browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			pool := browser.NewPool(appConfig, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), componentShutdownTimeout)
				defer cancel()
				if err := pool.Shutdown(shutdownCtx); err != nil {
					logger.Warn("Error during browser pool shutdown", zap.Error(err))
				}
			}()

			h := handler.New(appConfig, pool, logger)

			req := &schemas.Request{
				URL:    args[0],
				Method: "GET",
				Meta: map[string]any{
					schemas.MetaPageMethods: buildPageMethods(waitSelector, scroll, screenshot, pdf),
				},
			}

			resp, err := h.DownloadRequest(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to render %s: %w", args[0], err)
			}

			if err := writeRenderedBody(output, resp.Body); err != nil {
				return err
			}

			report := renderReport{
				URL:        resp.URL,
				Status:     resp.Status,
				Encoding:   resp.Encoding,
				LatencyMS:  resp.Latency.Milliseconds(),
				Flags:      resp.Flags,
				OutputFile: output,
				Screenshot: screenshot,
				PDF:        pdf,
			}
			if urls, ok := req.Meta[schemas.MetaRedirectURLs].([]string); ok {
				report.RedirectURLs = urls
			}

			encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode render report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}

	renderCmd.Flags().StringVarP(&output, "output", "o", "", "File to write the rendered HTML to. If unset, HTML is not written.")
	renderCmd.Flags().StringVar(&screenshot, "screenshot", "", "File to write a full-page screenshot to.")
	renderCmd.Flags().StringVar(&pdf, "pdf", "", "File to print the page to as PDF.")
	renderCmd.Flags().StringVar(&waitSelector, "wait-selector", "", "CSS selector to wait for before extracting content.")
	renderCmd.Flags().BoolVar(&scroll, "scroll", false, "Scroll to the bottom of the page before extracting content.")

	return renderCmd
}

// buildPageMethods assembles the descriptor batch the render flags ask for,
// in the order they should run.
func buildPageMethods(waitSelector string, scroll bool, screenshot, pdf string) []any {
	var methods []any
	if waitSelector != "" {
		methods = append(methods, schemas.NewPageMethod("wait_for_selector", waitSelector))
	}
	if scroll {
		methods = append(methods,
			schemas.NewPageMethod("evaluate", "window.scrollBy(0, document.body.scrollHeight)"),
			schemas.NewPageMethod("wait_for_load_state"),
		)
	}
	if screenshot != "" {
		methods = append(methods, schemas.NewPageMethod("screenshot").
			WithKwargs(schemas.Kwargs{"full_page": true, "path": screenshot}))
	}
	if pdf != "" {
		methods = append(methods, schemas.NewPageMethod("pdf").
			WithKwargs(schemas.Kwargs{"path": pdf}))
	}
	return methods
}

func writeRenderedBody(output string, body []byte) error {
	switch output {
	case "":
		return nil
	case "-":
		_, err := os.Stdout.Write(body)
		return err
	default:
		if err := os.WriteFile(output, body, 0o644); err != nil {
			return fmt.Errorf("failed to write rendered HTML: %w", err)
		}
		return nil
	}
}

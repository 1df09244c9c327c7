package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gocolly/colly/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pankajthekush/renderbridge/internal/browser"
	"github.com/pankajthekush/renderbridge/internal/handler"
	"github.com/pankajthekush/renderbridge/internal/observability"
	"github.com/pankajthekush/renderbridge/internal/transport"
)

// crawlResult is one JSON line in the crawl output.
type crawlResult struct {
	URL       string `json:"url"`
	Selector  string `json:"selector"`
	Text      string `json:"text"`
	CrawledAt string `json:"crawled_at"`
}

// newCrawlCmd creates and configures the `crawl` command.
func newCrawlCmd() *cobra.Command {
	var (
		selector       string
		maxDepth       int
		allowedDomains []string
		output         string
	)

	crawlCmd := &cobra.Command{
		Use:   "crawl [start-url]",
		Short: "Crawls a site with colly, rendering every page through the browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			rt := transport.New(h, logger, transport.WithRenderAll())

			out := cmd.OutOrStdout()
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer file.Close()
				out = file
			}
			encoder := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)

			opts := []colly.CollectorOption{
				colly.MaxDepth(maxDepth),
				colly.IgnoreRobotsTxt(),
			}
			if len(allowedDomains) > 0 {
				opts = append(opts, colly.AllowedDomains(allowedDomains...))
			}
			collector := transport.NewCollector(rt, opts...)

			var crawled int
			collector.OnHTML(selector, func(e *colly.HTMLElement) {
				crawled++
				result := crawlResult{
					URL:       e.Request.URL.String(),
					Selector:  selector,
					Text:      e.Text,
					CrawledAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := encoder.Encode(result); err != nil {
					logger.Warn("Could not write crawl result", zap.Error(err))
				}
			})
			collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
				if err := e.Request.Visit(e.Attr("href")); err != nil {
					logger.Debug("Skipping link", zap.String("href", e.Attr("href")), zap.Error(err))
				}
			})
			collector.OnError(func(r *colly.Response, err error) {
				logger.Warn("Crawl request failed", zap.String("url", r.Request.URL.String()), zap.Error(err))
			})

			logger.Info("Starting crawl",
				zap.String("start_url", args[0]),
				zap.String("selector", selector),
				zap.Int("max_depth", maxDepth),
			)

			if err := collector.Visit(args[0]); err != nil {
				return fmt.Errorf("failed to start crawl: %w", err)
			}
			collector.Wait()

			logger.Info("Crawl complete", zap.Int("matches", crawled))
			return nil
		},
	}

	crawlCmd.Flags().StringVarP(&selector, "selector", "s", "title", "CSS selector to extract from each rendered page.")
	crawlCmd.Flags().IntVarP(&maxDepth, "max-depth", "d", 2, "Maximum link depth to follow.")
	crawlCmd.Flags().StringSliceVar(&allowedDomains, "allowed-domains", nil, "Domains the crawler may visit. Unset allows all.")
	crawlCmd.Flags().StringVarP(&output, "output", "o", "", "File to write JSON-lines results to. Defaults to stdout.")

	return crawlCmd
}

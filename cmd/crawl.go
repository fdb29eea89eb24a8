// Package cmd defines and implements the CLI commands for the gif-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type crawlOptions struct {
	seeds       []string
	metricsAddr string
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Scrapes the configured category",
		Long: `Fetches the seed pages, extracts every animated gif, and appends the
URLs to the configured file until the engine drains or the record limit is
reached. The operator HTTP server runs for the duration of the crawl.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.seeds, "seed", nil, "seed URL (repeatable); overrides crawl.seeds")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "operator server address; overrides metrics.addr, \"-\" disables it")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, opts *crawlOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	seeds := opts.seeds
	if len(seeds) == 0 {
		seeds = cfg.Crawl.Seeds
	}
	addr := cfg.Metrics.Addr
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	if addr == "-" {
		addr = ""
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runCtx, finish := context.WithCancel(ctx)
	defer finish()
	g, gctx := errgroup.WithContext(runCtx)

	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           appInstance.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("operator server started", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("operator server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("operator server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		// The crawl ending stops the operator server.
		defer finish()
		summary, err := appInstance.Run(gctx, seeds)
		logger.Info("crawl finished",
			zap.Int("pages", summary.Pages),
			zap.Int("failed", summary.Failed),
			zap.Int("gifs", summary.Gifs),
			zap.Int("recorded", summary.Recorded),
			zap.Int("stored", summary.Stored),
			zap.Int("skipped", summary.Skipped),
			zap.Duration("elapsed", summary.Elapsed),
		)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run crawl: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

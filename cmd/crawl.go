package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/api"
	"github.com/kruyneg/information-retrieval/internal/config"
	"github.com/kruyneg/information-retrieval/internal/dispatcher"
	collyfetcher "github.com/kruyneg/information-retrieval/internal/fetcher/colly"
	"github.com/kruyneg/information-retrieval/internal/metrics"
	"github.com/kruyneg/information-retrieval/internal/parser"
	"github.com/kruyneg/information-retrieval/internal/progress"
	"github.com/kruyneg/information-retrieval/internal/progress/sinks"
	"github.com/kruyneg/information-retrieval/internal/robots"
	"github.com/kruyneg/information-retrieval/internal/storage"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl every configured site",
		Long: `Walks the sitemaps of every configured site and stores the extracted
documents. SIGINT or SIGTERM stops the run under the configured drain policy;
the next run resumes after the last URL handed to a worker.`,
		RunE: runCrawl,
	}
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	app, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := app.Config, app.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := backend.Close(context.Background()); cerr != nil {
			logger.Warn("Failed to close storage", zap.Error(cerr))
		}
	}()

	metrics.Init()
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	tally := sinks.NewTallySink()
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink, tally)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("Failed to flush progress events", zap.Error(cerr))
		}
	}()

	d, err := buildDispatcher(cfg, backend, hub, logger)
	if err != nil {
		return err
	}

	opsCtx, stopOps := context.WithCancel(context.Background())
	defer stopOps()
	if cfg.Ops.Enabled {
		server := api.NewServer(d, tally, backend.Pinger, logger)
		go func() {
			if serr := server.ListenAndServe(opsCtx, cfg.Ops.Addr); serr != nil {
				logger.Error("Ops server failed", zap.Error(serr))
			}
		}()
	}

	summary, err := d.Run(ctx)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	for _, hostErr := range summary.HostErrors {
		logger.Error("Host failed", zap.String("host", hostErr.Host), zap.Error(hostErr.Err))
	}
	if dropped := hub.Dropped(); dropped > 0 {
		logger.Warn("Progress events dropped under load", zap.Int64("dropped", dropped))
	}
	printSummary(cmd.OutOrStdout(), summary, hub.Dropped())
	return nil
}

func printSummary(w io.Writer, summary dispatcher.Summary, droppedEvents int64) {
	fmt.Fprintf(w, "run %s: %d enqueued, %d stored (%s), %d host errors, stopped by %s after %s\n",
		summary.RunID, summary.Enqueued, summary.Stored, units.BytesSize(float64(summary.StoredBytes)),
		len(summary.HostErrors), summary.StopReason, summary.Duration.Round(time.Millisecond))
	for _, host := range summary.Rewound {
		fmt.Fprintf(w, "  %s: resume cursor rewound to the last page before the limit\n", host)
	}
	if droppedEvents > 0 {
		fmt.Fprintf(w, "  %d progress events dropped\n", droppedEvents)
	}
}

func buildDispatcher(cfg config.Config, backend *storage.Backend, events progress.Emitter, logger *zap.Logger) (*dispatcher.Dispatcher, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RequestTimeout,
	})
	loader := robots.NewLoader(robots.Config{
		UserAgent:       cfg.Crawler.UserAgent,
		DefaultDelay:    cfg.Crawler.DefaultDelay,
		HonorCrawlDelay: cfg.Crawler.HonorCrawlDelay,
		Timeout:         cfg.Crawler.RequestTimeout,
	}, nil, logger)

	d, err := dispatcher.New(dispatcher.ConfigFrom(cfg), dispatcher.Deps{
		Documents:  backend.Documents,
		Progress:   backend.Progress,
		Pinger:     backend.Pinger,
		Fetcher:    fetcher,
		Parser:     parser.Default(),
		Robots:     loader,
		HTTPClient: &http.Client{Timeout: cfg.Crawler.RequestTimeout},
		Events:     events,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	return d, nil
}

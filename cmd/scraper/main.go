package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/metrics"
	"github.com/aluiziolira/go-scrape-bestsellers/stage"
)

func main() {
	defaultCfg := config.DefaultConfig()
	concurrencyDefault := defaultCfg.Concurrency
	if value, ok, err := config.EnvInt("SCRAPER_CONCURRENCY"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_CONCURRENCY: %v\n", err)
		os.Exit(1)
	} else if ok {
		concurrencyDefault = value
	}
	timeoutDefault := defaultCfg.Timeout
	if value, ok, err := config.EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid SCRAPER_TIMEOUT: %v\n", err)
		os.Exit(1)
	} else if ok {
		timeoutDefault = value
	}
	outputDefault := defaultCfg.OutputDir
	if value, ok := config.EnvString("SCRAPER_OUTPUT_DIR"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	startYear := flag.Int("start-year", defaultCfg.StartYear, "First year of monthly listings to scan")
	endYear := flag.Int("end-year", defaultCfg.EndYear, "Last year of monthly listings to scan")
	endMonth := flag.Int("end-month", defaultCfg.EndMonth, "Last month scanned in the end year")
	concurrency := flag.Int("concurrency", concurrencyDefault, "Maximum detail pages resolved at once")
	timeout := flag.Duration("timeout", timeoutDefault, "Per-request timeout")
	maxAttempts := flag.Int("max-attempts", defaultCfg.MaxAttempts, "Fetch attempts per detail page")
	retryBackoff := flag.Duration("retry-backoff", defaultCfg.RetryBackoff, "Base backoff between detail attempts (grows linearly)")
	outputDir := flag.String("output-dir", outputDefault, "Directory holding the stage tables")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Listing table format: csv, json, or dual")
	listingURL := flag.String("listing-url", defaultCfg.ListingURL, "Listing address template (year, month)")
	detailURL := flag.String("detail-url", defaultCfg.DetailURL, "Detail address template (item id)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] %s|%s|%s|%s\n\n", os.Args[0], stage.Listing, stage.Categories, stage.Merge, stage.All)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	stageName := strings.ToLower(flag.Arg(0))

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.StartYear = *startYear
	cfg.EndYear = *endYear
	cfg.EndMonth = *endMonth
	cfg.Concurrency = *concurrency
	cfg.Timeout = *timeout
	cfg.MaxAttempts = *maxAttempts
	cfg.RetryBackoff = *retryBackoff
	cfg.OutputDir = *outputDir
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.ListingURL = *listingURL
	cfg.DetailURL = *detailURL
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	m := metrics.New()
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	startTime := time.Now()
	summary, err := stage.New(cfg, m).Run(ctx, stageName)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	if summary != nil {
		printSummary(summary, time.Since(startTime))
	}

	if err != nil {
		var missing *stage.MissingInputError
		switch {
		case errors.As(err, &missing):
			slog.Error("stage input missing",
				slog.String("path", missing.Path),
				slog.String("run_first", missing.Stage),
			)
			fmt.Fprintln(os.Stderr, missing.Error())
		case errors.Is(err, stage.ErrNoItemIDs):
			slog.Error("nothing to enrich", slog.Any("error", err))
		default:
			slog.Error("stage failed", slog.String("stage", stageName), slog.Any("error", err))
		}
		os.Exit(1)
	}
}

func printSummary(summary *stage.Summary, duration time.Duration) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Stage", "Metric", "Value"})

	if ls := summary.Listing; ls != nil {
		if r := ls.Result; r != nil {
			t.AppendRow(table.Row{stage.Listing, "Requests", r.RequestCount})
			t.AppendRow(table.Row{stage.Listing, "Pages", r.PageCount})
			t.AppendRow(table.Row{stage.Listing, "Empty pages", r.EmptyPages})
			t.AppendRow(table.Row{stage.Listing, "Parse errors", r.ParseErrors})
			t.AppendRow(table.Row{stage.Listing, "Failed pages", len(r.FailedURLs)})
			if len(r.ErrorsByType) > 0 {
				t.AppendRow(table.Row{stage.Listing, "Error types", formatCounts(r.ErrorsByType)})
			}
		}
		t.AppendRow(table.Row{stage.Listing, "Rows written", ls.Written})
		if len(ls.Validation) > 0 {
			t.AppendRow(table.Row{stage.Listing, "Rows rejected", formatCounts(ls.Validation)})
		}
		t.AppendRow(table.Row{stage.Listing, "Output", ls.Path})
		t.AppendSeparator()
	}

	if cs := summary.Categories; cs != nil {
		t.AppendRow(table.Row{stage.Categories, "Rows read", cs.Rows})
		t.AppendRow(table.Row{stage.Categories, "Distinct ids", cs.IDs})
		t.AppendRow(table.Row{stage.Categories, "Resolved", cs.Result.Resolved})
		t.AppendRow(table.Row{stage.Categories, "Unresolved", cs.Result.Failed})
		t.AppendRow(table.Row{stage.Categories, "Task errors", len(cs.Result.Errors)})
		t.AppendRow(table.Row{stage.Categories, "Duration", cs.Result.Duration.Round(time.Millisecond)})
		t.AppendRow(table.Row{stage.Categories, "Output", cs.Path})
		t.AppendSeparator()
	}

	if ms := summary.Merge; ms != nil {
		t.AppendRow(table.Row{stage.Merge, "Rows in", ms.Stats.Input})
		t.AppendRow(table.Row{stage.Merge, "Categories replaced", ms.Stats.Updated})
		t.AppendRow(table.Row{stage.Merge, "Rows dropped", ms.Stats.Dropped})
		t.AppendRow(table.Row{stage.Merge, "Rows out", ms.Stats.Output})
		if ms.Stats.DuplicateResolutions > 0 {
			t.AppendRow(table.Row{stage.Merge, "Duplicate mappings", ms.Stats.DuplicateResolutions})
		}
		t.AppendRow(table.Row{stage.Merge, "Output", ms.Path})
		t.AppendSeparator()
	}

	t.AppendFooter(table.Row{"", "Duration", duration.Round(time.Millisecond)})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

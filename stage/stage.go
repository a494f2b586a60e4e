// Package stage runs the listing, categories and merge steps over the tables
// in the output directory.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/enrich"
	"github.com/aluiziolira/go-scrape-bestsellers/fetch"
	"github.com/aluiziolira/go-scrape-bestsellers/metrics"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
	"github.com/aluiziolira/go-scrape-bestsellers/pipeline"
	"github.com/aluiziolira/go-scrape-bestsellers/reconcile"
	"github.com/aluiziolira/go-scrape-bestsellers/scraper"
)

// Names accepted by the CLI.
const (
	Listing    = "listing"
	Categories = "categories"
	Merge      = "merge"
	All        = "all"
)

// ListingSummary describes one listing run.
type ListingSummary struct {
	Result     *models.ListingResult
	Written    int64
	Validation map[string]int
	Path       string
}

// CategoriesSummary describes one enrichment run.
type CategoriesSummary struct {
	Rows   int
	IDs    int
	Result models.EnrichResult
	Path   string
}

// MergeSummary describes one reconciliation run.
type MergeSummary struct {
	Stats reconcile.Stats
	Path  string
}

// Summary collects whatever stages ran; stages that did not run stay nil.
type Summary struct {
	Listing    *ListingSummary
	Categories *CategoriesSummary
	Merge      *MergeSummary
}

// Runner executes stages against one configuration.
type Runner struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	transport http.RoundTripper
}

// New returns a runner. m may be nil.
func New(cfg *config.Config, m *metrics.Metrics) *Runner {
	return &Runner{cfg: cfg, metrics: m}
}

// WithTransport routes every page request through rt.
func (r *Runner) WithTransport(rt http.RoundTripper) *Runner {
	r.transport = rt
	return r
}

// ListingTablePath is where the listing stage writes, and where the later
// stages read from, for the configured output format.
func ListingTablePath(cfg *config.Config) string {
	if cfg.OutputFormat == "json" {
		return pipeline.JSONLPath(cfg.BestsellerPath())
	}
	return cfg.BestsellerPath()
}

// Run executes the named stage.
func (r *Runner) Run(ctx context.Context, name string) (*Summary, error) {
	switch name {
	case Listing:
		ls, err := r.RunListing(ctx)
		return &Summary{Listing: ls}, err
	case Categories:
		cs, err := r.RunCategories(ctx)
		return &Summary{Categories: cs}, err
	case Merge:
		ms, err := r.RunMerge()
		return &Summary{Merge: ms}, err
	case All:
		return r.RunAll(ctx)
	default:
		return nil, fmt.Errorf("unknown stage %q (want %s, %s, %s or %s)", name, Listing, Categories, Merge, All)
	}
}

// RunListing scans the monthly listings and writes the bestseller table.
func (r *Runner) RunListing(ctx context.Context) (*ListingSummary, error) {
	s, err := scraper.NewScraper(r.cfg, r.metrics)
	if err != nil {
		return nil, fmt.Errorf("initialise scraper: %w", err)
	}
	if r.transport != nil {
		s.WithTransport(r.transport)
	}

	path := ListingTablePath(r.cfg)
	writer, err := pipeline.NewWriter(r.cfg.OutputFormat, path)
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}

	slog.Info("starting listing scan",
		slog.Int("start_year", r.cfg.StartYear),
		slog.Int("end_year", r.cfg.EndYear),
		slog.Int("end_month", r.cfg.EndMonth),
		slog.String("output", path),
	)

	// One worker keeps rows in page order on disk.
	p := pipeline.NewPipeline(ctx, writer, r.cfg)
	p.Start(1)
	if r.cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, runErr := s.Run(ctx, p)
	closeErr := p.Close()

	var validateErr error
	if runErr == nil && closeErr == nil {
		validateErr = writer.Validate()
	}
	if err := writer.Close(); err != nil {
		slog.Error("close writer", slog.Any("error", err))
	}

	snapshot := p.GetMetrics()
	summary := &ListingSummary{
		Result:  result,
		Written: p.Processed(),
		Path:    path,
	}
	if validation, ok := snapshot["validation_errors"].(map[string]int); ok {
		summary.Validation = validation
	}

	switch {
	case runErr != nil:
		return summary, runErr
	case closeErr != nil:
		return summary, fmt.Errorf("pipeline shutdown: %w", closeErr)
	case validateErr != nil:
		return summary, fmt.Errorf("output validation: %w", validateErr)
	}
	return summary, nil
}

// RunCategories resolves the real category of every distinct item id in the
// bestseller table and writes the mapping table.
func (r *Runner) RunCategories(ctx context.Context) (*CategoriesSummary, error) {
	source := ListingTablePath(r.cfg)
	rows, err := loadBestsellers(source, Listing)
	if err != nil {
		return nil, err
	}

	ids := pipeline.UniqueItemIDs(rows)
	summary := &CategoriesSummary{Rows: len(rows), IDs: len(ids), Path: r.cfg.CategoryPath()}
	if len(ids) == 0 {
		return summary, ErrNoItemIDs
	}

	slog.Info("starting category enrichment",
		slog.Int("rows", len(rows)),
		slog.Int("ids", len(ids)),
		slog.Int("concurrency", r.cfg.Concurrency),
	)

	fetcher := fetch.New(r.cfg, r.metrics)
	if r.transport != nil {
		fetcher.WithTransport(r.transport)
	}
	resolver := enrich.NewResolver(r.cfg, fetcher, r.metrics)
	scheduler := enrich.NewScheduler(r.cfg, resolver, r.metrics)

	summary.Result = scheduler.Enrich(ctx, ids, r.cfg.Concurrency)

	// Ids cut short by an interrupt come back as N/A, so an interrupted run
	// leaves any earlier mapping in place.
	if err := ctx.Err(); err != nil {
		slog.Warn("category enrichment interrupted, mapping not written",
			slog.String("path", summary.Path),
			slog.Int("resolved", summary.Result.Resolved),
			slog.Int("unresolved", summary.Result.Failed),
		)
		return summary, fmt.Errorf("category enrichment interrupted: %w", err)
	}
	if err := pipeline.SaveResolutions(summary.Path, summary.Result.Resolutions); err != nil {
		return summary, fmt.Errorf("save category mapping: %w", err)
	}
	return summary, nil
}

// RunMerge applies the mapping table to the bestseller table and writes the
// cleaned table.
func (r *Runner) RunMerge() (*MergeSummary, error) {
	rows, err := loadBestsellers(ListingTablePath(r.cfg), Listing)
	if err != nil {
		return nil, err
	}

	resolutions, err := pipeline.LoadResolutions(r.cfg.CategoryPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingInputError{Path: r.cfg.CategoryPath(), Stage: Categories, Err: err}
		}
		return nil, fmt.Errorf("load category mapping: %w", err)
	}

	cleaned, stats := reconcile.Reconcile(rows, resolutions)
	summary := &MergeSummary{Stats: stats, Path: r.cfg.CleanedPath()}

	if stats.DuplicateResolutions > 0 {
		slog.Warn("category mapping has duplicate ids, first entry used",
			slog.Int("duplicates", stats.DuplicateResolutions),
		)
	}
	if err := pipeline.SaveBestsellers(summary.Path, cleaned); err != nil {
		return summary, fmt.Errorf("save cleaned table: %w", err)
	}

	slog.Info("merge finished",
		slog.Int("input", stats.Input),
		slog.Int("updated", stats.Updated),
		slog.Int("dropped", stats.Dropped),
		slog.Int("output", stats.Output),
	)
	return summary, nil
}

// RunAll runs listing, categories and merge in order, stopping at the first
// stage that fails.
func (r *Runner) RunAll(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	ls, err := r.RunListing(ctx)
	summary.Listing = ls
	if err != nil {
		return summary, fmt.Errorf("%s stage: %w", Listing, err)
	}

	cs, err := r.RunCategories(ctx)
	summary.Categories = cs
	if err != nil {
		return summary, fmt.Errorf("%s stage: %w", Categories, err)
	}

	ms, err := r.RunMerge()
	summary.Merge = ms
	if err != nil {
		return summary, fmt.Errorf("%s stage: %w", Merge, err)
	}
	return summary, nil
}

func loadBestsellers(path, producer string) ([]models.BestsellerRow, error) {
	rows, err := pipeline.LoadBestsellers(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MissingInputError{Path: path, Stage: producer, Err: err}
		}
		return nil, fmt.Errorf("load bestseller table: %w", err)
	}
	return rows, nil
}

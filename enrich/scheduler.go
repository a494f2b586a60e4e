package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/metrics"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

// CategoryResolver resolves one item id and never fails. *Resolver satisfies it.
type CategoryResolver interface {
	Resolve(ctx context.Context, itemID string) string
}

// Scheduler runs a resolver across many ids with a fixed admission cap.
type Scheduler struct {
	resolver      CategoryResolver
	paceMin       time.Duration
	paceMax       time.Duration
	progressEvery int
	metrics       *metrics.Metrics

	// OnProgress, when set, is called from the collecting goroutine after
	// every completed id.
	OnProgress func(done, total int)

	sleep func(ctx context.Context, d time.Duration)
}

type outcome struct {
	itemID   string
	category string
	err      error
}

// NewScheduler builds a scheduler from cfg. m may be nil.
func NewScheduler(cfg *config.Config, resolver CategoryResolver, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		resolver:      resolver,
		paceMin:       cfg.PaceMin,
		paceMax:       cfg.PaceMax,
		progressEvery: cfg.ProgressEvery,
		metrics:       m,
		sleep:         sleepContext,
	}
}

// Enrich resolves every id with at most limit resolutions in flight. Ids must
// be deduplicated by the caller; a repeated id keeps its first collected
// result. Individual failures are recorded as N/A and never abort the run.
func (s *Scheduler) Enrich(ctx context.Context, ids []string, limit int) models.EnrichResult {
	if limit <= 0 {
		limit = 1
	}
	start := time.Now()

	results := make(chan outcome, limit)
	collected := make(chan models.EnrichResult, 1)
	go func() {
		collected <- s.collect(results, len(ids))
	}()

	var g errgroup.Group
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			results <- s.run(ctx, id)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // tasks never fail
	close(results)

	result := <-collected
	result.Duration = time.Since(start)

	slog.Info("category enrichment finished",
		slog.Int("total", result.Total),
		slog.Int("resolved", result.Resolved),
		slog.Int("failed", result.Failed),
		slog.Duration("duration", result.Duration),
	)
	return result
}

func (s *Scheduler) run(ctx context.Context, itemID string) (out outcome) {
	s.metrics.TrackInFlight(1)
	defer s.metrics.TrackInFlight(-1)
	defer func() {
		if rec := recover(); rec != nil {
			s.metrics.IncResolution("panic")
			out = outcome{
				itemID:   itemID,
				category: models.NotAvailable,
				err:      fmt.Errorf("resolve %s: %v", itemID, rec),
			}
		}
	}()

	category := s.resolver.Resolve(ctx, itemID)
	s.sleep(ctx, s.paceDelay())
	return outcome{itemID: itemID, category: category}
}

// paceDelay is uniform in [paceMin, paceMax] and desynchronizes workers.
func (s *Scheduler) paceDelay() time.Duration {
	span := s.paceMax - s.paceMin
	if span <= 0 {
		return s.paceMin
	}
	return s.paceMin + time.Duration(rand.Int64N(int64(span)+1))
}

// collect is the only owner of the result map.
func (s *Scheduler) collect(results <-chan outcome, total int) models.EnrichResult {
	res := models.EnrichResult{
		Resolutions: make([]models.CategoryResolution, 0, total),
		ByID:        make(map[string]string, total),
		Errors:      make(map[string]string),
	}

	done := 0
	for o := range results {
		done++
		if o.err != nil {
			slog.Error("category task failed",
				slog.String("item_id", o.itemID),
				slog.Any("error", o.err),
			)
			if _, ok := res.Errors[o.itemID]; !ok {
				res.Errors[o.itemID] = o.err.Error()
			}
		}

		if _, dup := res.ByID[o.itemID]; !dup {
			resolution := models.CategoryResolution{ItemID: o.itemID, RealCategory: o.category}
			res.ByID[o.itemID] = o.category
			res.Resolutions = append(res.Resolutions, resolution)
			if resolution.Resolved() {
				res.Resolved++
			} else {
				res.Failed++
			}
		}

		if s.OnProgress != nil {
			s.OnProgress(done, total)
		}
		if s.progressEvery > 0 && done%s.progressEvery == 0 {
			slog.Info("category enrichment progress",
				slog.Int("done", done),
				slog.Int("total", total),
				slog.Int("resolved", res.Resolved),
				slog.Int("failed", res.Failed),
			)
		}
	}

	res.Total = len(res.ByID)
	return res
}

// Package enrich turns item ids into detail-page categories under bounded
// concurrency.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/fetch"
	"github.com/aluiziolira/go-scrape-bestsellers/metrics"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
	"github.com/aluiziolira/go-scrape-bestsellers/parser"
)

// Fetcher downloads one page. *fetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type resolveState int

const (
	stateAttempting resolveState = iota
	stateSucceeded
	stateExhausted
)

// Resolver derives an item's category from its detail page.
type Resolver struct {
	fetcher     Fetcher
	detailURL   func(itemID string) string
	maxAttempts int
	backoff     time.Duration
	cache       *lru.Cache[string, string]
	metrics     *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration)
}

// NewResolver builds a resolver from cfg. m may be nil.
func NewResolver(cfg *config.Config, fetcher Fetcher, m *metrics.Metrics) *Resolver {
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		cache = nil
	}
	return &Resolver{
		fetcher:     fetcher,
		detailURL:   cfg.DetailPageURL,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		cache:       cache,
		metrics:     m,
		sleep:       sleepContext,
	}
}

// Resolve returns the category of itemID, or models.NotAvailable when the
// detail page has no usable breadcrumb or every attempt failed. It never
// fails outward.
func (r *Resolver) Resolve(ctx context.Context, itemID string) (category string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("category resolution panicked",
				slog.String("item_id", itemID),
				slog.Any("panic", rec),
			)
			category = models.NotAvailable
		}
	}()

	if r.cache != nil {
		if cached, ok := r.cache.Get(itemID); ok {
			r.metrics.IncResolution("cached")
			return cached
		}
	}

	url := r.detailURL(itemID)
	state := stateAttempting
	attempt := 1
	for {
		switch state {
		case stateAttempting:
			body, err := r.fetcher.Fetch(ctx, url)
			if err == nil {
				category = r.parse(itemID, body)
				state = stateSucceeded
				continue
			}
			slog.Debug("detail fetch failed",
				slog.String("item_id", itemID),
				slog.Int("attempt", attempt),
				slog.String("category", fetch.Label(err)),
				slog.Any("error", err),
			)
			if attempt >= r.maxAttempts {
				state = stateExhausted
				continue
			}
			r.metrics.IncRetries()
			r.sleep(ctx, time.Duration(attempt)*r.backoff)
			attempt++

		case stateSucceeded:
			if models.UsableCategory(category) {
				if r.cache != nil {
					r.cache.ContainsOrAdd(itemID, category)
				}
				r.metrics.IncResolution("resolved")
			} else {
				r.metrics.IncResolution("unresolved")
			}
			return category

		case stateExhausted:
			r.metrics.IncResolution("exhausted")
			return models.NotAvailable

		default:
			panic(fmt.Sprintf("enrich: unknown resolve state %d", state))
		}
	}
}

func (r *Resolver) parse(itemID, body string) string {
	category, err := parser.DetailCategory(body)
	if err != nil {
		slog.Warn("detail page unparseable",
			slog.String("item_id", itemID),
			slog.Any("error", err),
		)
		return models.NotAvailable
	}
	return category
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Package scraper walks the monthly bestseller listings.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/fetch"
	"github.com/aluiziolira/go-scrape-bestsellers/metrics"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
	"github.com/aluiziolira/go-scrape-bestsellers/parser"
	"github.com/aluiziolira/go-scrape-bestsellers/pipeline"
)

const (
	ctxYear   = "year"
	ctxMonth  = "month"
	ctxStart  = "start"
	ctxRows   = "rows"
	ctxStatus = "status"
)

// Scraper wraps the colly collector that downloads one listing page per month.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	Metrics   *metrics.Metrics

	requestCount int64
	pageCount    int64
	errorCount   int64
	emptyPages   int64
	parseErrors  int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewScraper builds a scraper instance configured from cfg. m may be nil.
func NewScraper(cfg *config.Config, m *metrics.Metrics) (*Scraper, error) {
	parsed, err := url.Parse(cfg.ListingPageURL(cfg.StartYear, 1))
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("listing url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(fetch.NewTransport(cfg.Timeout))

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.PageDelay,
		RandomDelay: cfg.PageJitter,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	return &Scraper{
		cfg:          cfg,
		collector:    collector,
		Metrics:      m,
		errorsByType: make(map[string]int),
	}, nil
}

// WithTransport replaces the HTTP transport of the underlying collector.
func (s *Scraper) WithTransport(rt http.RoundTripper) *Scraper {
	s.collector.WithTransport(rt)
	return s
}

// Run scans every configured month and streams the extracted rows through p.
// A failed page fetch ends the scan of that year; an empty page does not.
// TotalCount reports rows handed to p, before pipeline validation.
func (s *Scraper) Run(ctx context.Context, p *pipeline.Pipeline) (*models.ListingResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.configureHandlers()

	start := time.Now()
	submitted := 0
	var runErr error

years:
	for year := s.cfg.StartYear; year <= s.cfg.EndYear; year++ {
		for month := 1; month <= s.cfg.LastMonth(year); month++ {
			if err := ctx.Err(); err != nil {
				runErr = fmt.Errorf("listing scan interrupted: %w", err)
				break years
			}

			rows, err := s.scanPage(year, month)
			if err != nil {
				slog.Warn("listing fetch failed, skipping rest of year",
					slog.Int("year", year),
					slog.Int("month", month),
					slog.String("category", fetch.Label(err)),
					slog.Any("error", err),
				)
				break
			}
			if len(rows) == 0 {
				atomic.AddInt64(&s.emptyPages, 1)
				slog.Warn("listing page has no items",
					slog.Int("year", year),
					slog.Int("month", month),
				)
				continue
			}

			s.Metrics.AddItems(len(rows))
			if err := p.Process(rows...); err != nil {
				runErr = fmt.Errorf("pipeline process: %w", err)
				break years
			}
			submitted += len(rows)
			slog.Info("listing page scraped",
				slog.Int("year", year),
				slog.Int("month", month),
				slog.Int("rows", len(rows)),
			)
		}
	}

	result := &models.ListingResult{
		StartTime:    start,
		EndTime:      time.Now(),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		ParseErrors:  int(atomic.LoadInt64(&s.parseErrors)),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
		PageCount:    int(atomic.LoadInt64(&s.pageCount)),
		EmptyPages:   int(atomic.LoadInt64(&s.emptyPages)),
		TotalCount:   submitted,
	}
	return result, runErr
}

// scanPage fetches one month and returns its rows or a typed fetch failure.
func (s *Scraper) scanPage(year, month int) ([]models.BestsellerRow, error) {
	pageURL := s.cfg.ListingPageURL(year, month)

	pageCtx := colly.NewContext()
	pageCtx.Put(ctxYear, year)
	pageCtx.Put(ctxMonth, month)

	err := s.collector.Request("GET", pageURL, nil, pageCtx, nil)
	status, _ := pageCtx.GetAny(ctxStatus).(int)
	if failure := fetch.Classify(err, status); failure != nil {
		s.recordFailure(pageURL, failure)
		return nil, failure
	}

	rows, _ := pageCtx.GetAny(ctxRows).([]models.BestsellerRow)
	return rows, nil
}

func (s *Scraper) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put(ctxStart, time.Now())
			current := atomic.AddInt64(&s.requestCount, 1)
			s.Metrics.IncRequest("started")
			slog.Debug("listing request",
				slog.Int64("requests", current),
				slog.String("url", r.URL.String()),
			)
		})

		s.collector.OnResponse(func(r *colly.Response) {
			r.Ctx.Put(ctxStatus, r.StatusCode)
			if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
				s.Metrics.ObserveDuration(time.Since(start))
			}
			atomic.AddInt64(&s.pageCount, 1)

			year, _ := r.Ctx.GetAny(ctxYear).(int)
			month, _ := r.Ctx.GetAny(ctxMonth).(int)
			rows, errs := parser.ExtractListing(string(r.Body), year, month)
			for _, err := range errs {
				slog.Warn("skipping malformed listing item",
					slog.Int("year", year),
					slog.Int("month", month),
					slog.Any("error", err),
				)
			}
			atomic.AddInt64(&s.parseErrors, int64(len(errs)))
			s.Metrics.AddParseErrors(len(errs))
			r.Ctx.Put(ctxRows, rows)
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			if r != nil && r.Ctx != nil {
				r.Ctx.Put(ctxStatus, r.StatusCode)
			}
		})
	})
}

func (s *Scraper) recordFailure(pageURL string, err error) {
	atomic.AddInt64(&s.errorCount, 1)
	label := fetch.Label(err)
	s.Metrics.IncError(label)

	s.mu.Lock()
	s.errorsByType[label]++
	s.failedURLs = append(s.failedURLs, pageURL)
	s.mu.Unlock()
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/fetch"
	"github.com/aluiziolira/go-scrape-bestsellers/metrics"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
	"github.com/jarcoal/httpmock"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	bodies  []string
	errs    []error
	lastURL string
}

func (sf *scriptedFetcher) Fetch(_ context.Context, url string) (string, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	i := sf.calls
	sf.calls++
	sf.lastURL = url
	if i < len(sf.errs) && sf.errs[i] != nil {
		return "", sf.errs[i]
	}
	if i < len(sf.bodies) {
		return sf.bodies[i], nil
	}
	return "", fetch.ErrTransport{Err: errors.New("no scripted response")}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (sr *sleepRecorder) sleep(_ context.Context, d time.Duration) {
	sr.mu.Lock()
	sr.delays = append(sr.delays, d)
	sr.mu.Unlock()
}

func newTestResolver(f Fetcher) (*Resolver, *sleepRecorder) {
	cfg := config.DefaultConfig()
	cfg.DetailURL = "http://example.test/wproduct.aspx?ItemId=%s"
	r := NewResolver(cfg, f, metrics.New())
	rec := &sleepRecorder{}
	r.sleep = rec.sleep
	return r, rec
}

func detailPage(crumbs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ul id="ulCategory"><li>`)
	for _, crumb := range crumbs {
		b.WriteString(`<a href="#">` + crumb + `</a> &gt; `)
	}
	b.WriteString(`</li></ul></body></html>`)
	return b.String()
}

func TestResolveSecondBreadcrumb(t *testing.T) {
	f := &scriptedFetcher{bodies: []string{detailPage("Home", "Fiction", "Novels")}}
	r, _ := newTestResolver(f)

	if got := r.Resolve(context.Background(), "42"); got != "Fiction" {
		t.Fatalf("Resolve() = %q, want Fiction", got)
	}
	if f.lastURL != "http://example.test/wproduct.aspx?ItemId=42" {
		t.Fatalf("url=%q", f.lastURL)
	}
}

func TestResolveRootOnlyIsNotAvailable(t *testing.T) {
	f := &scriptedFetcher{bodies: []string{detailPage("Home")}}
	r, rec := newTestResolver(f)

	if got := r.Resolve(context.Background(), "42"); got != models.NotAvailable {
		t.Fatalf("Resolve() = %q, want N/A", got)
	}
	if f.calls != 1 || len(rec.delays) != 0 {
		t.Fatalf("calls=%d sleeps=%d, a parsed page must not be retried", f.calls, len(rec.delays))
	}
}

func TestResolveRetriesThenGivesUp(t *testing.T) {
	failure := fetch.ErrTimeout{Err: context.DeadlineExceeded}
	f := &scriptedFetcher{errs: []error{failure, failure, failure, failure, failure}}
	r, rec := newTestResolver(f)
	r.maxAttempts = 4
	r.backoff = 2 * time.Second

	if got := r.Resolve(context.Background(), "7"); got != models.NotAvailable {
		t.Fatalf("Resolve() = %q, want N/A", got)
	}
	if f.calls != 4 {
		t.Fatalf("fetch calls = %d, want 4", f.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays=%v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Fatalf("delays=%v, want %v", rec.delays, want)
		}
		if i > 0 && rec.delays[i] <= rec.delays[i-1] {
			t.Fatalf("delay %d (%v) not greater than previous", i, rec.delays[i])
		}
	}
}

func TestResolveRecoversAfterTransientFailure(t *testing.T) {
	f := &scriptedFetcher{
		errs:   []error{fetch.ErrHTTPStatus{Code: 503}, nil},
		bodies: []string{"", detailPage("국내도서", "소설/시/희곡")},
	}
	r, rec := newTestResolver(f)

	if got := r.Resolve(context.Background(), "9"); got != "소설/시/희곡" {
		t.Fatalf("Resolve() = %q", got)
	}
	if f.calls != 2 || len(rec.delays) != 1 {
		t.Fatalf("calls=%d sleeps=%d, want 2/1", f.calls, len(rec.delays))
	}
}

func TestResolveCachesFirstAcceptedResult(t *testing.T) {
	f := &scriptedFetcher{bodies: []string{
		detailPage("Home", "Fiction"),
		detailPage("Home", "Poetry"),
	}}
	r, _ := newTestResolver(f)

	first := r.Resolve(context.Background(), "5")
	second := r.Resolve(context.Background(), "5")
	if first != "Fiction" || second != "Fiction" {
		t.Fatalf("results = %q/%q, want Fiction twice", first, second)
	}
	if f.calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.calls)
	}
}

type panickingFetcher struct{}

func (panickingFetcher) Fetch(context.Context, string) (string, error) {
	panic("boom")
}

func TestResolveNeverPanics(t *testing.T) {
	r, _ := newTestResolver(panickingFetcher{})
	if got := r.Resolve(context.Background(), "1"); got != models.NotAvailable {
		t.Fatalf("Resolve() = %q, want N/A", got)
	}
}

func TestResolveOverHTTP(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DetailURL = "http://example.test/wproduct.aspx?ItemId=%s"
	cfg.RetryBackoff = time.Millisecond

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/wproduct.aspx?ItemId=100",
		httpmock.NewStringResponder(200, detailPage("국내도서", "경제경영", "마케팅")))
	transport.RegisterResponder("GET", "http://example.test/wproduct.aspx?ItemId=200",
		httpmock.NewStringResponder(500, "oops"))

	f := fetch.New(cfg, nil).WithTransport(transport)
	r := NewResolver(cfg, f, nil)

	if got := r.Resolve(context.Background(), "100"); got != "경제경영" {
		t.Fatalf("Resolve(100) = %q", got)
	}
	if got := r.Resolve(context.Background(), "200"); got != models.NotAvailable {
		t.Fatalf("Resolve(200) = %q, want N/A", got)
	}

	info := transport.GetCallCountInfo()
	if got := info["GET http://example.test/wproduct.aspx?ItemId=200"]; got != cfg.MaxAttempts {
		t.Fatalf("failing detail fetched %d times, want %d", got, cfg.MaxAttempts)
	}
}

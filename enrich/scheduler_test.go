package enrich

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
	"github.com/aluiziolira/go-scrape-bestsellers/models"
)

type fakeResolver struct {
	delay    time.Duration
	answers  map[string]string
	panicOn  string
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (fr *fakeResolver) Resolve(_ context.Context, itemID string) string {
	fr.calls.Add(1)
	current := fr.inFlight.Add(1)
	defer fr.inFlight.Add(-1)
	for {
		seen := fr.maxSeen.Load()
		if current <= seen || fr.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}
	if itemID == fr.panicOn {
		panic("resolver exploded")
	}
	time.Sleep(fr.delay)
	if answer, ok := fr.answers[itemID]; ok {
		return answer
	}
	return models.NotAvailable
}

func newTestScheduler(r CategoryResolver) *Scheduler {
	cfg := config.DefaultConfig()
	cfg.PaceMin = 0
	cfg.PaceMax = 0
	return NewScheduler(cfg, r, nil)
}

func TestEnrichReturnsEveryKey(t *testing.T) {
	fr := &fakeResolver{answers: map[string]string{"1": "Fiction", "2": "Essay"}}
	s := newTestScheduler(fr)

	res := s.Enrich(context.Background(), []string{"1", "2", "3"}, 2)

	if len(res.ByID) != 3 || len(res.Resolutions) != 3 || res.Total != 3 {
		t.Fatalf("keys=%d resolutions=%d total=%d, want 3", len(res.ByID), len(res.Resolutions), res.Total)
	}
	want := map[string]string{"1": "Fiction", "2": "Essay", "3": models.NotAvailable}
	for id, category := range want {
		if res.ByID[id] != category {
			t.Fatalf("ByID[%s] = %q, want %q", id, res.ByID[id], category)
		}
	}
	if res.Resolved != 2 || res.Failed != 1 {
		t.Fatalf("resolved=%d failed=%d, want 2/1", res.Resolved, res.Failed)
	}
}

func TestEnrichRespectsConcurrencyCap(t *testing.T) {
	fr := &fakeResolver{delay: 15 * time.Millisecond}
	s := newTestScheduler(fr)

	ids := make([]string, 40)
	for i := range ids {
		ids[i] = fmt.Sprint(i)
	}

	res := s.Enrich(context.Background(), ids, 4)
	if res.Total != len(ids) {
		t.Fatalf("total=%d, want %d", res.Total, len(ids))
	}
	if got := fr.maxSeen.Load(); got > 4 {
		t.Fatalf("max in flight = %d, cap 4", got)
	}
	if got := fr.calls.Load(); got != int32(len(ids)) {
		t.Fatalf("resolver calls = %d, want %d", got, len(ids))
	}
}

func TestEnrichRecordsPanicsAsNotAvailable(t *testing.T) {
	fr := &fakeResolver{answers: map[string]string{"1": "Fiction"}, panicOn: "2"}
	s := newTestScheduler(fr)

	res := s.Enrich(context.Background(), []string{"1", "2"}, 2)

	if res.ByID["2"] != models.NotAvailable {
		t.Fatalf("panicking id = %q, want N/A", res.ByID["2"])
	}
	if _, ok := res.Errors["2"]; !ok {
		t.Fatalf("expected error recorded for id 2")
	}
	if res.ByID["1"] != "Fiction" {
		t.Fatalf("healthy id lost: %q", res.ByID["1"])
	}
}

func TestEnrichDuplicateIDsKeepOneEntry(t *testing.T) {
	fr := &fakeResolver{answers: map[string]string{"1": "Fiction"}}
	s := newTestScheduler(fr)

	res := s.Enrich(context.Background(), []string{"1", "1", "1"}, 3)
	if len(res.Resolutions) != 1 || res.Total != 1 {
		t.Fatalf("resolutions=%d total=%d, want 1", len(res.Resolutions), res.Total)
	}
}

func TestEnrichReportsProgress(t *testing.T) {
	fr := &fakeResolver{}
	s := newTestScheduler(fr)

	var (
		mu    sync.Mutex
		calls []int
	)
	s.OnProgress = func(done, total int) {
		mu.Lock()
		calls = append(calls, done)
		mu.Unlock()
		if total != 5 {
			t.Errorf("total=%d, want 5", total)
		}
	}

	s.Enrich(context.Background(), []string{"a1", "a2", "a3", "a4", "a5"}, 2)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 5 || calls[4] != 5 {
		t.Fatalf("progress calls=%v, want 1..5", calls)
	}
}

func TestEnrichEmptyInput(t *testing.T) {
	s := newTestScheduler(&fakeResolver{})
	res := s.Enrich(context.Background(), nil, 15)
	if res.Total != 0 || len(res.ByID) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestPaceDelayWithinRange(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewScheduler(cfg, &fakeResolver{}, nil)

	for i := 0; i < 200; i++ {
		d := s.paceDelay()
		if d < cfg.PaceMin || d > cfg.PaceMax {
			t.Fatalf("pace delay %v outside [%v, %v]", d, cfg.PaceMin, cfg.PaceMax)
		}
	}
}

func TestEnrichAppliesPacingPerTask(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.PaceMin = 10 * time.Millisecond
	cfg.PaceMax = 20 * time.Millisecond
	s := NewScheduler(cfg, &fakeResolver{}, nil)
	rec := &sleepRecorder{}
	s.sleep = rec.sleep

	s.Enrich(context.Background(), []string{"1", "2", "3"}, 2)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.delays) != 3 {
		t.Fatalf("pacing sleeps = %d, want 3", len(rec.delays))
	}
	for _, d := range rec.delays {
		if d < cfg.PaceMin || d > cfg.PaceMax {
			t.Fatalf("pacing delay %v outside range", d)
		}
	}
}

package detector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	signals map[string][]domain.TradeSignal
	err     map[string]error
	calls   []string
}

func (f *fakeFetcher) FetchPublicTrades(_ context.Context, address string, _ int) ([]domain.TradeSignal, error) {
	f.calls = append(f.calls, address)
	if err := f.err[address]; err != nil {
		return nil, err
	}
	return f.signals[address], nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		ActivityLimit:     100,
		StalenessWindow:   5 * time.Minute,
		DedupTTL:          10 * time.Minute,
		DedupMaxEntries:   1000,
		FanoutThreshold:   10,
		InterAddressDelay: 0,
		QueueSize:         64,
	}
}

func sigAt(tx string, ts time.Time) domain.TradeSignal {
	return domain.TradeSignal{
		TxID:        tx,
		Trader:      "0xabc",
		MarketID:    "cond-1",
		TokenID:     "tok-1",
		Side:        domain.OrderSideBuy,
		NotionalUSD: 100,
		Price:       0.5,
		Timestamp:   ts,
	}
}

func drain(d *Detector) []domain.TradeSignal {
	var out []domain.TradeSignal
	for {
		select {
		case sig := <-d.out:
			out = append(out, sig)
		default:
			return out
		}
	}
}

func TestTickEmitsOldestFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	resume := now.Add(-time.Hour)

	// Feed order is newest first, like the activity API.
	fetcher := &fakeFetcher{signals: map[string][]domain.TradeSignal{
		"0xabc": {
			sigAt("tx3", now.Add(-10*time.Second)),
			sigAt("tx2", now.Add(-20*time.Second)),
			sigAt("tx1", now.Add(-30*time.Second)),
		},
	}}

	d := New(fetcher, clock, discardLogger(), testConfig(), []string{"0xabc"}, resume)
	d.tick(context.Background())

	got := drain(d)
	if len(got) != 3 {
		t.Fatalf("got %d signals, want 3", len(got))
	}
	for i, want := range []string{"tx1", "tx2", "tx3"} {
		if got[i].TxID != want {
			t.Errorf("signal %d: got %s, want %s", i, got[i].TxID, want)
		}
	}
}

func TestTickSortsUnorderedFeed(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}

	// A feed batch with no reliable ordering at all.
	fetcher := &fakeFetcher{signals: map[string][]domain.TradeSignal{
		"0xabc": {
			sigAt("tx2", now.Add(-20*time.Second)),
			sigAt("tx4", now.Add(-5*time.Second)),
			sigAt("tx1", now.Add(-30*time.Second)),
			sigAt("tx3", now.Add(-10*time.Second)),
		},
	}}

	d := New(fetcher, clock, discardLogger(), testConfig(), []string{"0xabc"}, now.Add(-time.Hour))
	d.tick(context.Background())

	got := drain(d)
	if len(got) != 4 {
		t.Fatalf("got %d signals, want 4", len(got))
	}
	for i, want := range []string{"tx1", "tx2", "tx3", "tx4"} {
		if got[i].TxID != want {
			t.Errorf("signal %d: got %s, want %s (dispatch must follow trade time)", i, got[i].TxID, want)
		}
	}
}

func TestTickDeduplicatesAcrossTicks(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}

	fetcher := &fakeFetcher{signals: map[string][]domain.TradeSignal{
		"0xabc": {sigAt("tx1", now.Add(-5*time.Second))},
	}}

	d := New(fetcher, clock, discardLogger(), testConfig(), []string{"0xabc"}, now.Add(-time.Hour))

	d.tick(context.Background())
	clock.now = clock.now.Add(2 * time.Second)
	d.tick(context.Background())
	clock.now = clock.now.Add(2 * time.Second)
	d.tick(context.Background())

	if got := drain(d); len(got) != 1 {
		t.Fatalf("got %d signals, want 1 (duplicates must be suppressed)", len(got))
	}
}

func TestStaleSignalsMarkedButNotEmitted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}

	stale := sigAt("tx-old", now.Add(-10*time.Minute))
	fresh := sigAt("tx-new", now.Add(-10*time.Second))
	fetcher := &fakeFetcher{signals: map[string][]domain.TradeSignal{
		"0xabc": {fresh, stale},
	}}

	d := New(fetcher, clock, discardLogger(), testConfig(), []string{"0xabc"}, now.Add(-time.Hour))
	d.tick(context.Background())

	got := drain(d)
	if len(got) != 1 || got[0].TxID != "tx-new" {
		t.Fatalf("got %v, want only tx-new", got)
	}
	if !d.dedup.Seen("tx-old", clock.now) {
		t.Error("stale signal should still be marked as seen")
	}
}

func TestSignalsAtOrBeforeResumeCursorSkipped(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	resume := now.Add(-time.Minute)

	history := sigAt("tx-hist", resume)                   // exactly at cursor
	older := sigAt("tx-older", resume.Add(-time.Second))  // before cursor
	live := sigAt("tx-live", resume.Add(30*time.Second))  // after cursor

	fetcher := &fakeFetcher{signals: map[string][]domain.TradeSignal{
		"0xabc": {live, history, older},
	}}

	d := New(fetcher, clock, discardLogger(), testConfig(), []string{"0xabc"}, resume)
	d.tick(context.Background())

	got := drain(d)
	if len(got) != 1 || got[0].TxID != "tx-live" {
		t.Fatalf("got %v, want only tx-live", got)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}

	cfg := testConfig()
	cfg.QueueSize = 2

	// Newest first, like the activity API.
	feed := []domain.TradeSignal{
		sigAt("tx4", now.Add(-1*time.Second)),
		sigAt("tx3", now.Add(-2*time.Second)),
		sigAt("tx2", now.Add(-3*time.Second)),
		sigAt("tx1", now.Add(-4*time.Second)),
	}
	fetcher := &fakeFetcher{signals: map[string][]domain.TradeSignal{"0xabc": feed}}

	d := New(fetcher, clock, discardLogger(), cfg, []string{"0xabc"}, now.Add(-time.Hour))
	d.tick(context.Background())

	got := drain(d)
	if len(got) != 2 {
		t.Fatalf("got %d queued signals, want 2", len(got))
	}
	// tx1 and tx2 are oldest and should have been dropped.
	if got[0].TxID != "tx3" || got[1].TxID != "tx4" {
		t.Errorf("got %s,%s; want tx3,tx4 (newest retained)", got[0].TxID, got[1].TxID)
	}
}

func TestPerAddressErrorDoesNotStallOthers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}

	fetcher := &fakeFetcher{
		signals: map[string][]domain.TradeSignal{
			"0xgood": {sigAt("tx1", now.Add(-5*time.Second))},
		},
		err: map[string]error{"0xbad": fmt.Errorf("boom")},
	}

	d := New(fetcher, clock, discardLogger(), testConfig(), []string{"0xbad", "0xgood"}, now.Add(-time.Hour))
	d.tick(context.Background())

	if got := drain(d); len(got) != 1 {
		t.Fatalf("got %d signals, want 1 from the healthy address", len(got))
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("fetcher called %d times, want 2", len(fetcher.calls))
	}
}

func TestCursorAdvancesAndReportsOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	newest := now.Add(-5 * time.Second)

	fetcher := &fakeFetcher{signals: map[string][]domain.TradeSignal{
		"0xabc": {
			sigAt("tx2", newest),
			sigAt("tx1", now.Add(-15*time.Second)),
		},
	}}

	d := New(fetcher, clock, discardLogger(), testConfig(), []string{"0xabc"}, now.Add(-time.Hour))

	var reported []time.Time
	d.OnCursorAdvance(func(ts time.Time) { reported = append(reported, ts) })

	d.tick(context.Background())
	if len(reported) != 1 || !reported[0].Equal(newest) {
		t.Fatalf("cursor reports = %v, want one report of %v", reported, newest)
	}

	// Same feed again: nothing newer, no report.
	clock.now = clock.now.Add(2 * time.Second)
	d.tick(context.Background())
	if len(reported) != 1 {
		t.Errorf("cursor reported again without advancing: %v", reported)
	}
}

func TestDedupCacheTTLAndCap(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dc := NewDedupCache(10*time.Minute, 3, 30*time.Second)

	dc.Mark("a", now)
	if !dc.Seen("a", now.Add(9*time.Minute)) {
		t.Error("entry expired before TTL")
	}
	if dc.Seen("a", now.Add(10*time.Minute)) {
		t.Error("entry survived past TTL")
	}

	// Expired entries are removed by Sweep.
	dc.Sweep(now.Add(11 * time.Minute))
	if dc.Len() != 0 {
		t.Errorf("len = %d after sweep, want 0", dc.Len())
	}

	// Cap eviction drops the oldest entries once they are old enough.
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		dc.Mark(id, now.Add(time.Duration(i)*time.Second))
	}
	dc.Sweep(now.Add(time.Minute))
	if dc.Len() != 3 {
		t.Fatalf("len = %d after cap sweep, want 3", dc.Len())
	}
	for _, id := range []string{"c", "d", "e"} {
		if !dc.Seen(id, now.Add(time.Minute)) {
			t.Errorf("newest entry %s evicted, oldest should go first", id)
		}
	}
}

func TestDedupCacheCapNeverEvictsFreshEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dc := NewDedupCache(10*time.Minute, 5, 30*time.Second)

	// A burst of activity pushes the cache well over its cap.
	for i := 0; i < 10; i++ {
		dc.Mark(fmt.Sprintf("tx-%d", i), now)
	}
	dc.Sweep(now.Add(time.Second))

	// The feed can still serve every one of these as dispatchable, so
	// none may be forgotten yet, cap or not.
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("tx-%d", i)
		if !dc.Seen(id, now.Add(11*time.Second)) {
			t.Errorf("%s evicted seconds after marking; it would be copied twice", id)
		}
	}

	// Once they age past the eviction floor the cap applies again.
	dc.Sweep(now.Add(time.Minute))
	if dc.Len() != 5 {
		t.Errorf("len = %d after entries aged, want cap of 5", dc.Len())
	}
}

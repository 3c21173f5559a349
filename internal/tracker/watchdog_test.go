package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type fakeMarkets struct {
	market  domain.Market
	mktErr  error
	book    domain.OrderBook
	bookErr error
}

func (f *fakeMarkets) GetMarket(context.Context, string) (domain.Market, error) {
	return f.market, f.mktErr
}

func (f *fakeMarkets) GetOrderBook(context.Context, string) (domain.OrderBook, error) {
	return f.book, f.bookErr
}

type fakeSeller struct {
	fill  domain.Fill
	err   error
	calls []float64 // minPrice per call
}

func (f *fakeSeller) SellPosition(_ context.Context, _ domain.ActivePosition, minPrice float64) (domain.Fill, error) {
	f.calls = append(f.calls, minPrice)
	return f.fill, f.err
}

type fakePrices struct {
	bids map[string]float64
	ts   time.Time
}

func (f *fakePrices) SetBid(_ context.Context, tokenID string, price float64, ts time.Time) error {
	f.bids[tokenID] = price
	f.ts = ts
	return nil
}

func (f *fakePrices) GetBid(_ context.Context, tokenID string) (float64, time.Time, error) {
	price, ok := f.bids[tokenID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, f.ts, nil
}

func activeMarket() domain.Market {
	return domain.Market{ID: "cond-1", Status: domain.MarketStatusActive, TickSize: 0.01}
}

func bidBook(price float64) domain.OrderBook {
	return domain.OrderBook{
		TokenID:      "tok",
		Bids:         []domain.PriceLevel{{Price: price, Size: 1000}},
		TickSize:     0.01,
		MinOrderSize: 5,
	}
}

func watchdogFixture(markets *fakeMarkets, seller *fakeSeller, prices domain.PriceCache, threshold float64) (*Watchdog, *Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	tr := New("user-1", clock, discardLogger())
	cfg := WatchdogConfig{
		Interval:      10 * time.Second,
		BidMaxAge:     30 * time.Second,
		TakeProfitPct: threshold,
	}
	var exits []float64
	w := NewWatchdog(tr, markets, seller, prices, clock, discardLogger(), cfg,
		func(_ context.Context, _ domain.ActivePosition, _ domain.Fill, pnl float64) {
			exits = append(exits, pnl)
		})
	return w, tr, clock
}

func TestScanExitsAboveThreshold(t *testing.T) {
	markets := &fakeMarkets{market: activeMarket(), book: bidBook(0.65)}
	seller := &fakeSeller{fill: domain.Fill{Shares: 100, NotionalUSD: 65, AvgPrice: 0.65}}
	w, tr, _ := watchdogFixture(markets, seller, nil, 20)

	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})
	w.Scan(context.Background())

	// 0.50 -> 0.65 is +30%, over the 20% threshold.
	if len(seller.calls) != 1 {
		t.Fatalf("seller called %d times, want 1", len(seller.calls))
	}
	if seller.calls[0] != 0.50 {
		t.Errorf("minPrice = %v, want entry price 0.50", seller.calls[0])
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0 after exit", tr.Len())
	}
}

func TestScanHoldsBelowThreshold(t *testing.T) {
	markets := &fakeMarkets{market: activeMarket(), book: bidBook(0.55)}
	seller := &fakeSeller{}
	w, tr, _ := watchdogFixture(markets, seller, nil, 20)

	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})
	w.Scan(context.Background())

	// +10% gain stays under the 20% threshold.
	if len(seller.calls) != 0 {
		t.Errorf("seller called %d times, want 0", len(seller.calls))
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestScanDisabledAtZeroThreshold(t *testing.T) {
	markets := &fakeMarkets{market: activeMarket(), book: bidBook(0.99)}
	seller := &fakeSeller{}
	w, tr, _ := watchdogFixture(markets, seller, nil, 0)

	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})
	w.Scan(context.Background())

	if len(seller.calls) != 0 {
		t.Errorf("seller called %d times, want 0 when disabled", len(seller.calls))
	}
}

func TestScanDropsClosedMarket(t *testing.T) {
	markets := &fakeMarkets{market: domain.Market{ID: "cond-1", Status: domain.MarketStatusResolved}}
	seller := &fakeSeller{}
	w, tr, _ := watchdogFixture(markets, seller, nil, 20)

	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})
	w.Scan(context.Background())

	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0 (dropped for settlement)", tr.Len())
	}
	if len(seller.calls) != 0 {
		t.Errorf("seller called %d times, want 0", len(seller.calls))
	}
}

func TestScanReopensOnFailedExit(t *testing.T) {
	markets := &fakeMarkets{market: activeMarket(), book: bidBook(0.65)}
	seller := &fakeSeller{err: errors.New("no acceptable bid")}
	w, tr, _ := watchdogFixture(markets, seller, nil, 20)

	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})
	w.Scan(context.Background())

	if len(seller.calls) != 1 {
		t.Fatalf("seller called %d times, want 1", len(seller.calls))
	}
	open := tr.Open()
	if len(open) != 1 || open[0].Status != domain.PositionStatusOpen {
		t.Errorf("position not reopened after failed exit: %+v", open)
	}
}

func TestBestBidPrefersFreshCache(t *testing.T) {
	markets := &fakeMarkets{market: activeMarket(), book: bidBook(0.40)}
	seller := &fakeSeller{fill: domain.Fill{Shares: 100, NotionalUSD: 70, AvgPrice: 0.70}}
	prices := &fakePrices{bids: map[string]float64{"tok": 0.70}}
	w, tr, clock := watchdogFixture(markets, seller, prices, 20)
	prices.ts = clock.now // fresh

	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})
	w.Scan(context.Background())

	// The cached 0.70 bid triggers the exit even though the REST book shows
	// 0.40; the cache is the fast path.
	if len(seller.calls) != 1 {
		t.Errorf("seller called %d times, want 1 via cached bid", len(seller.calls))
	}
}

func TestBestBidFallsBackOnStaleCache(t *testing.T) {
	markets := &fakeMarkets{market: activeMarket(), book: bidBook(0.70)}
	seller := &fakeSeller{fill: domain.Fill{Shares: 100, NotionalUSD: 70, AvgPrice: 0.70}}
	prices := &fakePrices{bids: map[string]float64{"tok": 0.40}}
	w, tr, clock := watchdogFixture(markets, seller, prices, 20)
	prices.ts = clock.now.Add(-5 * time.Minute) // stale

	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})
	w.Scan(context.Background())

	if len(seller.calls) != 1 {
		t.Errorf("seller called %d times, want 1 via REST fallback", len(seller.calls))
	}
}

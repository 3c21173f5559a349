package executor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type fakeBankrolls struct {
	balances  map[string]float64
	positions map[string]float64
	posCalls  int
}

func (f *fakeBankrolls) FetchBalance(_ context.Context, addr string) (float64, error) {
	return f.balances[addr], nil
}

func (f *fakeBankrolls) FetchPositionsValue(_ context.Context, addr string) (float64, error) {
	f.posCalls++
	return f.positions[addr], nil
}

type memBalanceCache struct {
	vals map[string]float64
}

func newMemBalanceCache() *memBalanceCache {
	return &memBalanceCache{vals: make(map[string]float64)}
}

func (m *memBalanceCache) Set(_ context.Context, addr string, usd float64, _ time.Duration) error {
	m.vals[addr] = usd
	return nil
}

func (m *memBalanceCache) Get(_ context.Context, addr string) (float64, bool, error) {
	v, ok := m.vals[addr]
	return v, ok, nil
}

func testBotConfig() domain.BotConfig {
	return domain.BotConfig{
		Multiplier:  1.0,
		MinOrderUSD: 1.0,
	}
}

func sig(trader string, usd float64) domain.TradeSignal {
	return domain.TradeSignal{
		TxID:        "tx",
		Trader:      trader,
		NotionalUSD: usd,
		Side:        domain.OrderSideBuy,
	}
}

func TestSizeProportionalToBankroll(t *testing.T) {
	fetcher := &fakeBankrolls{
		balances:  map[string]float64{"me": 1000},
		positions: map[string]float64{"whale": 10000},
	}
	s := NewSizer(fetcher, newMemBalanceCache(), discardLogger(), "me", 5*time.Minute)

	got, err := s.Size(context.Background(), sig("whale", 500), testBotConfig())
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	// 500 * 1000/(10000+500), floored to a whole number of base units.
	want := domain.FromBaseUnits(domain.ToBaseUnits(500 * 1000 / 10500.0))
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("target = %v, want %v", got, want)
	}
}

func TestSizeMonotonicInTheirTrade(t *testing.T) {
	fetcher := &fakeBankrolls{
		balances:  map[string]float64{"me": 1000},
		positions: map[string]float64{"whale": 10000},
	}
	s := NewSizer(fetcher, newMemBalanceCache(), discardLogger(), "me", 5*time.Minute)

	prev := 0.0
	for _, usd := range []float64{100, 500, 2000, 10000} {
		got, err := s.Size(context.Background(), sig("whale", usd), testBotConfig())
		if err != nil {
			t.Fatalf("Size(%v): %v", usd, err)
		}
		if got <= prev {
			t.Errorf("Size(%v) = %v, not greater than Size for smaller trade %v", usd, got, prev)
		}
		prev = got
	}
}

func TestSizeMultiplierScales(t *testing.T) {
	fetcher := &fakeBankrolls{
		balances:  map[string]float64{"me": 1000},
		positions: map[string]float64{"whale": 10000},
	}
	s := NewSizer(fetcher, newMemBalanceCache(), discardLogger(), "me", 5*time.Minute)

	cfg := testBotConfig()
	base, err := s.Size(context.Background(), sig("whale", 500), cfg)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}

	cfg.Multiplier = 2.0
	doubled, err := s.Size(context.Background(), sig("whale", 500), cfg)
	if err != nil {
		t.Fatalf("Size x2: %v", err)
	}
	if math.Abs(doubled-2*base) > 0.001 {
		t.Errorf("doubled = %v, want about %v", doubled, 2*base)
	}
}

func TestSizeTooSmallSkips(t *testing.T) {
	fetcher := &fakeBankrolls{
		balances:  map[string]float64{"me": 100},
		positions: map[string]float64{"whale": 1_000_000},
	}
	s := NewSizer(fetcher, newMemBalanceCache(), discardLogger(), "me", 5*time.Minute)

	_, err := s.Size(context.Background(), sig("whale", 50), testBotConfig())
	if !errors.Is(err, domain.ErrTooSmall) {
		t.Fatalf("err = %v, want ErrTooSmall", err)
	}
}

func TestSizeInsufficientBalanceSkips(t *testing.T) {
	fetcher := &fakeBankrolls{
		balances:  map[string]float64{"me": 0.5},
		positions: map[string]float64{"whale": 1000},
	}
	s := NewSizer(fetcher, newMemBalanceCache(), discardLogger(), "me", 5*time.Minute)

	_, err := s.Size(context.Background(), sig("whale", 500), testBotConfig())
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestSizeNeverExceedsOwnBalance(t *testing.T) {
	fetcher := &fakeBankrolls{
		balances:  map[string]float64{"me": 50},
		positions: map[string]float64{"tiny": 1}, // near-empty counterparty wallet
	}
	s := NewSizer(fetcher, newMemBalanceCache(), discardLogger(), "me", 5*time.Minute)

	cfg := testBotConfig()
	cfg.Multiplier = 5.0
	got, err := s.Size(context.Background(), sig("tiny", 1000), cfg)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if got > 50 {
		t.Errorf("target = %v exceeds own balance 50", got)
	}
}

func TestSizeUsesBankrollCache(t *testing.T) {
	fetcher := &fakeBankrolls{
		balances:  map[string]float64{"me": 1000},
		positions: map[string]float64{"whale": 10000},
	}
	s := NewSizer(fetcher, newMemBalanceCache(), discardLogger(), "me", 5*time.Minute)

	for i := 0; i < 3; i++ {
		if _, err := s.Size(context.Background(), sig("whale", 500), testBotConfig()); err != nil {
			t.Fatalf("Size #%d: %v", i, err)
		}
	}
	if fetcher.posCalls != 1 {
		t.Errorf("positions fetched %d times, want 1 (cache should serve repeats)", fetcher.posCalls)
	}
}

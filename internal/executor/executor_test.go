package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type fakeExchange struct {
	books      []domain.OrderBook // returned in sequence; last repeats
	bookCalls  int
	orders     []domain.OrderRequest
	results    []domain.OrderResult // returned in sequence; success after exhausted
	reauths    int
	reauthErr  error
}

func (f *fakeExchange) GetOrderBook(_ context.Context, _ string) (domain.OrderBook, error) {
	i := f.bookCalls
	if i >= len(f.books) {
		i = len(f.books) - 1
	}
	f.bookCalls++
	return f.books[i], nil
}

func (f *fakeExchange) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.orders = append(f.orders, req)
	if n := len(f.orders) - 1; n < len(f.results) {
		return f.results[n], nil
	}
	return domain.OrderResult{Success: true, OrderID: "ord", Status: "matched"}, nil
}

func (f *fakeExchange) Reauthenticate(context.Context) error {
	f.reauths++
	return f.reauthErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func book(tokenID string, bids, asks []domain.PriceLevel) domain.OrderBook {
	return domain.OrderBook{
		TokenID:      tokenID,
		Bids:         bids,
		Asks:         asks,
		TickSize:     0.01,
		MinOrderSize: 5,
	}
}

func TestExecuteSweepsAcrossLevels(t *testing.T) {
	ex := &fakeExchange{books: []domain.OrderBook{
		book("tok", nil, []domain.PriceLevel{{Price: 0.50, Size: 100}, {Price: 0.60, Size: 500}}),
		book("tok", nil, []domain.PriceLevel{{Price: 0.60, Size: 500}}),
	}}
	e := New(ex, nil, discardLogger(), 3)

	fill, err := e.Execute(context.Background(), "tok", domain.OrderSideBuy, 100, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if fill.Levels != 2 {
		t.Errorf("levels = %d, want 2", fill.Levels)
	}
	// Level 1: $50 at 0.50 (100 shares). Level 2: remaining $50 at 0.60.
	if math.Abs(fill.Shares-183.33) > 0.001 {
		t.Errorf("shares = %.4f, want 183.33", fill.Shares)
	}
	if fill.NotionalUSD > 100 {
		t.Errorf("filled %.4f, must never exceed target 100", fill.NotionalUSD)
	}
	wantAvg := fill.NotionalUSD / fill.Shares
	if math.Abs(fill.AvgPrice-wantAvg) > 1e-9 {
		t.Errorf("avg price = %v, want %v", fill.AvgPrice, wantAvg)
	}
}

func TestExecuteStopsAfterConsecutiveRejects(t *testing.T) {
	ex := &fakeExchange{
		books: []domain.OrderBook{
			book("tok", nil, []domain.PriceLevel{{Price: 0.50, Size: 100}}),
		},
		results: []domain.OrderResult{
			{Success: false, Message: "rejected"},
			{Success: false, Message: "rejected"},
			{Success: false, Message: "rejected"},
		},
	}
	e := New(ex, nil, discardLogger(), 3)

	fill, err := e.Execute(context.Background(), "tok", domain.OrderSideBuy, 50, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fill.Shares != 0 {
		t.Errorf("shares = %v, want 0", fill.Shares)
	}
	if len(ex.orders) != 3 {
		t.Errorf("submitted %d orders, want exactly 3 (the reject budget)", len(ex.orders))
	}
}

func TestExecuteReauthenticatesOnceOnAuthExpiry(t *testing.T) {
	ex := &fakeExchange{
		books: []domain.OrderBook{
			book("tok", nil, []domain.PriceLevel{{Price: 0.50, Size: 200}}),
		},
		results: []domain.OrderResult{
			{AuthExpired: true, Message: "api key expired"},
		},
	}
	e := New(ex, nil, discardLogger(), 3)

	fill, err := e.Execute(context.Background(), "tok", domain.OrderSideBuy, 50, false)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if ex.reauths != 1 {
		t.Errorf("reauths = %d, want 1", ex.reauths)
	}
	if fill.Shares == 0 {
		t.Error("expected fill after reauth retry")
	}
}

func TestExecuteFailsWhenCredentialsRejectedTwice(t *testing.T) {
	ex := &fakeExchange{
		books: []domain.OrderBook{
			book("tok", nil, []domain.PriceLevel{{Price: 0.50, Size: 200}}),
		},
		results: []domain.OrderResult{
			{AuthExpired: true},
			{AuthExpired: true},
		},
	}
	e := New(ex, nil, discardLogger(), 3)

	_, err := e.Execute(context.Background(), "tok", domain.OrderSideBuy, 50, false)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if ex.reauths != 1 {
		t.Errorf("reauths = %d, want exactly 1", ex.reauths)
	}
}

func TestExecuteEmptyBookReturnsInsufficientLiquidity(t *testing.T) {
	ex := &fakeExchange{books: []domain.OrderBook{book("tok", nil, nil)}}
	e := New(ex, nil, discardLogger(), 3)

	_, err := e.Execute(context.Background(), "tok", domain.OrderSideBuy, 50, false)
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestExecuteBelowExchangeMinimum(t *testing.T) {
	ex := &fakeExchange{books: []domain.OrderBook{
		book("tok", nil, []domain.PriceLevel{{Price: 0.50, Size: 100}}),
	}}
	e := New(ex, nil, discardLogger(), 3)

	// $1.20 buys 2.4 shares, under the exchange minimum of 5.
	_, err := e.Execute(context.Background(), "tok", domain.OrderSideBuy, 1.2, false)
	if !errors.Is(err, domain.ErrBelowMinimum) {
		t.Fatalf("err = %v, want ErrBelowMinimum", err)
	}
	if len(ex.orders) != 0 {
		t.Errorf("submitted %d orders, want 0", len(ex.orders))
	}
}

func TestSellPositionRespectsMinPrice(t *testing.T) {
	ex := &fakeExchange{books: []domain.OrderBook{
		book("tok", []domain.PriceLevel{{Price: 0.80, Size: 50}, {Price: 0.70, Size: 100}}, nil),
		book("tok", []domain.PriceLevel{{Price: 0.70, Size: 100}}, nil),
	}}
	e := New(ex, nil, discardLogger(), 3)

	pos := domain.ActivePosition{ID: "pos-1", TokenID: "tok", Shares: 120, EntryPrice: 0.5}
	fill, err := e.SellPosition(context.Background(), pos, 0.75)
	if err != nil {
		t.Fatalf("SellPosition: %v", err)
	}

	// Only the 0.80 level clears the 0.75 floor.
	if fill.Shares != 50 {
		t.Errorf("shares = %v, want 50", fill.Shares)
	}
	if math.Abs(fill.NotionalUSD-40) > 1e-9 {
		t.Errorf("notional = %v, want 40", fill.NotionalUSD)
	}
}

func TestSellPositionNoAcceptableBid(t *testing.T) {
	ex := &fakeExchange{books: []domain.OrderBook{
		book("tok", []domain.PriceLevel{{Price: 0.60, Size: 100}}, nil),
	}}
	e := New(ex, nil, discardLogger(), 3)

	pos := domain.ActivePosition{ID: "pos-1", TokenID: "tok", Shares: 100}
	_, err := e.SellPosition(context.Background(), pos, 0.75)
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("err = %v, want ErrInsufficientLiquidity", err)
	}
}

func TestTickRounding(t *testing.T) {
	tests := []struct {
		name  string
		fn    func(float64, float64) float64
		price float64
		tick  float64
		want  float64
	}{
		{"floor mid", roundDownToTick, 0.527, 0.01, 0.52},
		{"floor exact", roundDownToTick, 0.52, 0.01, 0.52},
		{"ceil mid", roundUpToTick, 0.521, 0.01, 0.53},
		{"ceil exact", roundUpToTick, 0.53, 0.01, 0.53},
		{"floor fine tick", roundDownToTick, 0.1234, 0.001, 0.123},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.fn(tc.price, tc.tick)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tc.want)
			}
			// Rounding an already-rounded price must not move it.
			again := tc.fn(got, tc.tick)
			if math.Abs(again-got) > 1e-9 {
				t.Errorf("not idempotent: %v -> %v", got, again)
			}
		})
	}
}

func TestClampToTick(t *testing.T) {
	if got := clampToTick(0.005, 0.01); got != 0.01 {
		t.Errorf("low clamp = %v, want 0.01", got)
	}
	if got := clampToTick(0.995, 0.01); math.Abs(got-0.99) > 1e-9 {
		t.Errorf("high clamp = %v, want 0.99", got)
	}
	if got := clampToTick(0.5, 0.01); got != 0.5 {
		t.Errorf("in-range clamp = %v, want 0.5", got)
	}
}

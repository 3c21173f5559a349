package tracker

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestTracker() *Tracker {
	return New("user-1", &fakeClock{now: time.Unix(1_700_000_000, 0)}, discardLogger())
}

func buySignal(tokenID string) domain.TradeSignal {
	return domain.TradeSignal{
		TxID:     "tx-" + tokenID,
		Trader:   "0xwhale",
		MarketID: "cond-1",
		TokenID:  tokenID,
		Outcome:  "Yes",
		Side:     domain.OrderSideBuy,
	}
}

func TestRecordBuyOpensPosition(t *testing.T) {
	tr := newTestTracker()

	pos := tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})

	if pos.ID == "" {
		t.Error("position ID not assigned")
	}
	if pos.Status != domain.PositionStatusOpen {
		t.Errorf("status = %q, want open", pos.Status)
	}
	if pos.EntryPrice != 0.50 || pos.Shares != 100 || pos.SizeUSD != 50 {
		t.Errorf("position = %+v, want entry 0.50, 100 shares, $50", pos)
	}
	if pos.Trader != "0xwhale" {
		t.Errorf("trader = %q, want the signal's counterparty", pos.Trader)
	}
	if got := tr.Len(); got != 1 {
		t.Errorf("Len = %d, want 1", got)
	}
}

func TestRecordBuyAveragesEntryPrice(t *testing.T) {
	tr := newTestTracker()
	sig := buySignal("tok")

	first := tr.RecordBuy(sig, domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})
	second := tr.RecordBuy(sig, domain.Fill{Shares: 100, NotionalUSD: 60, AvgPrice: 0.60})

	if second.ID != first.ID {
		t.Error("second buy opened a new position instead of folding in")
	}
	// (0.50*50 + 0.60*60) / 110
	want := (0.50*50 + 0.60*60) / 110
	if math.Abs(second.EntryPrice-want) > 1e-9 {
		t.Errorf("entry = %v, want %v", second.EntryPrice, want)
	}
	if second.Shares != 200 || math.Abs(second.SizeUSD-110) > 1e-9 {
		t.Errorf("size = %v shares / $%v, want 200 / $110", second.Shares, second.SizeUSD)
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1", tr.Len())
	}
}

func TestRecordSellRealizesPnL(t *testing.T) {
	tr := newTestTracker()
	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})

	pnl, pos, remaining, ok := tr.RecordSell("tok", domain.Fill{Shares: 100, NotionalUSD: 75, AvgPrice: 0.75})
	if !ok {
		t.Fatal("RecordSell reported no tracked position")
	}
	// 50 * (0.75-0.50)/0.50 = 25
	if math.Abs(pnl-25) > 1e-9 {
		t.Errorf("pnl = %v, want 25", pnl)
	}
	if remaining != 0 {
		t.Errorf("remaining = %v, want 0 on a full exit", remaining)
	}
	if pos.Status != domain.PositionStatusClosed {
		t.Errorf("status = %q, want closed", pos.Status)
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0 after close", tr.Len())
	}
}

func TestRecordSellPartialFillScalesPnL(t *testing.T) {
	tr := newTestTracker()
	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})

	// Sell 40 of 100 shares into a 0.75 bid. Only 40% of the position
	// realized, so 40% of the full-exit PnL: 0.4 * 50 * 0.5 = 10.
	pnl, closed, remaining, ok := tr.RecordSell("tok", domain.Fill{Shares: 40, NotionalUSD: 30, AvgPrice: 0.75})
	if !ok {
		t.Fatal("RecordSell reported no tracked position")
	}
	if math.Abs(pnl-10) > 1e-9 {
		t.Errorf("pnl = %v, want 10", pnl)
	}
	if remaining != 60 {
		t.Errorf("remaining = %v, want 60 shares", remaining)
	}
	if closed.Shares != 40 || math.Abs(closed.SizeUSD-20) > 1e-9 {
		t.Errorf("closed slice = %v shares / $%v, want 40 / $20", closed.Shares, closed.SizeUSD)
	}

	open := tr.Open()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want remainder still open", len(open))
	}
	rest := open[0]
	if rest.Shares != 60 || math.Abs(rest.SizeUSD-30) > 1e-9 || rest.EntryPrice != 0.50 {
		t.Errorf("remainder = %+v, want 60 shares, $30, entry 0.50", rest)
	}

	// Closing the rest realizes the other 60%.
	pnl, _, remaining, ok = tr.RecordSell("tok", domain.Fill{Shares: 60, NotionalUSD: 45, AvgPrice: 0.75})
	if !ok || remaining != 0 {
		t.Fatalf("second sell: ok=%v remaining=%v, want full close", ok, remaining)
	}
	if math.Abs(pnl-15) > 1e-9 {
		t.Errorf("pnl = %v, want 15", pnl)
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
}

func TestRecordSellResidualTailCountsAsClosed(t *testing.T) {
	tr := newTestTracker()
	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})

	// A fill within the share increment of the full size is a full exit;
	// the tail could never be sold.
	_, _, remaining, ok := tr.RecordSell("tok", domain.Fill{Shares: 99.995, NotionalUSD: 74.99, AvgPrice: 0.75})
	if !ok || remaining != 0 {
		t.Errorf("ok=%v remaining=%v, want full close", ok, remaining)
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
}

func TestRecordSellWithoutPositionReportsZero(t *testing.T) {
	tr := newTestTracker()

	pnl, _, _, ok := tr.RecordSell("unknown", domain.Fill{Shares: 10, NotionalUSD: 5, AvgPrice: 0.5})
	if ok {
		t.Error("expected ok=false for untracked token")
	}
	if pnl != 0 {
		t.Errorf("pnl = %v, want 0", pnl)
	}
}

func TestMarkClosingHidesFromOpenSet(t *testing.T) {
	tr := newTestTracker()
	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})

	if _, ok := tr.MarkClosing("tok"); !ok {
		t.Fatal("MarkClosing failed on open position")
	}
	if n := len(tr.Open()); n != 0 {
		t.Errorf("Open() returned %d positions, want 0 while closing", n)
	}
	// A second mark must fail; the first closer owns the exit.
	if _, ok := tr.MarkClosing("tok"); ok {
		t.Error("MarkClosing succeeded twice")
	}

	tr.Reopen("tok")
	if n := len(tr.Open()); n != 1 {
		t.Errorf("Open() returned %d positions after Reopen, want 1", n)
	}
}

func TestDropRemovesWithoutPnL(t *testing.T) {
	tr := newTestTracker()
	tr.RecordBuy(buySignal("tok"), domain.Fill{Shares: 100, NotionalUSD: 50, AvgPrice: 0.50})

	tr.Drop("tok")
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0 after Drop", tr.Len())
	}
}

package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/detector"
	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/fees"
)

// fakeAdapter is an in-memory domain.ExchangeAdapter with a scriptable
// balance, one market and one order book.
type fakeAdapter struct {
	mu            sync.Mutex
	balance       float64
	positionValue float64
	trades        []domain.TradeSignal
	market        domain.Market
	book          domain.OrderBook
	orders        []domain.OrderRequest
	cashouts      map[string]int64
	authCalls     int
	approvalCalls int
	authErr       error
	approvalErr   error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		balance:       1000,
		positionValue: 10000,
		cashouts:      make(map[string]int64),
		market:        domain.Market{ID: "cond-1", Status: domain.MarketStatusActive, TickSize: 0.01},
		book: domain.OrderBook{
			TokenID:      "tok",
			Bids:         []domain.PriceLevel{{Price: 0.70, Size: 10000}},
			Asks:         []domain.PriceLevel{{Price: 0.50, Size: 10000}},
			TickSize:     0.01,
			MinOrderSize: 5,
		},
	}
}

func (f *fakeAdapter) Authenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authCalls++
	return f.authErr
}

func (f *fakeAdapter) Reauthenticate(context.Context) error { return f.authErr }

func (f *fakeAdapter) EnsureApprovals(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvalCalls++
	return f.approvalErr
}

func (f *fakeAdapter) FetchBalance(_ context.Context, addr string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeAdapter) FetchPositionsValue(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positionValue, nil
}

func (f *fakeAdapter) FetchPublicTrades(context.Context, string, int) ([]domain.TradeSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades, nil
}

func (f *fakeAdapter) GetMarket(context.Context, string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.market, nil
}

func (f *fakeAdapter) GetOrderBook(context.Context, string) (domain.OrderBook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.book, nil
}

func (f *fakeAdapter) CreateOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return domain.OrderResult{Success: true, OrderID: "ord", Status: "matched"}, nil
}

func (f *fakeAdapter) CancelOrder(context.Context, string) error { return nil }

func (f *fakeAdapter) Cashout(_ context.Context, units int64, dest string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cashouts[dest] += units
	return "0xtx", nil
}

func (f *fakeAdapter) FunderAddress() string { return "0xme" }

func (f *fakeAdapter) setBalance(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = v
}

// --- in-memory stores -------------------------------------------------------

type memStates struct {
	mu     sync.Mutex
	states map[string]domain.BotState
	phases []domain.BotPhase
}

func newMemStates() *memStates { return &memStates{states: make(map[string]domain.BotState)} }

func (m *memStates) Get(_ context.Context, userID string) (domain.BotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[userID]
	if !ok {
		return domain.BotState{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *memStates) Upsert(_ context.Context, state domain.BotState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.UserID] = state
	return nil
}

func (m *memStates) SetRunning(_ context.Context, userID string, running bool, phase domain.BotPhase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[userID]
	s.UserID = userID
	s.IsRunning = running
	s.Phase = phase
	m.states[userID] = s
	m.phases = append(m.phases, phase)
	return nil
}

func (m *memStates) UpdateStats(_ context.Context, userID string, stats domain.BotStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[userID]
	s.Stats = stats
	m.states[userID] = s
	return nil
}

func (m *memStates) UpdateCursor(_ context.Context, userID string, cursor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.states[userID]
	s.ResumeCursor = cursor
	m.states[userID] = s
	return nil
}

func (m *memStates) FindRunning(context.Context) ([]domain.BotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BotState
	for _, s := range m.states {
		if s.IsRunning {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStates) phaseHistory() []domain.BotPhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.BotPhase(nil), m.phases...)
}

type memTrades struct {
	mu     sync.Mutex
	trades []domain.CopyTrade
}

func (m *memTrades) Create(_ context.Context, t domain.CopyTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.trades {
		if existing.UserID == t.UserID && existing.OriginalTxID == t.OriginalTxID {
			return domain.ErrAlreadyExists
		}
	}
	m.trades = append(m.trades, t)
	return nil
}

func (m *memTrades) GetLastExecuted(_ context.Context, userID string) (domain.CopyTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].UserID == userID && m.trades[i].Result == domain.SignalExecuted {
			return m.trades[i], nil
		}
	}
	return domain.CopyTrade{}, domain.ErrNotFound
}

func (m *memTrades) ListByUser(context.Context, string, domain.ListOpts) ([]domain.CopyTrade, error) {
	return nil, nil
}

func (m *memTrades) ListBefore(context.Context, time.Time, int) ([]domain.CopyTrade, error) {
	return nil, nil
}

func (m *memTrades) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memTrades) all() []domain.CopyTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CopyTrade(nil), m.trades...)
}

type memOpLog struct {
	mu     sync.Mutex
	events []string
}

func (m *memOpLog) Log(_ context.Context, _ string, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memOpLog) ListByUser(context.Context, string, domain.ListOpts) ([]domain.OpLogEntry, error) {
	return nil, nil
}

func (m *memOpLog) ListBefore(context.Context, time.Time, int) ([]domain.OpLogEntry, error) {
	return nil, nil
}

func (m *memOpLog) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (m *memOpLog) has(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e == event {
			return true
		}
	}
	return false
}

type memFeeEvents struct {
	mu      sync.Mutex
	created []domain.FeeDistributionEvent
}

func (m *memFeeEvents) Create(_ context.Context, evt domain.FeeDistributionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, evt)
	return nil
}

func (m *memFeeEvents) ListByUser(context.Context, string, domain.ListOpts) ([]domain.FeeDistributionEvent, error) {
	return nil, nil
}

type memSweeps struct{}

func (memSweeps) Create(context.Context, domain.SweepRecord) error { return nil }
func (memSweeps) ListByUser(context.Context, string, domain.ListOpts) ([]domain.SweepRecord, error) {
	return nil, nil
}

type memListings struct {
	listers map[string]string
}

func (m *memListings) ListerOf(_ context.Context, trader string) (string, error) {
	if m.listers == nil {
		return "", domain.ErrNotFound
	}
	lister, ok := m.listers[trader]
	if !ok {
		return "", domain.ErrNotFound
	}
	return lister, nil
}

type memLease struct {
	mu      sync.Mutex
	extends int
	err     error
}

func (l *memLease) Extend(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extends++
	return l.err
}

func (l *memLease) Release() {}

func (l *memLease) extendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.extends
}

type memLocks struct{}

func (memLocks) Acquire(context.Context, string, time.Duration) (domain.LockLease, error) {
	return &memLease{}, nil
}

type memBalances struct {
	mu   sync.Mutex
	vals map[string]float64
}

func newMemBalances() *memBalances { return &memBalances{vals: make(map[string]float64)} }

func (m *memBalances) Set(_ context.Context, addr string, usd float64, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[addr] = usd
	return nil
}

func (m *memBalances) Get(_ context.Context, addr string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[addr]
	return v, ok, nil
}

// --- fixtures ---------------------------------------------------------------

type fixture struct {
	adapter  *fakeAdapter
	states   *memStates
	trades   *memTrades
	oplog    *memOpLog
	feeEvts  *memFeeEvents
	listings *memListings
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngineConfig() Config {
	return Config{
		Detector: detector.Config{
			PollInterval:    10 * time.Millisecond,
			ActivityLimit:   25,
			StalenessWindow: 5 * time.Minute,
			DedupTTL:        10 * time.Minute,
			DedupMaxEntries: 1000,
			FanoutThreshold: 3,
			QueueSize:       16,
		},
		FundingThresholdUSD: 1.0,
		FundingPollInterval: 10 * time.Millisecond,
		WatchdogInterval:    time.Hour,
		SweepInterval:       time.Hour,
		ResumeGraceWindow:   2 * time.Minute,
		CallTimeout:         time.Second,
		BalanceCacheTTL:     5 * time.Minute,
		MaxOrderRejects:     3,
		Fees: fees.Config{
			ListerPct:       0.01,
			PlatformPct:     0.01,
			PlatformAddress: "0xplatform",
			DustUSD:         0.01,
		},
	}
}

func newFixture() *fixture {
	return &fixture{
		adapter:  newFakeAdapter(),
		states:   newMemStates(),
		trades:   &memTrades{},
		oplog:    &memOpLog{},
		feeEvts:  &memFeeEvents{},
		listings: &memListings{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Exchange:  f.adapter,
		States:    f.states,
		Trades:    f.trades,
		OpLog:     f.oplog,
		FeeEvents: f.feeEvts,
		Sweeps:    memSweeps{},
		Listings:  f.listings,
		Locks:     memLocks{},
		Balances:  newMemBalances(),
		Clock:     domain.RealClock{},
	}
}

func testBotConfig() domain.BotConfig {
	return domain.BotConfig{
		WatchedAddresses: []string{"0xwhale"},
		Multiplier:       1.0,
		MinOrderUSD:      1.0,
	}
}

func (f *fixture) engine() *Engine {
	return newEngine("user-1", testBotConfig(), time.Now().Add(-time.Minute), f.deps(), testEngineConfig(), discardLogger())
}

func buySignal(tx string, usd float64) domain.TradeSignal {
	return domain.TradeSignal{
		TxID:        tx,
		Trader:      "0xwhale",
		MarketID:    "cond-1",
		TokenID:     "tok",
		Outcome:     "Yes",
		Side:        domain.OrderSideBuy,
		NotionalUSD: usd,
		Price:       0.50,
		Timestamp:   time.Now(),
	}
}

// --- tests ------------------------------------------------------------------

func TestHandleBuyExecutesAndTracks(t *testing.T) {
	f := newFixture()
	e := f.engine()

	e.handleSignal(context.Background(), buySignal("tx-1", 500))

	trades := f.trades.all()
	if len(trades) != 1 {
		t.Fatalf("persisted %d trades, want 1", len(trades))
	}
	if trades[0].Result != domain.SignalExecuted {
		t.Errorf("result = %q, want executed (skip reason: %s)", trades[0].Result, trades[0].SkipReason)
	}
	if trades[0].FilledUSD <= 0 {
		t.Errorf("filled = %v, want > 0", trades[0].FilledUSD)
	}
	if got := len(e.tracker.Open()); got != 1 {
		t.Errorf("open positions = %d, want 1", got)
	}
	if !f.oplog.has("trade_executed") {
		t.Error("op log missing trade_executed")
	}
	if e.stats.TradeCount != 1 {
		t.Errorf("trade count = %d, want 1", e.stats.TradeCount)
	}
}

func TestHandleBuySkipsWhenSizedTooSmall(t *testing.T) {
	f := newFixture()
	// A tiny trade by a huge bankroll sizes below the $1 minimum.
	f.adapter.positionValue = 10_000_000
	e := f.engine()

	e.handleSignal(context.Background(), buySignal("tx-1", 5))

	trades := f.trades.all()
	if len(trades) != 1 || trades[0].Result != domain.SignalSkipped {
		t.Fatalf("trades = %+v, want one skip record", trades)
	}
	if len(f.adapter.orders) != 0 {
		t.Errorf("orders placed on a skip: %d", len(f.adapter.orders))
	}
	if len(e.tracker.Open()) != 0 {
		t.Error("position opened on a skip")
	}
}

func TestHandleBuySkipsClosedMarket(t *testing.T) {
	f := newFixture()
	f.adapter.market.Status = domain.MarketStatusClosed
	e := f.engine()

	e.handleSignal(context.Background(), buySignal("tx-1", 500))

	trades := f.trades.all()
	if len(trades) != 1 || trades[0].Result != domain.SignalSkipped {
		t.Fatalf("trades = %+v, want one skip record", trades)
	}
}

func TestHandleSellWithoutPositionSkips(t *testing.T) {
	f := newFixture()
	e := f.engine()

	sig := buySignal("tx-1", 500)
	sig.Side = domain.OrderSideSell
	e.handleSignal(context.Background(), sig)

	trades := f.trades.all()
	if len(trades) != 1 || trades[0].Result != domain.SignalSkipped {
		t.Fatalf("trades = %+v, want one skip record", trades)
	}
	if trades[0].SkipReason != "no tracked position" {
		t.Errorf("reason = %q", trades[0].SkipReason)
	}
}

func TestHandleSellClosesAndDistributesFees(t *testing.T) {
	f := newFixture()
	f.listings.listers = map[string]string{"0xwhale": "0xlister"}
	e := f.engine()

	e.handleSignal(context.Background(), buySignal("tx-1", 500))
	if len(e.tracker.Open()) != 1 {
		t.Fatal("setup: buy did not open a position")
	}

	sell := buySignal("tx-2", 500)
	sell.Side = domain.OrderSideSell
	e.handleSignal(context.Background(), sell)

	if len(e.tracker.Open()) != 0 {
		t.Error("position still open after sell signal")
	}

	var closing *domain.CopyTrade
	for _, tr := range f.trades.all() {
		if tr.Side == domain.OrderSideSell {
			closing = &tr
			break
		}
	}
	if closing == nil {
		t.Fatal("no sell trade recorded")
	}
	// Bought at the 0.50 ask, sold into the 0.70 bid.
	if closing.RealizedPnL <= 0 {
		t.Errorf("pnl = %v, want > 0", closing.RealizedPnL)
	}
	if len(f.feeEvts.created) != 1 {
		t.Errorf("fee events = %d, want 1", len(f.feeEvts.created))
	}
	if f.adapter.cashouts["0xlister"] == 0 || f.adapter.cashouts["0xplatform"] == 0 {
		t.Errorf("fee transfers missing: %v", f.adapter.cashouts)
	}
	if !f.oplog.has("position_closed") || !f.oplog.has("fees_paid") {
		t.Error("op log missing close or fee events")
	}
}

func TestWatchdogExitDistributesFees(t *testing.T) {
	f := newFixture()
	f.listings.listers = map[string]string{"0xwhale": "0xlister"}
	e := f.engine()

	e.handleSignal(context.Background(), buySignal("tx-1", 500))
	open := e.tracker.Open()
	if len(open) != 1 {
		t.Fatal("setup: buy did not open a position")
	}

	// The watchdog exits into the 0.75 bid, same shape its Scan produces:
	// sell the tracked size, record it, hand the closed slice over.
	exit := domain.Fill{
		Shares:      open[0].Shares,
		NotionalUSD: open[0].Shares * 0.75,
		AvgPrice:    0.75,
	}
	pnl, closed, _, ok := e.tracker.RecordSell("tok", exit)
	if !ok || pnl <= 0 {
		t.Fatalf("setup: RecordSell ok=%v pnl=%v", ok, pnl)
	}
	e.onWatchdogExit(context.Background(), closed, exit, pnl)

	if len(f.feeEvts.created) != 1 {
		t.Fatalf("fee events = %d, want 1; a take-profit close settles fees like any other exit", len(f.feeEvts.created))
	}
	if f.adapter.cashouts["0xlister"] == 0 || f.adapter.cashouts["0xplatform"] == 0 {
		t.Errorf("fee transfers missing: %v", f.adapter.cashouts)
	}

	var tpTrade *domain.CopyTrade
	for _, tr := range f.trades.all() {
		if tr.Side == domain.OrderSideSell {
			tpTrade = &tr
			break
		}
	}
	if tpTrade == nil {
		t.Fatal("no close trade recorded")
	}
	if tpTrade.OriginalTrader != "0xwhale" {
		t.Errorf("close attributed to %q, want the counterparty whose buy opened it", tpTrade.OriginalTrader)
	}
	if !f.oplog.has("fees_paid") {
		t.Error("op log missing fees_paid")
	}
}

func TestLockRenewalExtendsLease(t *testing.T) {
	f := newFixture()
	e := f.engine()
	lease := &memLease{}

	ctx, cancel := context.WithCancel(context.Background())
	go e.renewLock(ctx, lease, time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && lease.extendCount() < 3 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if got := lease.extendCount(); got < 3 {
		t.Errorf("lease extended %d times, want repeated renewal", got)
	}
}

func TestLockRenewalFailureStopsEngine(t *testing.T) {
	f := newFixture()
	e := f.engine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.cancel = cancel
	lease := &memLease{err: domain.ErrLockHeld}

	done := make(chan struct{})
	go func() {
		e.renewLock(ctx, lease, time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("renewal loop kept running after losing the lock")
	}
	if ctx.Err() == nil {
		t.Error("engine not cancelled after lock loss; two processes could trade one account")
	}
}

func waitForPhase(t *testing.T, e *Engine, want domain.BotPhase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.Phase() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase = %q, never reached %q", e.Phase(), want)
}

func TestRunWaitsForFundingThenRuns(t *testing.T) {
	f := newFixture()
	f.adapter.setBalance(0)
	e := f.engine()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)

	waitForPhase(t, e, domain.PhaseFundingWait)
	if f.adapter.authCalls != 0 {
		t.Error("authenticated while unfunded")
	}

	f.adapter.setBalance(100)
	waitForPhase(t, e, domain.PhaseRunning)
	if f.adapter.approvalCalls != 1 || f.adapter.authCalls != 1 {
		t.Errorf("approvals = %d, auths = %d, want 1 each", f.adapter.approvalCalls, f.adapter.authCalls)
	}

	cancel()
	<-e.done
	if e.Phase() != domain.PhaseStopped {
		t.Errorf("phase = %q after stop, want stopped", e.Phase())
	}
	state, _ := f.states.Get(context.Background(), "user-1")
	if state.IsRunning {
		t.Error("persisted state still running after stop")
	}
}

func TestRunAuthFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.adapter.authErr = errors.New("derive rejected")
	e := f.engine()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.cancel = cancel
	go e.run(ctx)

	<-e.done
	if e.Phase() != domain.PhaseStopped {
		t.Errorf("phase = %q, want stopped after fatal auth error", e.Phase())
	}
	if !f.oplog.has("startup_failed") {
		t.Error("op log missing startup_failed")
	}

	phases := f.states.phaseHistory()
	if len(phases) == 0 || phases[len(phases)-1] != domain.PhaseStopped {
		t.Errorf("phase history = %v, want terminal stopped", phases)
	}
}

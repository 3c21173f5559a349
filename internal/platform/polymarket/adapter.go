package polymarket

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/copybot/internal/crypto"
	"github.com/alanyoungcy/copybot/internal/domain"
)

// Adapter bundles the CLOB, Gamma, Data API, and relayer clients behind the
// domain.ExchangeAdapter interface.
type Adapter struct {
	clob    *ClobClient
	gamma   *GammaClient
	data    *DataClient
	relayer *RelayerClient
	funder  string
}

// AdapterConfig holds the service endpoints and wallet identity for one
// exchange adapter.
type AdapterConfig struct {
	ClobHost      string
	GammaHost     string
	DataHost      string
	RelayerHost   string
	Funder        string // proxy wallet holding the collateral
	SignatureType int
}

// NewAdapter wires the four service clients around a shared signer.
func NewAdapter(cfg AdapterConfig, signer *crypto.Signer) *Adapter {
	return &Adapter{
		clob:    NewClobClient(cfg.ClobHost, signer, cfg.Funder, cfg.SignatureType),
		gamma:   NewGammaClient(cfg.GammaHost),
		data:    NewDataClient(cfg.DataHost),
		relayer: NewRelayerClient(cfg.RelayerHost, cfg.Funder),
		funder:  cfg.Funder,
	}
}

// Authenticate derives API credentials if none are cached yet.
func (a *Adapter) Authenticate(ctx context.Context) error {
	if a.clob.HasCreds() {
		return nil
	}
	return a.clob.DeriveCreds(ctx)
}

// Reauthenticate discards cached credentials and derives fresh ones.
func (a *Adapter) Reauthenticate(ctx context.Context) error {
	a.clob.ResetCreds()
	return a.clob.DeriveCreds(ctx)
}

// EnsureApprovals deploys the proxy wallet and submits token approvals.
// Both steps are idempotent; calling them on an already-prepared wallet
// succeeds quickly.
func (a *Adapter) EnsureApprovals(ctx context.Context) error {
	if err := a.relayer.EnsureDeployed(ctx); err != nil {
		return fmt.Errorf("polymarket: ensure approvals: %w", err)
	}
	if err := a.relayer.EnsureApprovals(ctx); err != nil {
		return fmt.Errorf("polymarket: ensure approvals: %w", err)
	}
	return nil
}

// FetchBalance returns an address's free USDC collateral in USD.
func (a *Adapter) FetchBalance(ctx context.Context, address string) (float64, error) {
	return a.data.FetchBalance(ctx, address)
}

// FetchPositionsValue returns the mark value of an address's open positions.
func (a *Adapter) FetchPositionsValue(ctx context.Context, address string) (float64, error) {
	return a.data.FetchPositionsValue(ctx, address)
}

// FetchPublicTrades returns recent trades from an address's public activity.
func (a *Adapter) FetchPublicTrades(ctx context.Context, address string, limit int) ([]domain.TradeSignal, error) {
	return a.data.FetchPublicTrades(ctx, address, limit)
}

// GetMarket returns market metadata by condition ID.
func (a *Adapter) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	return a.gamma.GetMarket(ctx, marketID)
}

// GetOrderBook returns the live book for an outcome token.
func (a *Adapter) GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	return a.clob.GetOrderBook(ctx, tokenID)
}

// CreateOrder signs and submits one order.
func (a *Adapter) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return a.clob.PostOrder(ctx, req)
}

// CancelOrder cancels an open order by ID.
func (a *Adapter) CancelOrder(ctx context.Context, orderID string) error {
	return a.clob.CancelOrder(ctx, orderID)
}

// Cashout transfers collateral base units out of the proxy wallet via the
// gasless relayer and returns the settlement transaction hash.
func (a *Adapter) Cashout(ctx context.Context, amountUnits int64, dest string) (string, error) {
	return a.relayer.Transfer(ctx, amountUnits, dest)
}

// FunderAddress returns the proxy wallet address holding the collateral.
func (a *Adapter) FunderAddress() string {
	return a.funder
}

// Compile-time interface check.
var _ domain.ExchangeAdapter = (*Adapter)(nil)

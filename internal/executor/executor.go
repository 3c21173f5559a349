package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

const (
	// dustNotionalUSD is the remainder below which a sweep stops; filling
	// the last cents is not worth another order.
	dustNotionalUSD = 1.0

	// shareIncrement is the smallest share quantity the exchange accepts.
	shareIncrement = 0.01

	// orderRateKey and its limit bound order submission across all engines
	// sharing the Redis rate limiter.
	orderRateKey    = "clob:orders"
	orderRateLimit  = 8
	orderRateWindow = time.Second
	rateRetryPause  = 100 * time.Millisecond

	// submitTimeout bounds a detached order submission.
	submitTimeout = 30 * time.Second
)

// Exchange is the slice of the exchange adapter the executor needs.
type Exchange interface {
	GetOrderBook(ctx context.Context, tokenID string) (domain.OrderBook, error)
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	Reauthenticate(ctx context.Context) error
}

// Executor fills a target notional by sweeping order book levels. It never
// posts resting orders: each level is taken at its displayed price, so the
// fill price is exactly what the book showed, slippage included.
type Executor struct {
	exchange   Exchange
	limiter    domain.RateLimiter
	logger     *slog.Logger
	maxRejects int
}

// New creates an Executor. maxRejects bounds consecutive exchange rejections
// before a sweep gives up. limiter may be nil in tests.
func New(exchange Exchange, limiter domain.RateLimiter, logger *slog.Logger, maxRejects int) *Executor {
	return &Executor{
		exchange:   exchange,
		limiter:    limiter,
		logger:     logger.With(slog.String("component", "executor")),
		maxRejects: maxRejects,
	}
}

// Execute fills up to targetUSD of the given token, walking the book level
// by level. BUY consumes asks from the cheapest up; SELL consumes bids from
// the highest down.
//
// A partial fill is a success: the returned Fill reports what actually
// happened. domain.ErrInsufficientLiquidity or domain.ErrBelowMinimum is
// returned only when nothing filled at all.
func (e *Executor) Execute(ctx context.Context, tokenID string, side domain.OrderSide, targetUSD float64, negRisk bool) (domain.Fill, error) {
	var fill domain.Fill
	remaining := targetUSD
	rejects := 0

	for remaining >= dustNotionalUSD && rejects < e.maxRejects {
		if err := ctx.Err(); err != nil {
			return fill, err
		}

		book, err := e.exchange.GetOrderBook(ctx, tokenID)
		if err != nil {
			return fill, fmt.Errorf("executor: fetch book: %w", err)
		}

		req, ok := e.levelOrder(book, side, remaining, negRisk)
		if !ok {
			if fill.Shares == 0 {
				return fill, fmt.Errorf("executor: no fillable level for %s %s: %w",
					side, tokenID, domain.ErrInsufficientLiquidity)
			}
			break
		}
		if req.Shares < book.MinOrderSize {
			if fill.Shares == 0 {
				return fill, fmt.Errorf("executor: %0.2f shares below exchange minimum %0.2f: %w",
					req.Shares, book.MinOrderSize, domain.ErrBelowMinimum)
			}
			break
		}

		result, err := e.submit(ctx, req)
		if err != nil {
			return fill, err
		}
		if !result.Success {
			rejects++
			e.logger.Warn("order rejected",
				slog.String("token", tokenID),
				slog.String("side", string(side)),
				slog.Float64("price", req.Price),
				slog.String("message", result.Message),
				slog.Int("consecutive_rejects", rejects),
			)
			continue
		}

		notional := req.NotionalUSD()
		fill.Shares += req.Shares
		fill.NotionalUSD += notional
		fill.OrderIDs = append(fill.OrderIDs, result.OrderID)
		fill.Levels++
		remaining -= notional
		rejects = 0
	}

	if fill.Shares > 0 {
		fill.AvgPrice = fill.NotionalUSD / fill.Shares
	}
	return fill, nil
}

// SellPosition sells a tracked position's full share size at the best bids,
// ignoring levels priced below minPrice. Used by the take-profit watchdog,
// where minPrice guards against the bid fading between decision and fill.
func (e *Executor) SellPosition(ctx context.Context, pos domain.ActivePosition, minPrice float64) (domain.Fill, error) {
	var fill domain.Fill
	remainingShares := pos.Shares
	rejects := 0

	for remainingShares >= shareIncrement && rejects < e.maxRejects {
		if err := ctx.Err(); err != nil {
			return fill, err
		}

		book, err := e.exchange.GetOrderBook(ctx, pos.TokenID)
		if err != nil {
			return fill, fmt.Errorf("executor: fetch book: %w", err)
		}

		level, ok := book.BestBid()
		if !ok {
			break
		}
		price := clampToTick(roundUpToTick(level.Price, book.TickSize), book.TickSize)
		if price < minPrice {
			break
		}

		shares := floorToIncrement(math.Min(level.Size, remainingShares), shareIncrement)
		if shares < book.MinOrderSize {
			break
		}

		req := domain.OrderRequest{
			TokenID: pos.TokenID,
			Side:    domain.OrderSideSell,
			Price:   price,
			Shares:  shares,
			NegRisk: false,
		}

		result, err := e.submit(ctx, req)
		if err != nil {
			return fill, err
		}
		if !result.Success {
			rejects++
			e.logger.Warn("position sell rejected",
				slog.String("position", pos.ID),
				slog.Float64("price", price),
				slog.String("message", result.Message),
			)
			continue
		}

		fill.Shares += shares
		fill.NotionalUSD += req.NotionalUSD()
		fill.OrderIDs = append(fill.OrderIDs, result.OrderID)
		fill.Levels++
		remainingShares -= shares
		rejects = 0
	}

	if fill.Shares == 0 {
		return fill, fmt.Errorf("executor: no bid at or above %.4f for %s: %w",
			minPrice, pos.TokenID, domain.ErrInsufficientLiquidity)
	}
	fill.AvgPrice = fill.NotionalUSD / fill.Shares
	return fill, nil
}

// levelOrder turns the top opposite level into an order request capped at
// the remaining notional. Returns false when the book side is empty.
func (e *Executor) levelOrder(book domain.OrderBook, side domain.OrderSide, remainingUSD float64, negRisk bool) (domain.OrderRequest, bool) {
	var level domain.PriceLevel
	var ok bool
	var price float64

	switch side {
	case domain.OrderSideBuy:
		level, ok = book.BestAsk()
		if !ok {
			return domain.OrderRequest{}, false
		}
		// Floor toward the taker: a BUY rounded down can only get cheaper.
		price = roundDownToTick(level.Price, book.TickSize)
	default:
		level, ok = book.BestBid()
		if !ok {
			return domain.OrderRequest{}, false
		}
		price = roundUpToTick(level.Price, book.TickSize)
	}
	price = clampToTick(price, book.TickSize)

	notional := math.Min(level.Price*level.Size, remainingUSD)
	shares := floorToIncrement(notional/price, shareIncrement)
	if shares <= 0 {
		return domain.OrderRequest{}, false
	}

	return domain.OrderRequest{
		TokenID: book.TokenID,
		Side:    side,
		Price:   price,
		Shares:  shares,
		NegRisk: negRisk,
	}, true
}

// submit sends one order, honoring the shared rate limit and retrying
// exactly once with fresh credentials when the exchange reports auth expiry.
// The submission itself runs detached from the caller's cancellation: once
// an order leaves for the exchange, aborting the request would leave its
// outcome unknown, so it gets a bounded timeout instead.
func (e *Executor) submit(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := e.waitForRate(ctx); err != nil {
		return domain.OrderResult{}, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	result, err := e.exchange.CreateOrder(ctx, req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: create order: %w", err)
	}
	if !result.AuthExpired {
		return result, nil
	}

	e.logger.Info("credentials expired, re-deriving once")
	if err := e.exchange.Reauthenticate(ctx); err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: reauthenticate: %w", err)
	}

	result, err = e.exchange.CreateOrder(ctx, req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: create order after reauth: %w", err)
	}
	if result.AuthExpired {
		return domain.OrderResult{}, fmt.Errorf("executor: credentials rejected twice: %w", domain.ErrUnauthorized)
	}
	return result, nil
}

func (e *Executor) waitForRate(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	for {
		allowed, err := e.limiter.Allow(ctx, orderRateKey, orderRateLimit, orderRateWindow)
		if err != nil {
			// A broken limiter must not halt trading; log and proceed.
			e.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			return nil
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(rateRetryPause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ---------------------------------------------------------------------------
// Tick and increment arithmetic
// ---------------------------------------------------------------------------

// roundDownToTick floors a price onto the tick grid.
func roundDownToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Floor(price/tick+1e-9) * tick
}

// roundUpToTick ceils a price onto the tick grid.
func roundUpToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Ceil(price/tick-1e-9) * tick
}

// clampToTick keeps a price strictly inside (tick, 1-tick); the exchange
// rejects orders at the probability bounds.
func clampToTick(price, tick float64) float64 {
	if price < tick {
		return tick
	}
	if price > 1-tick {
		return 1 - tick
	}
	return price
}

// floorToIncrement floors a share quantity to the given increment.
func floorToIncrement(shares, inc float64) float64 {
	if inc <= 0 {
		return shares
	}
	return math.Floor(shares/inc+1e-9) * inc
}

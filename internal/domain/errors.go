package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrAlreadyExists        = errors.New("already exists")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrSigningFailed        = errors.New("signing failed")
	ErrLockHeld             = errors.New("lock already held")
	ErrBelowMinimum         = errors.New("below exchange minimum order size")
	ErrTooSmall             = errors.New("sized notional below minimum")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrMarketClosed         = errors.New("market closed")
	ErrAlreadyRunning       = errors.New("bot already running")
	ErrNotRunning           = errors.New("bot not running")
)

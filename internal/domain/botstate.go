package domain

import "time"

// BotPhase is the engine lifecycle state machine.
type BotPhase string

const (
	PhaseStopped        BotPhase = "stopped"
	PhaseFundingWait    BotPhase = "funding_wait"
	PhaseAuthenticating BotPhase = "authenticating"
	PhaseRunning        BotPhase = "running"
)

// BotStats accumulates per-user trading totals across engine restarts.
type BotStats struct {
	TradeCount  int64
	VolumeUSD   float64
	RealizedPnL float64
	FeesPaidUSD float64
}

// BotConfig is the per-user copy-trading configuration.
type BotConfig struct {
	WatchedAddresses []string
	Multiplier       float64 // scale applied to proportional sizing
	MinOrderUSD      float64 // below this the sizer skips
	AutoTakeProfitPct float64 // 0 disables the watchdog exit
	RetentionCapUSD  float64 // balance kept hot; excess is swept
	ColdAddress      string  // sweep destination
	RiskProfile      string  // passed through to the risk analyzer
	FailClosed       bool    // skip trades when the risk analyzer is down
}

// BotState is the externally persisted per-user runtime. The in-process
// engine is a cache of this plus live network clients.
type BotState struct {
	UserID       string
	Wallet       string
	IsRunning    bool
	Phase        BotPhase
	Approved     bool // exchange allowance/approval completed
	Config       BotConfig
	Stats        BotStats
	ResumeCursor time.Time // signals at or before this are history, not live
	UpdatedAt    time.Time
}

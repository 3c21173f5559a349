package risk

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// Gate wraps an optional analyzer with an explicit availability policy. With
// no analyzer configured every trade passes. When the analyzer errors, the
// default is fail-open (copy anyway); a user who sets FailClosed skips the
// trade instead.
type Gate struct {
	analyzer domain.RiskAnalyzer
	logger   *slog.Logger
}

// NewGate creates a Gate. analyzer may be nil to disable risk scoring.
func NewGate(analyzer domain.RiskAnalyzer, logger *slog.Logger) *Gate {
	return &Gate{
		analyzer: analyzer,
		logger:   logger.With(slog.String("component", "risk")),
	}
}

// Evaluate returns the verdict for one sized candidate trade. It never
// returns an error; analyzer failures are resolved by policy.
func (g *Gate) Evaluate(ctx context.Context, sig domain.TradeSignal, sizedUSD float64, cfg domain.BotConfig) domain.RiskVerdict {
	if g.analyzer == nil {
		return domain.RiskVerdict{ShouldCopy: true, Reasoning: "risk scoring disabled"}
	}

	verdict, err := g.analyzer.Analyze(ctx, sig, sizedUSD, cfg.RiskProfile)
	if err == nil {
		return verdict
	}

	g.logger.Warn("risk analyzer unavailable",
		slog.String("tx", sig.TxID),
		slog.Bool("fail_closed", cfg.FailClosed),
		slog.String("error", err.Error()),
	)
	if cfg.FailClosed {
		return domain.RiskVerdict{ShouldCopy: false, Reasoning: "analyzer unavailable, fail-closed policy"}
	}
	return domain.RiskVerdict{ShouldCopy: true, Reasoning: "analyzer unavailable, fail-open policy"}
}

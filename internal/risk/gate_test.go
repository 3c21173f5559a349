package risk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/copybot/internal/domain"
)

type fakeAnalyzer struct {
	verdict domain.RiskVerdict
	err     error
}

func (f *fakeAnalyzer) Analyze(context.Context, domain.TradeSignal, float64, string) (domain.RiskVerdict, error) {
	return f.verdict, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEvaluateNilAnalyzerAlwaysCopies(t *testing.T) {
	g := NewGate(nil, discardLogger())

	v := g.Evaluate(context.Background(), domain.TradeSignal{}, 100, domain.BotConfig{})
	if !v.ShouldCopy {
		t.Error("ShouldCopy = false with no analyzer configured")
	}
}

func TestEvaluatePassesVerdictThrough(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: domain.RiskVerdict{ShouldCopy: false, Reasoning: "too risky", RiskScore: 0.9}}
	g := NewGate(analyzer, discardLogger())

	v := g.Evaluate(context.Background(), domain.TradeSignal{}, 100, domain.BotConfig{})
	if v.ShouldCopy || v.RiskScore != 0.9 {
		t.Errorf("verdict = %+v, want analyzer verdict", v)
	}
}

func TestEvaluateFailOpenByDefault(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("timeout")}
	g := NewGate(analyzer, discardLogger())

	v := g.Evaluate(context.Background(), domain.TradeSignal{}, 100, domain.BotConfig{})
	if !v.ShouldCopy {
		t.Error("ShouldCopy = false, want fail-open copy on analyzer error")
	}
}

func TestEvaluateFailClosedSkips(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("timeout")}
	g := NewGate(analyzer, discardLogger())

	v := g.Evaluate(context.Background(), domain.TradeSignal{}, 100, domain.BotConfig{FailClosed: true})
	if v.ShouldCopy {
		t.Error("ShouldCopy = true, want skip under fail-closed policy")
	}
}

package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

func newTestManager(f *fixture) *Manager {
	return NewManager(f.deps(), testEngineConfig(), discardLogger())
}

func TestManagerStartAndStop(t *testing.T) {
	f := newFixture()
	m := newTestManager(f)
	defer m.Shutdown(context.Background())

	if err := m.Start(context.Background(), "user-1", testBotConfig()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background(), "user-1", testBotConfig()); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second Start err = %v, want ErrAlreadyRunning", err)
	}

	state, _, err := m.Status(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !state.IsRunning {
		t.Error("status reports not running after Start")
	}

	if err := m.Stop(context.Background(), "user-1"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := m.Stop(context.Background(), "user-1"); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("second Stop err = %v, want ErrNotRunning", err)
	}
}

func TestManagerStatusUnknownUser(t *testing.T) {
	f := newFixture()
	m := newTestManager(f)
	defer m.Shutdown(context.Background())

	_, _, err := m.Status(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestManagerRecoverRestartsRunningBots(t *testing.T) {
	f := newFixture()
	// Two users persisted as running, one stopped; only the running ones
	// come back.
	for _, s := range []domain.BotState{
		{UserID: "alice", IsRunning: true, Config: testBotConfig()},
		{UserID: "bob", IsRunning: true, Config: testBotConfig()},
		{UserID: "carol", IsRunning: false, Config: testBotConfig()},
	} {
		if err := f.states.Upsert(context.Background(), s); err != nil {
			t.Fatal(err)
		}
	}

	m := newTestManager(f)
	defer m.Shutdown(context.Background())

	if err := m.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	m.mu.Lock()
	n := len(m.engines)
	_, hasCarol := m.engines["carol"]
	m.mu.Unlock()
	if n != 2 {
		t.Errorf("recovered %d engines, want 2", n)
	}
	if hasCarol {
		t.Error("recovered a stopped user")
	}
}

func TestResumeCursorFromLastTrade(t *testing.T) {
	f := newFixture()
	executed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := f.trades.Create(context.Background(), domain.CopyTrade{
		ID:           "t1",
		UserID:       "user-1",
		OriginalTxID: "tx-1",
		Result:       domain.SignalExecuted,
		ExecutedAt:   executed,
	}); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(f)
	defer m.Shutdown(context.Background())

	got, err := m.resumeCursor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("resumeCursor: %v", err)
	}
	if !got.Equal(executed) {
		t.Errorf("cursor = %v, want %v", got, executed)
	}
}

func TestResumeCursorPrefersNewerPersistedCursor(t *testing.T) {
	f := newFixture()
	executed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	observed := executed.Add(45 * time.Minute) // watched signals after the last copy

	if err := f.trades.Create(context.Background(), domain.CopyTrade{
		ID:           "t1",
		UserID:       "user-1",
		OriginalTxID: "tx-1",
		Result:       domain.SignalExecuted,
		ExecutedAt:   executed,
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.states.Upsert(context.Background(), domain.BotState{UserID: "user-1"}); err != nil {
		t.Fatal(err)
	}
	if err := f.states.UpdateCursor(context.Background(), "user-1", observed); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(f)
	defer m.Shutdown(context.Background())

	got, err := m.resumeCursor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("resumeCursor: %v", err)
	}
	if !got.Equal(observed) {
		t.Errorf("cursor = %v, want persisted detector cursor %v; resuming from the older trade would replay seen signals", got, observed)
	}
}

func TestResumeCursorGraceWindowWithoutHistory(t *testing.T) {
	f := newFixture()
	m := newTestManager(f)
	defer m.Shutdown(context.Background())

	before := time.Now()
	got, err := m.resumeCursor(context.Background(), "fresh-user")
	if err != nil {
		t.Fatalf("resumeCursor: %v", err)
	}

	want := before.Add(-testEngineConfig().ResumeGraceWindow)
	if got.Before(want.Add(-time.Second)) || got.After(time.Now()) {
		t.Errorf("cursor = %v, want about %v", got, want)
	}
}

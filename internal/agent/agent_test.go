package agent_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/agent"
	"github.com/lendloop/invest-engine/internal/fallout"
	"github.com/lendloop/invest-engine/internal/funds"
	"github.com/lendloop/invest-engine/internal/holds"
	"github.com/lendloop/invest-engine/internal/marketdata"
	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/risk"
	"github.com/lendloop/invest-engine/internal/scheduler"
	"github.com/lendloop/invest-engine/internal/shipping"
	"github.com/lendloop/invest-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	manager *agent.Manager
	auth    *risk.Authorizer
	funds   *funds.MemoryLedger
	store   *store.MemoryStore
	source  *marketdata.SimSource
}

func newTestEnv(t *testing.T, volatility float64, withdrawWindow time.Duration) *testEnv {
	t.Helper()
	fl := funds.NewMemoryLedger()
	tracker := shipping.NewMemoryTracker()
	ms := store.NewMemoryStore()
	source := marketdata.NewSimSource(volatility)
	hl := holds.NewLedger(fl, tracker, ms)
	auth := risk.NewAuthorizer(ms, fl, hl, source, risk.NewItemLocks(), nil)
	resolver := fallout.NewResolver(ms, fl, hl, auth, nil)
	sched := scheduler.New(source, nil, scheduler.Config{})
	mgr := agent.NewManager(sched, source, source, resolver, auth, withdrawWindow)

	fl.SetHold("item-1", model.HoldShipping, d(40))
	fl.SetWalletBalance("wallet-borrower", d(100))
	fl.SetWalletBalance("wallet-owner", d(0))

	return &testEnv{manager: mgr, auth: auth, funds: fl, store: ms, source: source}
}

// enableAndStart turns risk mode on for item-1 (40 * 50% = 20 at risk),
// seeds the position, then launches the monitoring agent. The supervisor is
// attached only after the position exists so the first poll cannot race the
// seed.
func (env *testEnv) enableAndStart(t *testing.T, antiCollateral, positionValue float64) *model.RiskConfig {
	t.Helper()
	cfg, err := env.auth.EnableRiskyInvestmentMode(context.Background(), risk.EnableRequest{
		ItemID:           "item-1",
		BorrowerWalletID: "wallet-borrower",
		OwnerWalletID:    "wallet-owner",
		RiskPercentage:   d(50),
		AntiCollateral:   d(antiCollateral),
	})
	if err != nil {
		t.Fatalf("enable failed: %v", err)
	}

	env.source.SetPosition(cfg.InvestmentID, d(positionValue))
	env.auth.AttachSupervisor(env.manager)
	if err := env.manager.StartAgent(context.Background(), cfg.ItemID, cfg.InvestmentID); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	return cfg
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestManager_StartStop(t *testing.T) {
	env := newTestEnv(t, 0.03, time.Second)
	env.source.SetPosition("inv-1", d(20))

	if err := env.manager.StartAgent(context.Background(), "item-1", "inv-1"); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	if env.manager.ActiveCount() != 1 {
		t.Errorf("active count = %d, want 1", env.manager.ActiveCount())
	}
	if _, ok := env.manager.Get("item-1"); !ok {
		t.Error("agent not retrievable after start")
	}

	env.manager.StopAgent("item-1")
	if env.manager.ActiveCount() != 0 {
		t.Errorf("active count = %d after stop, want 0", env.manager.ActiveCount())
	}

	// Stopping again must be a no-op.
	env.manager.StopAgent("item-1")
}

func TestManager_EmergencyFanOut(t *testing.T) {
	env := newTestEnv(t, 0.03, time.Second)
	ctx := context.Background()
	env.source.SetPosition("inv-a", d(10))
	env.source.SetPosition("inv-b", d(10))

	env.manager.StartAgent(ctx, "item-a", "inv-a")
	env.manager.StartAgent(ctx, "item-b", "inv-b")

	notified, woken := env.manager.CoordinateEmergencyProtocols(model.MarketAlert{
		ID:       "alert-1",
		Type:     model.AlertDownturn,
		Severity: model.SeverityLow,
		Message:  "mild dip",
	})
	if notified != 2 {
		t.Errorf("notified = %d, want 2", notified)
	}
	if woken != 0 {
		t.Errorf("woken = %d for a low-severity alert, want 0", woken)
	}

	a, ok := env.manager.Get("item-a")
	if !ok {
		t.Fatal("agent missing")
	}
	if len(a.AlertHistory()) != 1 {
		t.Errorf("alert history = %d entries, want 1", len(a.AlertHistory()))
	}
}

func TestManager_FanOutWithNoAgents(t *testing.T) {
	env := newTestEnv(t, 0.03, time.Second)

	notified, woken := env.manager.CoordinateEmergencyProtocols(model.MarketAlert{
		Type:     model.AlertDownturn,
		Severity: model.SeverityCritical,
	})
	if notified != 0 || woken != 0 {
		t.Errorf("notified/woken = %d/%d, want 0/0", notified, woken)
	}
}

func TestAgent_CriticalDownturnExitsPosition(t *testing.T) {
	// Critical downward market from the start: the agent's first cycle
	// detects descent and exits cleanly, tearing risk mode down.
	env := newTestEnv(t, 0.30, time.Second)
	env.source.SetVolatility(0.30, "downward")

	env.enableAndStart(t, 5.00, 20) // boundary capped at 0.25: 20 * 0.25

	ctx := context.Background()
	eventually(t, 2*time.Second, func() bool {
		_, err := env.store.GetRiskConfig(ctx, "item-1")
		return errors.Is(err, store.ErrNotFound)
	}, "risk mode not torn down after clean exit")

	invs, _ := env.store.ListInvestments(ctx, "item-1")
	if len(invs) != 1 || invs[0].Status != model.InvestmentWithdrawn {
		t.Errorf("investment not withdrawn: %+v", invs)
	}
	recs, _ := env.store.ListFallouts(ctx, "item-1")
	if len(recs) != 0 {
		t.Errorf("fallout recorded despite clean exit: %+v", recs)
	}
}

func TestAgent_FailedWithdrawalTriggersFallout(t *testing.T) {
	env := newTestEnv(t, 0.30, 10*time.Millisecond)
	env.source.SetVolatility(0.30, "downward")
	env.source.WithdrawDelay = 500 * time.Millisecond

	env.enableAndStart(t, 5.00, 20)

	ctx := context.Background()
	eventually(t, 2*time.Second, func() bool {
		recs, _ := env.store.ListFallouts(ctx, "item-1")
		return len(recs) == 1
	}, "no fallout record after failed withdrawal")

	invs, _ := env.store.ListInvestments(ctx, "item-1")
	if len(invs) != 1 || invs[0].Status != model.InvestmentLost {
		t.Errorf("investment not marked lost: %+v", invs)
	}
	if env.funds.RiskModeSet("item-1") {
		t.Error("ledger risk mode still set after fallout")
	}
}

func TestAgent_CalmMarketStaysActive(t *testing.T) {
	env := newTestEnv(t, 0.03, time.Second)

	env.enableAndStart(t, 0.60, 20) // 20 * 0.03

	var a *agent.Agent
	eventually(t, time.Second, func() bool {
		got, ok := env.manager.Get("item-1")
		if ok && got.State() == agent.StateActive {
			a = got
			return true
		}
		return false
	}, "agent did not reach active state")

	// Give it a moment; nothing should resolve in a calm market.
	time.Sleep(50 * time.Millisecond)
	if a.State() != agent.StateActive {
		t.Errorf("agent state = %s, want still active", a.State())
	}
	if _, err := env.store.GetRiskConfig(context.Background(), "item-1"); err != nil {
		t.Error("risk mode dropped in a calm market")
	}
}

func TestAgent_EmergencyAlertWakesLoop(t *testing.T) {
	// Calm at enable time, then the market turns and a critical alert
	// arrives. The agent must act on the wake, not wait out its interval.
	env := newTestEnv(t, 0.03, time.Second)

	env.enableAndStart(t, 0.60, 20)

	eventually(t, time.Second, func() bool {
		a, ok := env.manager.Get("item-1")
		return ok && !a.LastSnapshot().ObservedAt.IsZero()
	}, "agent never completed its first cycle")

	env.source.SetVolatility(0.30, "downward")
	env.manager.CoordinateEmergencyProtocols(model.MarketAlert{
		ID:       "alert-1",
		Type:     model.AlertDownturn,
		Severity: model.SeverityCritical,
		Message:  "market collapse",
	})

	ctx := context.Background()
	eventually(t, 2*time.Second, func() bool {
		_, err := env.store.GetRiskConfig(ctx, "item-1")
		return errors.Is(err, store.ErrNotFound)
	}, "agent did not react to emergency alert")
}

// countingPositions counts position reads so a test can observe how many
// monitoring cycles ran.
type countingPositions struct {
	*marketdata.SimSource
	polls atomic.Int64
}

func (c *countingPositions) PositionValue(ctx context.Context, investmentID string) (decimal.Decimal, error) {
	c.polls.Add(1)
	return c.SimSource.PositionValue(ctx, investmentID)
}

func TestAgent_EmergencyWakeRunsOneCycle(t *testing.T) {
	fl := funds.NewMemoryLedger()
	ms := store.NewMemoryStore()
	source := marketdata.NewSimSource(0.03)
	hl := holds.NewLedger(fl, shipping.NewMemoryTracker(), ms)
	auth := risk.NewAuthorizer(ms, fl, hl, source, risk.NewItemLocks(), nil)
	resolver := fallout.NewResolver(ms, fl, hl, auth, nil)
	sched := scheduler.New(source, nil, scheduler.Config{})
	pos := &countingPositions{SimSource: source}
	mgr := agent.NewManager(sched, pos, source, resolver, auth, time.Second)

	source.SetPosition("inv-1", d(20))
	if err := mgr.StartAgent(context.Background(), "item-1", "inv-1"); err != nil {
		t.Fatalf("start agent: %v", err)
	}
	eventually(t, time.Second, func() bool {
		return pos.polls.Load() == 1
	}, "agent never completed its first cycle")

	// Calm market: the wake polls but finds no descent, so the loop stays
	// alive and the cycle count can be checked.
	mgr.CoordinateEmergencyProtocols(model.MarketAlert{
		ID:       "alert-1",
		Type:     model.AlertDownturn,
		Severity: model.SeverityHigh,
		Message:  "sharp dip",
	})
	eventually(t, time.Second, func() bool {
		return pos.polls.Load() >= 2
	}, "emergency wake did not trigger a poll")

	time.Sleep(50 * time.Millisecond)
	if got := pos.polls.Load(); got != 2 {
		t.Errorf("polls after one wake = %d, want exactly 2", got)
	}
}

func TestAgent_SnapshotTracksDrawdown(t *testing.T) {
	env := newTestEnv(t, 0.03, time.Second)

	env.enableAndStart(t, 0.60, 20)

	var a *agent.Agent
	eventually(t, time.Second, func() bool {
		got, ok := env.manager.Get("item-1")
		if !ok {
			return false
		}
		a = got
		return !a.LastSnapshot().ObservedAt.IsZero()
	}, "agent never completed its first cycle")

	snap := a.LastSnapshot()
	if !snap.PositionValue.Equal(d(20)) || !snap.PeakValue.Equal(d(20)) {
		t.Errorf("snapshot = %+v, want value and peak of 20", snap)
	}
	if snap.Drawdown != 0 || snap.DescentDetected {
		t.Errorf("unexpected descent in calm market: %+v", snap)
	}
}

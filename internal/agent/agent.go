// Package agent runs the per-investment monitoring robots. Each active risk
// position gets one agent goroutine that polls the position at the interval
// published by the adaptive scheduler, watches for descent, and exits the
// position or triggers fallout when the market turns.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/fallout"
	"github.com/lendloop/invest-engine/internal/marketdata"
	"github.com/lendloop/invest-engine/internal/metrics"
	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/risk"
	"github.com/lendloop/invest-engine/internal/scheduler"
)

// Agent lifecycle states.
const (
	StateInactive    = "inactive"
	StateActive      = "active"
	StateResolved    = "resolved"
	StateDeactivated = "deactivated"
)

// DefaultStopLoss is the drawdown fraction from the observed peak at which
// an agent exits the position.
const DefaultStopLoss = 0.15

// alertHistoryCap bounds the per-agent alert buffer.
const alertHistoryCap = 64

// Snapshot is one monitoring cycle's view of a position.
type Snapshot struct {
	ItemID          string          `json:"item_id"`
	InvestmentID    string          `json:"investment_id"`
	PositionValue   decimal.Decimal `json:"position_value"`
	PeakValue       decimal.Decimal `json:"peak_value"`
	Drawdown        float64         `json:"drawdown"`
	RiskLevel       string          `json:"risk_level"`
	DescentDetected bool            `json:"descent_detected"`
	ObservedAt      time.Time       `json:"observed_at"`
}

// Agent monitors one at-risk investment. All fields behind mu are shared
// between the run loop and alert/status callers; everything else is set at
// construction and read-only afterwards.
type Agent struct {
	itemID       string
	investmentID string

	sched     *scheduler.Scheduler
	positions marketdata.PositionSource
	vol       marketdata.VolatilitySource
	resolver  *fallout.Resolver
	auth      *risk.Authorizer

	stopLoss      float64
	withdrawAfter time.Duration

	// emergency wakes the run loop out of its tick wait. Buffered size 1
	// and written with a non-blocking send: one pending wake is enough.
	emergency chan model.MarketAlert

	mu     sync.Mutex
	state  string
	peak   decimal.Decimal
	last   Snapshot
	alerts []model.MarketAlert
}

func newAgent(itemID, investmentID string, sched *scheduler.Scheduler, pos marketdata.PositionSource, vol marketdata.VolatilitySource, res *fallout.Resolver, auth *risk.Authorizer, withdrawAfter time.Duration) *Agent {
	return &Agent{
		itemID:        itemID,
		investmentID:  investmentID,
		sched:         sched,
		positions:     pos,
		vol:           vol,
		resolver:      res,
		auth:          auth,
		stopLoss:      DefaultStopLoss,
		withdrawAfter: withdrawAfter,
		emergency:     make(chan model.MarketAlert, 1),
		state:         StateInactive,
	}
}

// State returns the agent's lifecycle state.
func (a *Agent) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastSnapshot returns the most recent monitoring snapshot.
func (a *Agent) LastSnapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Run drives the monitoring loop until ctx is cancelled or the position is
// resolved. The tick interval is re-read from the scheduler every cycle, so
// tier shifts take effect at the next wakeup without restarting the agent.
func (a *Agent) Run(ctx context.Context) {
	a.setState(StateActive)
	defer func() {
		a.mu.Lock()
		if a.state == StateActive {
			a.state = StateDeactivated
		}
		a.mu.Unlock()
	}()

	timer := time.NewTimer(a.sched.Current().Interval())
	defer timer.Stop()

	// First cycle runs immediately; a position entered during a downturn
	// should not wait a full interval before its first check.
	if done := a.cycle(ctx); done {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-a.emergency:
			slog.Warn("agent emergency wake", "item", a.itemID, "alert", alert.Type, "severity", alert.Severity)
			// Drain the still-armed timer so the Reset below starts a
			// fresh interval instead of racing a pending tick.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
		if done := a.cycle(ctx); done {
			return
		}
		timer.Reset(a.sched.Current().Interval())
	}
}

// cycle runs one monitoring pass. Returns true when the position has been
// resolved and the loop should exit.
func (a *Agent) cycle(ctx context.Context) bool {
	metrics.AgentPolls.Inc()
	a.sched.RecordAPICall()

	snap, err := a.monitorInvestment(ctx)
	if err != nil {
		if errors.Is(err, marketdata.ErrPositionNotFound) {
			// Position gone underneath us, nothing left to monitor.
			a.setState(StateResolved)
			return true
		}
		slog.Warn("agent poll failed", "item", a.itemID, "err", err)
		return false
	}

	if !snap.DescentDetected {
		return false
	}

	slog.Warn("descent detected",
		"item", a.itemID,
		"investment", a.investmentID,
		"drawdown", snap.Drawdown,
		"risk_level", snap.RiskLevel,
	)
	a.AttemptWithdrawal(ctx)
	a.setState(StateResolved)
	return true
}

// monitorInvestment reads the position and the market signal and decides
// whether the position is in descent: either drawdown from peak past the
// stop-loss, or a downward trend at critical market risk.
func (a *Agent) monitorInvestment(ctx context.Context) (Snapshot, error) {
	value, err := a.positions.PositionValue(ctx, a.investmentID)
	if err != nil {
		return Snapshot{}, err
	}
	sig, err := a.vol.Current(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	a.mu.Lock()
	if value.GreaterThan(a.peak) {
		a.peak = value
	}
	peak := a.peak
	a.mu.Unlock()

	drawdown := 0.0
	if peak.IsPositive() {
		drawdown, _ = peak.Sub(value).Div(peak).Float64()
	}

	snap := Snapshot{
		ItemID:        a.itemID,
		InvestmentID:  a.investmentID,
		PositionValue: value,
		PeakValue:     peak,
		Drawdown:      drawdown,
		RiskLevel:     sig.RiskLevel,
		ObservedAt:    time.Now().UTC(),
	}
	snap.DescentDetected = drawdown >= a.stopLoss ||
		(sig.Trend == "downward" && sig.RiskLevel == model.SeverityCritical)

	a.mu.Lock()
	a.last = snap
	a.mu.Unlock()
	return snap, nil
}

// AttemptWithdrawal tries to exit the position within a bounded window. A
// clean exit tears risk mode down with the investment marked withdrawn; a
// timeout means the position could not be salvaged and triggers fallout.
func (a *Agent) AttemptWithdrawal(ctx context.Context) {
	wctx, cancel := context.WithTimeout(ctx, a.withdrawAfter)
	defer cancel()

	recovered, err := a.positions.Withdraw(wctx, a.investmentID)
	switch {
	case err == nil:
		metrics.Withdrawals.WithLabelValues("recovered").Inc()
		slog.Info("position withdrawn", "item", a.itemID, "recovered", recovered.StringFixed(2))
		if derr := a.auth.DisableRiskyInvestmentMode(ctx, a.itemID); derr != nil {
			slog.Error("risk teardown after withdrawal failed", "item", a.itemID, "err", derr)
		}
	case errors.Is(err, marketdata.ErrWithdrawalTimeout) || errors.Is(err, context.DeadlineExceeded):
		metrics.Withdrawals.WithLabelValues("fallout").Inc()
		if _, ferr := a.resolver.Resolve(ctx, a.itemID, decimal.Zero); ferr != nil {
			slog.Error("fallout resolution failed", "item", a.itemID, "err", ferr)
		}
	default:
		metrics.Withdrawals.WithLabelValues("error").Inc()
		slog.Error("withdrawal failed", "item", a.itemID, "err", err)
	}
}

// ProcessMarketAlert records an alert in the bounded history and, for severe
// downturns, wakes the run loop immediately. Never blocks the caller.
// Reports whether an emergency wake was delivered.
func (a *Agent) ProcessMarketAlert(alert model.MarketAlert) bool {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	if len(a.alerts) > alertHistoryCap {
		a.alerts = a.alerts[len(a.alerts)-alertHistoryCap:]
	}
	a.mu.Unlock()

	if alert.Type == model.AlertDownturn &&
		(alert.Severity == model.SeverityHigh || alert.Severity == model.SeverityCritical) {
		select {
		case a.emergency <- alert:
			return true
		default:
		}
	}
	return false
}

// AlertHistory returns a copy of the agent's recent alerts.
func (a *Agent) AlertHistory() []model.MarketAlert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.MarketAlert, len(a.alerts))
	copy(out, a.alerts)
	return out
}

func (a *Agent) setState(s string) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

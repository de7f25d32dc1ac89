package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lendloop/invest-engine/internal/fallout"
	"github.com/lendloop/invest-engine/internal/marketdata"
	"github.com/lendloop/invest-engine/internal/metrics"
	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/risk"
	"github.com/lendloop/invest-engine/internal/scheduler"
)

// DefaultWithdrawWindow bounds how long a withdrawal may take before it is
// treated as failed and fallout begins.
const DefaultWithdrawWindow = 30 * time.Second

// Manager owns the set of running agents, one per item in risky investment
// mode. It implements risk.AgentSupervisor.
type Manager struct {
	sched     *scheduler.Scheduler
	positions marketdata.PositionSource
	vol       marketdata.VolatilitySource
	resolver  *fallout.Resolver
	auth      *risk.Authorizer

	withdrawWindow time.Duration

	mu     sync.Mutex
	agents map[string]*running
}

type running struct {
	agent  *Agent
	cancel context.CancelFunc
}

// NewManager creates an agent manager. Call risk.Authorizer.AttachSupervisor
// with it before enabling any item.
func NewManager(sched *scheduler.Scheduler, pos marketdata.PositionSource, vol marketdata.VolatilitySource, res *fallout.Resolver, auth *risk.Authorizer, withdrawWindow time.Duration) *Manager {
	if withdrawWindow <= 0 {
		withdrawWindow = DefaultWithdrawWindow
	}
	return &Manager{
		sched:          sched,
		positions:      pos,
		vol:            vol,
		resolver:       res,
		auth:           auth,
		withdrawWindow: withdrawWindow,
		agents:         make(map[string]*running),
	}
}

// StartAgent launches a monitoring agent for an item. Starting an item that
// already has an agent replaces it; the old agent's context is cancelled.
// The agent outlives the caller's request, so its run context is detached.
func (m *Manager) StartAgent(_ context.Context, itemID, investmentID string) error {
	m.mu.Lock()
	if old, ok := m.agents[itemID]; ok {
		old.cancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a := newAgent(itemID, investmentID, m.sched, m.positions, m.vol, m.resolver, m.auth, m.withdrawWindow)
	m.agents[itemID] = &running{agent: a, cancel: cancel}
	metrics.AgentsActive.Set(float64(len(m.agents)))
	m.mu.Unlock()

	go a.Run(runCtx)
	slog.Info("monitoring agent started", "item", itemID, "investment", investmentID)
	return nil
}

// StopAgent cancels an item's agent if one is running. It does not wait for
// the goroutine to exit: an agent stopping itself through risk teardown must
// not deadlock here.
func (m *Manager) StopAgent(itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.agents[itemID]
	if !ok {
		return
	}
	r.cancel()
	delete(m.agents, itemID)
	metrics.AgentsActive.Set(float64(len(m.agents)))
	slog.Info("monitoring agent stopped", "item", itemID)
}

// Get returns the running agent for an item, if any.
func (m *Manager) Get(itemID string) (*Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.agents[itemID]
	if !ok {
		return nil, false
	}
	return r.agent, true
}

// ActiveCount reports the number of running agents.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// CoordinateEmergencyProtocols fans a market alert out to every running
// agent. Severe downturns wake each agent's loop immediately instead of
// waiting for its next tick. Returns how many agents were notified and how
// many emergency wakes were delivered.
func (m *Manager) CoordinateEmergencyProtocols(alert model.MarketAlert) (notified, woken int) {
	metrics.MarketAlerts.WithLabelValues(alert.Severity).Inc()

	m.mu.Lock()
	targets := make([]*Agent, 0, len(m.agents))
	for _, r := range m.agents {
		targets = append(targets, r.agent)
	}
	m.mu.Unlock()

	for _, a := range targets {
		if a.ProcessMarketAlert(alert) {
			woken++
		}
	}

	slog.Warn("market alert fanned out",
		"type", alert.Type,
		"severity", alert.Severity,
		"agents_notified", len(targets),
		"emergency_wakes", woken,
	)
	return len(targets), woken
}

// Shutdown cancels every running agent.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for itemID, r := range m.agents {
		r.cancel()
		delete(m.agents, itemID)
	}
	metrics.AgentsActive.Set(0)
}

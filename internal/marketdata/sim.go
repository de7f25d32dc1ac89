package marketdata

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/model"
)

// SimSource implements both VolatilitySource and PositionSource with
// controllable in-memory state. Used for development and testing; in
// production these are separate external services.
type SimSource struct {
	mu         sync.RWMutex
	volatility float64
	trend      string
	positions  map[string]decimal.Decimal
	// WithdrawDelay simulates execution latency; a ctx deadline shorter
	// than this makes every withdrawal time out.
	WithdrawDelay time.Duration
}

// NewSimSource creates a simulated source with the given starting volatility.
func NewSimSource(volatility float64) *SimSource {
	return &SimSource{
		volatility: volatility,
		trend:      "flat",
		positions:  make(map[string]decimal.Decimal),
	}
}

// SetVolatility overrides the current volatility and trend.
func (s *SimSource) SetVolatility(v float64, trend string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volatility = v
	s.trend = trend
}

// Drift applies a small random walk to the volatility, clamped to [0,1].
func (s *SimSource) Drift() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volatility += (rand.Float64() - 0.5) * 0.02
	if s.volatility < 0 {
		s.volatility = 0
	}
	if s.volatility > 1 {
		s.volatility = 1
	}
}

// SetPosition seeds the current value of an investment position.
func (s *SimSource) SetPosition(investmentID string, value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[investmentID] = value
}

func (s *SimSource) Current(_ context.Context) (model.VolatilitySignal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.VolatilitySignal{
		Volatility: s.volatility,
		Trend:      s.trend,
		RiskLevel:  riskLevelFor(s.volatility),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (s *SimSource) PositionValue(_ context.Context, investmentID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.positions[investmentID]
	if !ok {
		return decimal.Zero, ErrPositionNotFound
	}
	return v, nil
}

// Withdraw exits the position after WithdrawDelay, returning its last value.
// The position is removed so repeated withdrawals fail.
func (s *SimSource) Withdraw(ctx context.Context, investmentID string) (decimal.Decimal, error) {
	if s.WithdrawDelay > 0 {
		select {
		case <-time.After(s.WithdrawDelay):
		case <-ctx.Done():
			return decimal.Zero, ErrWithdrawalTimeout
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.positions[investmentID]
	if !ok {
		return decimal.Zero, ErrPositionNotFound
	}
	delete(s.positions, investmentID)
	return v, nil
}

func riskLevelFor(volatility float64) string {
	switch {
	case volatility > 0.25:
		return model.SeverityCritical
	case volatility > 0.15:
		return model.SeverityHigh
	case volatility > 0.05:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Package scheduler implements the volatility-adaptive control loop that
// decides how often monitoring agents and the market-data collector poll.
//
// The tier table is authoritative:
//
//	volatility < 0.05  → low      (240 min)
//	0.05 – 0.20        → high     (configurable, default 45 min)
//	volatility > 0.20  → veryhigh (15 min)
//
// Values sitting exactly on a boundary resolve to the higher-monitoring tier,
// so a volatility reading parked on 0.20 cannot oscillate between tiers.
// Anomalous readings (NaN, negative) fall back to the most conservative tier.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lendloop/invest-engine/internal/marketdata"
	"github.com/lendloop/invest-engine/internal/metrics"
	"github.com/lendloop/invest-engine/internal/model"
)

// Tier is a discretized monitoring-frequency bucket.
type Tier string

// Frequency tiers, from least to most frequent monitoring. TierMedium is a
// legacy value still accepted in adjustment requests; the volatility table
// never produces it.
const (
	TierLow      Tier = "low"
	TierMedium   Tier = "medium"
	TierHigh     Tier = "high"
	TierVeryHigh Tier = "veryhigh"
)

// Volatility thresholds between tiers.
const (
	lowCeiling  = 0.05
	highCeiling = 0.20
)

// Fixed tier intervals in minutes. The high tier is configurable.
const (
	LowIntervalMinutes      = 240
	MediumIntervalMinutes   = 60
	VeryHighIntervalMinutes = 15

	// DefaultHighIntervalMinutes applies when Config leaves the high
	// tier interval unset.
	DefaultHighIntervalMinutes = 45
)

// State is the scheduler's published state. It is owned exclusively by the
// scheduler's single writer and read lock-free by agents via Current.
type State struct {
	Tier             Tier      `json:"currentFrequencyTier"`
	IntervalMinutes  int       `json:"intervalMinutes"`
	Volatility       float64   `json:"volatility"`
	APICallsInWindow int       `json:"apiCallsInWindow"`
	AdjustedAt       time.Time `json:"adjustedAt"`
}

// Interval returns the polling interval as a duration.
func (s *State) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// AdjustmentRequest asks the scheduler to re-evaluate a job's frequency.
type AdjustmentRequest struct {
	JobID             string  `json:"jobId"`
	CurrentVolatility float64 `json:"currentVolatility"`
	CurrentFrequency  Tier    `json:"currentFrequency"`
	APICallsMade      int     `json:"apiCallsMade"`
}

// Adjustment is the outcome of a frequency re-evaluation.
type Adjustment struct {
	PreviousFrequency Tier   `json:"previousFrequency"`
	NewFrequency      Tier   `json:"newFrequency"`
	Reason            string `json:"reason"`
	IntervalMinutes   int    `json:"intervalMinutes"`
}

// Recorder receives scheduler observations for warehousing.
type Recorder interface {
	Record(ctx context.Context, obs model.Observation) error
}

// Config tunes the scheduler.
type Config struct {
	// HighIntervalMinutes is the interval for the high tier.
	HighIntervalMinutes int
	// APICallBudget caps polling API calls per rolling window; an upshift
	// to a more frequent tier is refused while the budget is exhausted.
	APICallBudget int
	// Window is the budget accounting window.
	Window time.Duration
	// PollEvery is the control loop's own volatility sampling cadence.
	PollEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.HighIntervalMinutes <= 0 {
		c.HighIntervalMinutes = DefaultHighIntervalMinutes
	}
	if c.APICallBudget <= 0 {
		c.APICallBudget = 1000
	}
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.PollEvery <= 0 {
		c.PollEvery = time.Minute
	}
	return c
}

// Scheduler is the adaptive control loop. Tier transitions are serialized by
// an internal mutex (single writer); Current is a lock-free atomic read.
type Scheduler struct {
	source   marketdata.VolatilitySource
	recorder Recorder
	cfg      Config

	mu          sync.Mutex
	windowStart time.Time
	calls       atomic.Int64
	state       atomic.Pointer[State]
}

// New creates a scheduler. recorder may be nil to skip warehousing.
// The initial tier is derived from a neutral volatility of zero (low) until
// the first signal arrives.
func New(source marketdata.VolatilitySource, recorder Recorder, cfg Config) *Scheduler {
	s := &Scheduler{
		source:      source,
		recorder:    recorder,
		cfg:         cfg.withDefaults(),
		windowStart: time.Now().UTC(),
	}
	initial := &State{
		Tier:            TierLow,
		IntervalMinutes: LowIntervalMinutes,
		AdjustedAt:      time.Now().UTC(),
	}
	s.state.Store(initial)
	return s
}

// Current returns the latest published state. Safe for concurrent use by any
// number of readers without locking.
func (s *Scheduler) Current() *State {
	return s.state.Load()
}

// RecordAPICall accounts one collaborator API call against the current
// budget window. Called by agents on every poll.
func (s *Scheduler) RecordAPICall() {
	s.calls.Add(1)
}

// TierForVolatility maps a volatility reading to a frequency tier.
// Boundary values resolve to the higher-monitoring tier; anomalous readings
// default to the most conservative tier rather than failing.
func TierForVolatility(v float64) Tier {
	switch {
	case math.IsNaN(v) || v < 0:
		return TierVeryHigh
	case v >= highCeiling:
		return TierVeryHigh
	case v >= lowCeiling:
		return TierHigh
	default:
		return TierLow
	}
}

// IntervalMinutes returns the polling interval for a tier.
func (s *Scheduler) IntervalMinutes(tier Tier) int {
	switch tier {
	case TierLow:
		return LowIntervalMinutes
	case TierMedium:
		return MediumIntervalMinutes
	case TierHigh:
		return s.cfg.HighIntervalMinutes
	default:
		return VeryHighIntervalMinutes
	}
}

// RequestAdjustment re-evaluates the frequency for a transition request and
// publishes the new state. The tier only changes when volatility has crossed
// a threshold; an upshift is held back while the API budget is exhausted,
// until the window resets.
func (s *Scheduler) RequestAdjustment(ctx context.Context, req AdjustmentRequest) Adjustment {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if now.Sub(s.windowStart) >= s.cfg.Window {
		s.windowStart = now
		s.calls.Store(0)
	}

	prev := s.state.Load()
	target := TierForVolatility(req.CurrentVolatility)

	reason := fmt.Sprintf("volatility %.3f maps to %s tier", req.CurrentVolatility, target)
	calls := int(s.calls.Load()) + req.APICallsMade

	if target == prev.Tier {
		reason = "volatility within current tier band"
	} else if moreFrequent(target, prev.Tier) && calls >= s.cfg.APICallBudget {
		// Budget exhausted: hold the current tier until the window resets
		// rather than accelerating polling we cannot afford.
		reason = fmt.Sprintf("rate limit pressure (%d/%d calls): holding %s tier", calls, s.cfg.APICallBudget, prev.Tier)
		target = prev.Tier
	}

	next := &State{
		Tier:             target,
		IntervalMinutes:  s.IntervalMinutes(target),
		Volatility:       req.CurrentVolatility,
		APICallsInWindow: calls,
		AdjustedAt:       now,
	}
	s.state.Store(next)

	if target != prev.Tier {
		metrics.TierShifts.WithLabelValues(string(prev.Tier), string(target)).Inc()
		slog.Info("scheduler tier shift",
			"job", req.JobID,
			"from", prev.Tier,
			"to", target,
			"volatility", req.CurrentVolatility,
			"interval_min", next.IntervalMinutes,
		)
	}
	metrics.PollIntervalMinutes.Set(float64(next.IntervalMinutes))

	adj := Adjustment{
		PreviousFrequency: prev.Tier,
		NewFrequency:      target,
		Reason:            reason,
		IntervalMinutes:   next.IntervalMinutes,
	}

	if s.recorder != nil {
		obs := model.Observation{
			ID:              uuid.New().String(),
			Kind:            model.ObservationScheduler,
			JobID:           req.JobID,
			Volatility:      req.CurrentVolatility,
			Tier:            string(target),
			IntervalMinutes: next.IntervalMinutes,
			APICalls:        calls,
			Reason:          reason,
			Timestamp:       now,
		}
		if err := s.recorder.Record(ctx, obs); err != nil {
			slog.Warn("warehouse record failed", "err", err)
		}
	}

	return adj
}

// Run drives the control loop: it polls the volatility source at the
// configured cadence, re-tunes its own interval, and warehouses each sample.
// Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	sig, err := s.source.Current(ctx)
	if err != nil {
		// Transient collaborator failure: keep the current tier and retry
		// on the next tick.
		slog.Warn("volatility poll failed", "err", err)
		return
	}
	s.RecordAPICall()

	if s.recorder != nil {
		obs := model.Observation{
			ID:         uuid.New().String(),
			Kind:       model.ObservationVolatility,
			Volatility: sig.Volatility,
			Timestamp:  sig.Timestamp,
		}
		if err := s.recorder.Record(ctx, obs); err != nil {
			slog.Warn("warehouse record failed", "err", err)
		}
	}

	s.RequestAdjustment(ctx, AdjustmentRequest{
		JobID:             "volatility-control-loop",
		CurrentVolatility: sig.Volatility,
		CurrentFrequency:  s.Current().Tier,
	})
}

// moreFrequent reports whether tier a polls more often than tier b.
func moreFrequent(a, b Tier) bool {
	return tierRank(a) > tierRank(b)
}

func tierRank(t Tier) int {
	switch t {
	case TierLow:
		return 0
	case TierMedium:
		return 1
	case TierHigh:
		return 2
	case TierVeryHigh:
		return 3
	default:
		return 3
	}
}

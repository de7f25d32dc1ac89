// Package warehouse accumulates volatility samples and scheduler outcomes.
// The data tunes the adaptive scheduler and is exported for observability;
// no model training happens here, the warehouse only collects.
package warehouse

import (
	"context"
	"fmt"

	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/store"
)

// Warehouse persists observations through the engine store.
type Warehouse struct {
	store store.Store
}

// New creates a warehouse over the given store.
func New(st store.Store) *Warehouse {
	return &Warehouse{store: st}
}

// Record appends one observation.
func (w *Warehouse) Record(ctx context.Context, obs model.Observation) error {
	if err := w.store.AppendObservation(ctx, &obs); err != nil {
		return fmt.Errorf("warehouse record: %w", err)
	}
	return nil
}

// Recent returns the most recent observations, newest first.
func (w *Warehouse) Recent(ctx context.Context, limit int) ([]model.Observation, error) {
	return w.store.ListObservations(ctx, limit)
}

// Summary aggregates recent observations for the metrics query surface.
type Summary struct {
	TotalSamples      int                `json:"total_samples"`
	VolatilitySamples int                `json:"volatility_samples"`
	SchedulerSamples  int                `json:"scheduler_samples"`
	AvgVolatility     float64            `json:"avg_volatility"`
	TierCounts        map[string]int     `json:"tier_counts"`
	LastAdjustment    *model.Observation `json:"last_adjustment,omitempty"`
}

// Summarize computes a summary over the most recent observations (up to the
// given window size; 500 when non-positive).
func (w *Warehouse) Summarize(ctx context.Context, window int) (Summary, error) {
	if window <= 0 {
		window = 500
	}

	observations, err := w.store.ListObservations(ctx, window)
	if err != nil {
		return Summary{}, fmt.Errorf("warehouse summarize: %w", err)
	}

	sum := Summary{TierCounts: make(map[string]int)}
	var volTotal float64

	for i := range observations {
		obs := observations[i]
		sum.TotalSamples++

		switch obs.Kind {
		case model.ObservationVolatility:
			sum.VolatilitySamples++
			volTotal += obs.Volatility
		case model.ObservationScheduler:
			sum.SchedulerSamples++
			sum.TierCounts[obs.Tier]++
			if sum.LastAdjustment == nil {
				// Observations arrive newest first.
				o := obs
				sum.LastAdjustment = &o
			}
		}
	}

	if sum.VolatilitySamples > 0 {
		sum.AvgVolatility = volTotal / float64(sum.VolatilitySamples)
	}
	return sum, nil
}

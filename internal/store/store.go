// Package store defines the persistence interface for the investment engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/lendloop/invest-engine/internal/model"
)

// ErrNotFound is returned for lookups of absent records.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Risk configurations (at most one per item) ---

	// CreateRiskConfig persists a new risk configuration. Fails if one
	// already exists for the item.
	CreateRiskConfig(ctx context.Context, cfg *model.RiskConfig) error

	// GetRiskConfig retrieves the active risk configuration for an item.
	// Returns ErrNotFound when risk mode is not enabled.
	GetRiskConfig(ctx context.Context, itemID string) (*model.RiskConfig, error)

	// DeleteRiskConfig removes the risk configuration. Deleting an absent
	// config is a no-op.
	DeleteRiskConfig(ctx context.Context, itemID string) error

	// --- Investments ---

	// CreateInvestment records funds put to work from a hold bucket.
	CreateInvestment(ctx context.Context, inv *model.Investment) error

	// ListInvestments returns all investments for an item.
	ListInvestments(ctx context.Context, itemID string) ([]model.Investment, error)

	// UpdateInvestmentStatus moves an investment between lifecycle states.
	UpdateInvestmentStatus(ctx context.Context, id, status string) error

	// --- Immutable fallout history ---

	// AppendFallout appends an immutable fallout settlement record.
	AppendFallout(ctx context.Context, rec *model.FalloutRecord) error

	// ListFallouts returns all fallout records for an item.
	ListFallouts(ctx context.Context, itemID string) ([]model.FalloutRecord, error)

	// --- Warehouse observations ---

	// AppendObservation stores a volatility sample or scheduler outcome.
	AppendObservation(ctx context.Context, obs *model.Observation) error

	// ListObservations returns the most recent observations, newest first.
	ListObservations(ctx context.Context, limit int) ([]model.Observation, error)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lendloop/invest-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for risk configurations and investment lists. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary.
//
// Risk-mode mutations and fallout must not act on stale state, so the risk
// and fallout paths re-read through the primary anyway; the cache serves the
// high-volume status/display reads.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateRiskConfig(ctx context.Context, cfg *model.RiskConfig) error {
	if err := s.primary.CreateRiskConfig(ctx, cfg); err != nil {
		return err
	}
	s.cacheRiskConfig(ctx, cfg)
	return nil
}

func (s *CachedStore) DeleteRiskConfig(ctx context.Context, itemID string) error {
	if err := s.primary.DeleteRiskConfig(ctx, itemID); err != nil {
		return err
	}
	s.rdb.Del(ctx, riskKey(itemID))
	return nil
}

func (s *CachedStore) CreateInvestment(ctx context.Context, inv *model.Investment) error {
	if err := s.primary.CreateInvestment(ctx, inv); err != nil {
		return err
	}
	s.rdb.Del(ctx, investmentsKey(inv.ItemID))
	return nil
}

func (s *CachedStore) UpdateInvestmentStatus(ctx context.Context, id, status string) error {
	if err := s.primary.UpdateInvestmentStatus(ctx, id, status); err != nil {
		return err
	}
	// The item is unknown here; investment lists carry a short TTL instead
	// of precise invalidation.
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRiskConfig(ctx context.Context, itemID string) (*model.RiskConfig, error) {
	data, err := s.rdb.Get(ctx, riskKey(itemID)).Bytes()
	if err == nil {
		var cfg model.RiskConfig
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	// Cache miss: read from primary.
	cfg, err := s.primary.GetRiskConfig(ctx, itemID)
	if err != nil {
		return nil, err
	}

	s.cacheRiskConfig(ctx, cfg)
	return cfg, nil
}

func (s *CachedStore) ListInvestments(ctx context.Context, itemID string) ([]model.Investment, error) {
	data, err := s.rdb.Get(ctx, investmentsKey(itemID)).Bytes()
	if err == nil {
		var investments []model.Investment
		if json.Unmarshal(data, &investments) == nil {
			return investments, nil
		}
	}

	investments, err := s.primary.ListInvestments(ctx, itemID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(investments); err == nil {
		s.rdb.Set(ctx, investmentsKey(itemID), data, s.ttl)
	}
	return investments, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) AppendFallout(ctx context.Context, rec *model.FalloutRecord) error {
	return s.primary.AppendFallout(ctx, rec)
}

func (s *CachedStore) ListFallouts(ctx context.Context, itemID string) ([]model.FalloutRecord, error) {
	return s.primary.ListFallouts(ctx, itemID)
}

func (s *CachedStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	return s.primary.AppendObservation(ctx, obs)
}

func (s *CachedStore) ListObservations(ctx context.Context, limit int) ([]model.Observation, error) {
	return s.primary.ListObservations(ctx, limit)
}

// --- Cache helpers ---

func (s *CachedStore) cacheRiskConfig(ctx context.Context, cfg *model.RiskConfig) {
	if data, err := json.Marshal(cfg); err == nil {
		s.rdb.Set(ctx, riskKey(cfg.ItemID), data, s.ttl)
	}
}

func riskKey(itemID string) string        { return fmt.Sprintf("risk:%s", itemID) }
func investmentsKey(itemID string) string { return fmt.Sprintf("investments:%s", itemID) }

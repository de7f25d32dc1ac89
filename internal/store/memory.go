package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/lendloop/invest-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	riskConfigs  map[string]*model.RiskConfig
	investments  map[string]*model.Investment
	fallouts     []model.FalloutRecord
	observations []model.Observation
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		riskConfigs: make(map[string]*model.RiskConfig),
		investments: make(map[string]*model.Investment),
	}
}

func (s *MemoryStore) CreateRiskConfig(_ context.Context, cfg *model.RiskConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.riskConfigs[cfg.ItemID]; exists {
		return fmt.Errorf("risk config for item %s already exists", cfg.ItemID)
	}

	// Store a copy to avoid external mutation.
	copy := *cfg
	s.riskConfigs[cfg.ItemID] = &copy
	return nil
}

func (s *MemoryStore) GetRiskConfig(_ context.Context, itemID string) (*model.RiskConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.riskConfigs[itemID]
	if !ok {
		return nil, fmt.Errorf("risk config for item %s: %w", itemID, ErrNotFound)
	}
	copy := *cfg
	return &copy, nil
}

func (s *MemoryStore) DeleteRiskConfig(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.riskConfigs, itemID)
	return nil
}

func (s *MemoryStore) CreateInvestment(_ context.Context, inv *model.Investment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *inv
	s.investments[inv.ID] = &copy
	return nil
}

func (s *MemoryStore) ListInvestments(_ context.Context, itemID string) ([]model.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Investment
	for _, inv := range s.investments {
		if inv.ItemID == itemID {
			result = append(result, *inv)
		}
	}
	return result, nil
}

func (s *MemoryStore) UpdateInvestmentStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.investments[id]
	if !ok {
		return fmt.Errorf("investment %s: %w", id, ErrNotFound)
	}
	inv.Status = status
	return nil
}

func (s *MemoryStore) AppendFallout(_ context.Context, rec *model.FalloutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fallouts = append(s.fallouts, *rec)
	return nil
}

func (s *MemoryStore) ListFallouts(_ context.Context, itemID string) ([]model.FalloutRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.FalloutRecord
	for _, rec := range s.fallouts {
		if rec.ItemID == itemID {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (s *MemoryStore) AppendObservation(_ context.Context, obs *model.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observations = append(s.observations, *obs)
	return nil
}

func (s *MemoryStore) ListObservations(_ context.Context, limit int) ([]model.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.observations)
	if limit <= 0 || limit > n {
		limit = n
	}

	// Newest first.
	result := make([]model.Observation, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		result = append(result, s.observations[i])
	}
	return result, nil
}

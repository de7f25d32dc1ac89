// Package shipping defines the engine's contract with the external
// shipping-status tracker. The engine only cares about the binary "has the
// item shipped yet" transition that makes the insurance hold investable.
package shipping

import (
	"context"
	"sync"

	"github.com/lendloop/invest-engine/internal/model"
)

// Status is the tracker's view of one item.
type Status struct {
	ItemID           string           `json:"item_id"`
	Status           string           `json:"status"` // not_shipped | shipped | delivered
	InvestmentStatus InvestmentStatus `json:"investment_status"`
}

// InvestmentStatus is the tracker's derived investability view.
type InvestmentStatus struct {
	InsuranceHoldInvestable bool `json:"insuranceHoldInvestable"`
	TotalInvestableHolds    int  `json:"totalInvestableHolds"`
}

// Shipped reports whether the item has left the sender.
func (s Status) Shipped() bool {
	return s.Status == model.ShippingShipped || s.Status == model.ShippingDelivered
}

// Tracker reports shipping status for items.
type Tracker interface {
	Status(ctx context.Context, itemID string) (Status, error)
}

// MemoryTracker implements Tracker with an in-memory status map. Items with
// no recorded status report not_shipped.
type MemoryTracker struct {
	mu       sync.RWMutex
	statuses map[string]string
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{statuses: make(map[string]string)}
}

// SetStatus records the shipping status for an item.
func (t *MemoryTracker) SetStatus(itemID, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statuses[itemID] = status
}

func (t *MemoryTracker) Status(_ context.Context, itemID string) (Status, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	status, ok := t.statuses[itemID]
	if !ok {
		status = model.ShippingNotShipped
	}

	st := Status{ItemID: itemID, Status: status}
	st.InvestmentStatus.InsuranceHoldInvestable = st.Shipped()
	st.InvestmentStatus.TotalInvestableHolds = 1 // additional is always investable
	if st.Shipped() {
		st.InvestmentStatus.TotalInvestableHolds = 2
	}
	return st, nil
}

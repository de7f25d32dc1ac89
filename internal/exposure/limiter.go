// Package exposure enforces limits on concurrent at-risk capital.
//
// A borrower enabling risky investment mode on twenty items has correlated
// risk: one market downturn hits every position at once. This package caps
// both the amount at risk on any single item and the aggregate amount at
// risk across all of one borrower's items.
package exposure

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrItemLimitExceeded is returned when a single item's amount at risk
	// would exceed the per-item maximum.
	ErrItemLimitExceeded = errors.New("exposure: per-item amount at risk limit exceeded")

	// ErrWalletLimitExceeded is returned when a borrower's aggregate amount
	// at risk across all items would exceed the per-wallet maximum.
	ErrWalletLimitExceeded = errors.New("exposure: aggregate wallet exposure limit exceeded")
)

// Limiter tracks reserved at-risk amounts per item and enforces the limits.
// Reservations are made when risk mode is enabled and released on teardown,
// whichever path (disable, clean exit, fallout) caused it.
type Limiter struct {
	// MaxPerItem is the maximum amount at risk on any single item.
	MaxPerItem decimal.Decimal

	// MaxPerWallet is the maximum aggregate amount at risk across all of
	// one borrower wallet's items.
	MaxPerWallet decimal.Decimal

	mu     sync.Mutex
	byItem map[string]reservation
}

type reservation struct {
	walletID string
	amount   decimal.Decimal
}

// NewLimiter creates a limiter with the given per-item and per-wallet caps.
func NewLimiter(maxPerItem, maxPerWallet decimal.Decimal) *Limiter {
	return &Limiter{
		MaxPerItem:   maxPerItem,
		MaxPerWallet: maxPerWallet,
		byItem:       make(map[string]reservation),
	}
}

// Reserve records an amount at risk for an item, rejecting it if either
// limit would be exceeded. Reserving for an item that already holds a
// reservation replaces it.
func (l *Limiter) Reserve(walletID, itemID string, amount decimal.Decimal) error {
	if amount.GreaterThan(l.MaxPerItem) {
		return ErrItemLimitExceeded
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	total := amount
	for id, res := range l.byItem {
		if id == itemID || res.walletID != walletID {
			continue
		}
		total = total.Add(res.amount)
	}
	if total.GreaterThan(l.MaxPerWallet) {
		return ErrWalletLimitExceeded
	}

	l.byItem[itemID] = reservation{walletID: walletID, amount: amount}
	return nil
}

// Release drops the reservation for an item. Releasing an item with no
// reservation is a no-op.
func (l *Limiter) Release(itemID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byItem, itemID)
}

// WalletExposure returns the aggregate reserved amount for a wallet.
func (l *Limiter) WalletExposure(walletID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := decimal.Zero
	for _, res := range l.byItem {
		if res.walletID == walletID {
			total = total.Add(res.amount)
		}
	}
	return total
}

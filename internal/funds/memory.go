package funds

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryLedger implements Ledger with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryLedger struct {
	mu      sync.RWMutex
	wallets map[string]decimal.Decimal
	holds   map[string]map[string]decimal.Decimal // itemID → category → amount
	risk    map[string]riskMark                   // itemID → risk marking
}

type riskMark struct {
	walletID       string
	riskPercentage decimal.Decimal
	antiCollateral decimal.Decimal
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		wallets: make(map[string]decimal.Decimal),
		holds:   make(map[string]map[string]decimal.Decimal),
		risk:    make(map[string]riskMark),
	}
}

// SetHold seeds the escrowed amount for an item and category.
func (l *MemoryLedger) SetHold(itemID, category string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holds[itemID] == nil {
		l.holds[itemID] = make(map[string]decimal.Decimal)
	}
	l.holds[itemID][category] = amount
}

// SetWalletBalance seeds a wallet balance.
func (l *MemoryLedger) SetWalletBalance(walletID string, balance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallets[walletID] = balance
}

// WalletBalance returns the current balance for a wallet.
func (l *MemoryLedger) WalletBalance(walletID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.wallets[walletID]
}

// RiskModeSet reports whether SetRiskMode is currently in effect for an item.
func (l *MemoryLedger) RiskModeSet(itemID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.risk[itemID]
	return ok
}

func (l *MemoryLedger) GetHoldBalance(_ context.Context, itemID, category string) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	cats, ok := l.holds[itemID]
	if !ok {
		return decimal.Zero, nil
	}
	return cats[category], nil
}

func (l *MemoryLedger) SetRiskMode(_ context.Context, walletID, itemID string, riskPercentage, antiCollateral decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.risk[itemID] = riskMark{
		walletID:       walletID,
		riskPercentage: riskPercentage,
		antiCollateral: antiCollateral,
	}
	return nil
}

func (l *MemoryLedger) ClearRiskMode(_ context.Context, itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.risk, itemID)
	return nil
}

// Transfer applies all legs atomically: every debit is validated against the
// current balances before any leg is applied.
func (l *MemoryLedger) Transfer(_ context.Context, legs []Leg) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Validate every debit against the starting balance before applying
	// anything: a debit funded by a credit in the same operation is still
	// rejected.
	for _, leg := range legs {
		if leg.Amount.IsNegative() {
			bal, ok := l.wallets[leg.WalletID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrWalletNotFound, leg.WalletID)
			}
			if bal.Add(leg.Amount).IsNegative() {
				return fmt.Errorf("%w: %s needs %s", ErrInsufficientFunds, leg.WalletID, leg.Amount.Neg())
			}
		}
	}

	for _, leg := range legs {
		l.wallets[leg.WalletID] = l.wallets[leg.WalletID].Add(leg.Amount)
	}
	return nil
}

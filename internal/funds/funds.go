// Package funds defines the engine's contract with the external escrow and
// payment ledger. The engine never moves money itself; it instructs the ledger
// and surfaces ledger failures to its callers unchanged.
package funds

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when a debit leg exceeds the wallet
	// balance. A transfer returning this error has applied none of its legs.
	ErrInsufficientFunds = errors.New("funds: insufficient wallet balance")

	// ErrWalletNotFound is returned for debits against an unknown wallet.
	ErrWalletNotFound = errors.New("funds: wallet not found")
)

// Leg is one side of a logical transfer. Positive Amount credits the wallet,
// negative debits it.
type Leg struct {
	WalletID string
	Amount   decimal.Decimal
	Memo     string
}

// Ledger is the narrow view of the escrow/payment ledger the engine needs.
// Implementations must make Transfer all-or-nothing: either every leg of a
// logical operation applies or none do.
type Ledger interface {
	// GetHoldBalance returns the escrowed amount for one item and category.
	GetHoldBalance(ctx context.Context, itemID, category string) (decimal.Decimal, error)

	// SetRiskMode marks the item's escrow as risk-enabled and records the
	// pledged anti-collateral against the given wallet.
	SetRiskMode(ctx context.Context, walletID, itemID string, riskPercentage, antiCollateral decimal.Decimal) error

	// ClearRiskMode removes the risk marking. Idempotent.
	ClearRiskMode(ctx context.Context, itemID string) error

	// Transfer applies all legs atomically or none of them.
	Transfer(ctx context.Context, legs []Leg) error
}

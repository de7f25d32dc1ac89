// Package marketdata defines the engine's contracts with external market-data
// collaborators: the volatility feed consumed by the adaptive scheduler and
// the position quotes/withdrawal path used by monitoring agents.
//
// The engine polls these sources; nothing is pushed into it.
package marketdata

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/model"
)

var (
	// ErrPositionNotFound is returned for quotes on unknown investments.
	ErrPositionNotFound = errors.New("marketdata: position not found")

	// ErrWithdrawalTimeout is returned when the execution venue could not
	// complete a withdrawal inside the caller's deadline. For monitoring
	// agents this is the expected fallout trigger, not an exceptional path.
	ErrWithdrawalTimeout = errors.New("marketdata: withdrawal window elapsed")
)

// VolatilitySource emits the current market volatility signal.
type VolatilitySource interface {
	Current(ctx context.Context) (model.VolatilitySignal, error)
}

// PositionSource quotes and exits live investment positions. Withdraw must
// honor ctx cancellation; a deadline hit maps to ErrWithdrawalTimeout.
type PositionSource interface {
	PositionValue(ctx context.Context, investmentID string) (decimal.Decimal, error)
	Withdraw(ctx context.Context, investmentID string) (decimal.Decimal, error)
}

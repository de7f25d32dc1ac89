// Package fallout settles failed risk positions. A fallout splits the
// owner's real costs equally between borrower and owner, moves the money in
// one atomic ledger transfer, appends an immutable settlement record, and
// tears risky investment mode back down.
package fallout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/funds"
	"github.com/lendloop/invest-engine/internal/holds"
	"github.com/lendloop/invest-engine/internal/metrics"
	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/risk"
	"github.com/lendloop/invest-engine/internal/store"
)

// ErrNoActiveRisk is returned when fallout is requested for an item that is
// not in risky investment mode.
var ErrNoActiveRisk = errors.New("fallout: no active risk configuration")

// Notifier receives settled fallout records for fan-out to subscribers.
type Notifier interface {
	NotifyFallout(rec model.FalloutRecord)
}

// Resolver executes fallout settlements. It shares the per-item lock
// registry with the risk authorizer so a settlement cannot interleave with
// an enable or disable for the same item.
type Resolver struct {
	store    store.Store
	funds    funds.Ledger
	holds    *holds.Ledger
	risk     *risk.Authorizer
	notifier Notifier
}

// NewResolver creates a resolver. notifier may be nil.
func NewResolver(st store.Store, fl funds.Ledger, hl *holds.Ledger, auth *risk.Authorizer, n Notifier) *Resolver {
	return &Resolver{store: st, funds: fl, holds: hl, risk: auth, notifier: n}
}

// Resolve settles a fallout for an item. recovered is whatever the
// withdrawal salvaged from the at-risk position; pass zero when nothing came
// back. Either the whole settlement lands (transfer, record, teardown) or
// none of it does: a failed ledger transfer aborts before anything is
// recorded.
func (r *Resolver) Resolve(ctx context.Context, itemID string, recovered decimal.Decimal) (*model.FalloutRecord, error) {
	locks := r.risk.Locks()
	locks.Lock(itemID)
	defer locks.Unlock(itemID)

	cfg, err := r.store.GetRiskConfig(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveRisk
	}
	if err != nil {
		return nil, fmt.Errorf("load risk config: %w", err)
	}

	// Costs are computed from the live hold balance, not from anything
	// captured at enable time.
	hb, err := r.holds.TrackHolds(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("track holds: %w", err)
	}

	two := decimal.NewFromInt(2)
	shippingCost := hb.ShippingHold.Div(two)
	totalCosts := shippingCost.Add(hb.InsuranceHold)
	borrowerShare := totalCosts.Div(two)
	ownerShare := totalCosts.Sub(borrowerShare)

	investmentLoss := cfg.AmountAtRisk.Sub(recovered)
	if investmentLoss.IsNegative() {
		investmentLoss = decimal.Zero
	}

	legs := []funds.Leg{
		{WalletID: cfg.BorrowerWalletID, Amount: borrowerShare.Neg(), Memo: "fallout borrower share " + itemID},
		{WalletID: cfg.OwnerWalletID, Amount: borrowerShare, Memo: "fallout owner compensation " + itemID},
	}
	if err := r.funds.Transfer(ctx, legs); err != nil {
		return nil, fmt.Errorf("fallout transfer: %w", err)
	}

	// Refunds mirror the 50/50 split: each party gets back half of each
	// cost. TotalLoss is the investment value loss, not the cost sum.
	rec := &model.FalloutRecord{
		ID:              uuid.New().String(),
		ItemID:          itemID,
		InvestmentID:    cfg.InvestmentID,
		TotalLoss:       investmentLoss,
		BorrowerShare:   borrowerShare,
		OwnerShare:      ownerShare,
		ShippingRefund:  shippingCost.Div(two),
		InsuranceRefund: hb.InsuranceHold.Div(two),
		InvestmentLoss:  investmentLoss,
		Timestamp:       time.Now().UTC(),
	}
	if err := r.store.AppendFallout(ctx, rec); err != nil {
		return nil, fmt.Errorf("append fallout record: %w", err)
	}

	if err := r.risk.TeardownLocked(ctx, itemID, model.InvestmentLost); err != nil {
		slog.Error("risk teardown after fallout failed", "item", itemID, "err", err)
	}

	metrics.Fallouts.Inc()
	slog.Warn("fallout settled",
		"item", itemID,
		"investment", cfg.InvestmentID,
		"total_costs", totalCosts.StringFixed(2),
		"borrower_share", borrowerShare.StringFixed(2),
		"owner_share", ownerShare.StringFixed(2),
		"investment_loss", investmentLoss.StringFixed(2),
	)

	if r.notifier != nil {
		r.notifier.NotifyFallout(*rec)
	}
	return rec, nil
}

// History returns all fallout settlements recorded for an item.
func (r *Resolver) History(ctx context.Context, itemID string) ([]model.FalloutRecord, error) {
	return r.store.ListFallouts(ctx, itemID)
}

// Package holds tracks the per-item escrowed fund buckets and decides which
// of them may be invested. Balances are always recomputed from the funds
// ledger at call time; nothing here caches state that correctness depends on.
package holds

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/funds"
	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/shipping"
	"github.com/lendloop/invest-engine/internal/store"
)

// ErrUnknownHoldType is returned for eligibility checks against a hold
// category the engine does not know.
var ErrUnknownHoldType = errors.New("holds: unknown hold type")

// Ledger reads hold balances and applies the investability rule table.
type Ledger struct {
	funds   funds.Ledger
	tracker shipping.Tracker
	store   store.Store
}

// NewLedger creates a hold ledger over the given collaborators.
func NewLedger(fl funds.Ledger, tracker shipping.Tracker, st store.Store) *Ledger {
	return &Ledger{funds: fl, tracker: tracker, store: st}
}

// TrackHolds recomputes the three hold buckets for an item from the funds
// ledger as of call time. Pure read; no side effects.
func (l *Ledger) TrackHolds(ctx context.Context, itemID string) (model.HoldBalance, error) {
	var hb model.HoldBalance
	hb.ItemID = itemID

	var err error
	if hb.ShippingHold, err = l.funds.GetHoldBalance(ctx, itemID, model.HoldShipping); err != nil {
		return hb, fmt.Errorf("track shipping hold: %w", err)
	}
	if hb.AdditionalHold, err = l.funds.GetHoldBalance(ctx, itemID, model.HoldAdditional); err != nil {
		return hb, fmt.Errorf("track additional hold: %w", err)
	}
	if hb.InsuranceHold, err = l.funds.GetHoldBalance(ctx, itemID, model.HoldInsurance); err != nil {
		return hb, fmt.Errorf("track insurance hold: %w", err)
	}

	status, err := l.tracker.Status(ctx, itemID)
	if err != nil {
		return hb, fmt.Errorf("track shipping status: %w", err)
	}

	hb.TotalInvestable = hb.AdditionalHold
	if status.Shipped() {
		hb.TotalInvestable = hb.TotalInvestable.Add(hb.InsuranceHold)
	}

	if l.riskEnabled(ctx, itemID) {
		hb.TotalInvestable = hb.TotalInvestable.Add(hb.ShippingHold)
		hb.TotalNonInvestable = decimal.Zero
	} else {
		hb.TotalNonInvestable = hb.ShippingHold
	}

	return hb, nil
}

// CheckEligibility applies the deterministic investability rule table:
//
//	shippingHold   — eligible iff risk mode is currently enabled
//	additionalHold — always eligible
//	insuranceHold  — eligible iff the item has shipped or been delivered
//
// Any other hold type yields ErrUnknownHoldType.
func (l *Ledger) CheckEligibility(ctx context.Context, itemID, holdType string) (model.Eligibility, error) {
	switch holdType {
	case model.HoldAdditional:
		return model.Eligibility{IsEligible: true}, nil

	case model.HoldShipping:
		if l.riskEnabled(ctx, itemID) {
			return model.Eligibility{IsEligible: true}, nil
		}
		return model.Eligibility{
			Reason:       "risky investment mode not enabled",
			Requirements: []string{"enable risky investment mode with anti-collateral"},
		}, nil

	case model.HoldInsurance:
		status, err := l.tracker.Status(ctx, itemID)
		if err != nil {
			return model.Eligibility{}, fmt.Errorf("check shipping status: %w", err)
		}
		if status.Shipped() {
			return model.Eligibility{IsEligible: true}, nil
		}
		return model.Eligibility{
			Reason:       "item has not shipped",
			Requirements: []string{"item must be shipped or delivered"},
		}, nil

	default:
		return model.Eligibility{}, ErrUnknownHoldType
	}
}

// riskEnabled reports whether an active risk configuration exists. Store
// errors other than absence are treated as not enabled: investability of the
// shipping hold must fail closed.
func (l *Ledger) riskEnabled(ctx context.Context, itemID string) bool {
	_, err := l.store.GetRiskConfig(ctx, itemID)
	return err == nil
}

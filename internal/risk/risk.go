// Package risk gates risky investment mode: the only path by which a
// shipping hold becomes investable. Enabling requires the borrower to pledge
// anti-collateral exactly matching the amount at risk scaled by the current
// risk boundary error; disabling tears the whole arrangement back down.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/exposure"
	"github.com/lendloop/invest-engine/internal/funds"
	"github.com/lendloop/invest-engine/internal/holds"
	"github.com/lendloop/invest-engine/internal/marketdata"
	"github.com/lendloop/invest-engine/internal/metrics"
	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/store"
)

// MaxRiskBoundaryError caps the boundary error regardless of how volatile
// the market gets, bounding the collateral demanded from borrowers.
const MaxRiskBoundaryError = 0.25

var (
	// ErrInvalidRiskPercentage is returned for percentages outside [0,100].
	ErrInvalidRiskPercentage = errors.New("risk: risk percentage must be between 0 and 100")

	// ErrAlreadyEnabled is returned when an item already has an active
	// risk configuration.
	ErrAlreadyEnabled = errors.New("risk: risky investment mode already enabled")

	// ErrCollateralMismatch is returned when the pledged anti-collateral
	// does not match the required amount within tolerance.
	ErrCollateralMismatch = errors.New("risk: anti-collateral does not match required amount")

	// ErrNothingAtRisk is returned when the item has no shipping hold to
	// put at risk.
	ErrNothingAtRisk = errors.New("risk: no shipping hold to put at risk")
)

// AgentSupervisor starts and stops monitoring agents. The concrete manager
// is attached after construction to break the dependency cycle between risk
// teardown and agent-triggered fallout.
type AgentSupervisor interface {
	StartAgent(ctx context.Context, itemID, investmentID string) error
	StopAgent(itemID string)
}

// EnableRequest carries everything needed to turn on risky investment mode
// for one item.
type EnableRequest struct {
	ItemID           string          `json:"item_id"`
	BorrowerWalletID string          `json:"borrower_wallet_id"`
	OwnerWalletID    string          `json:"owner_wallet_id"`
	RiskPercentage   decimal.Decimal `json:"risk_percentage"`
	AntiCollateral   decimal.Decimal `json:"anti_collateral"`
}

// Authorizer validates, persists, and tears down risk configurations. All
// mutations for an item run under that item's lock.
type Authorizer struct {
	store   store.Store
	funds   funds.Ledger
	holds   *holds.Ledger
	vol     marketdata.VolatilitySource
	locks   *ItemLocks
	limiter *exposure.Limiter
	agents  AgentSupervisor
}

// NewAuthorizer creates an authorizer. Locks are shared with the fallout
// resolver so both serialize on the same per-item mutex. limiter may be nil
// to run without exposure caps.
func NewAuthorizer(st store.Store, fl funds.Ledger, hl *holds.Ledger, vol marketdata.VolatilitySource, locks *ItemLocks, limiter *exposure.Limiter) *Authorizer {
	return &Authorizer{store: st, funds: fl, holds: hl, vol: vol, locks: locks, limiter: limiter}
}

// AttachSupervisor wires in the agent manager. Must be called before the
// first enable; separated from construction because the manager itself
// depends on the fallout resolver, which depends on this authorizer.
func (a *Authorizer) AttachSupervisor(sup AgentSupervisor) {
	a.agents = sup
}

// Locks exposes the per-item lock registry for collaborators that must
// serialize against enable/disable.
func (a *Authorizer) Locks() *ItemLocks {
	return a.locks
}

// RiskBoundaryError derives the current boundary error from market
// volatility, capped at MaxRiskBoundaryError. Anomalous readings clamp to
// the cap so a bad feed can only over-collateralize, never under.
func (a *Authorizer) RiskBoundaryError(ctx context.Context) (float64, error) {
	sig, err := a.vol.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("read volatility: %w", err)
	}
	v := sig.Volatility
	if math.IsNaN(v) || v < 0 || v > MaxRiskBoundaryError {
		return MaxRiskBoundaryError, nil
	}
	return v, nil
}

// EnableRiskyInvestmentMode validates the request against the live hold
// balance and the current risk boundary error, then atomically flips the
// item into risk mode: ledger marking, persisted config, active investment
// record, and a monitoring agent.
func (a *Authorizer) EnableRiskyInvestmentMode(ctx context.Context, req EnableRequest) (*model.RiskConfig, error) {
	hundred := decimal.NewFromInt(100)
	if req.RiskPercentage.IsNegative() || req.RiskPercentage.GreaterThan(hundred) {
		metrics.RiskRejections.WithLabelValues("invalid_percentage").Inc()
		return nil, ErrInvalidRiskPercentage
	}

	a.locks.Lock(req.ItemID)
	defer a.locks.Unlock(req.ItemID)

	if _, err := a.store.GetRiskConfig(ctx, req.ItemID); err == nil {
		metrics.RiskRejections.WithLabelValues("already_enabled").Inc()
		return nil, ErrAlreadyEnabled
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check existing config: %w", err)
	}

	// Balance and boundary error are read fresh here; a quote shown to the
	// borrower earlier has no bearing on what is validated now.
	hb, err := a.holds.TrackHolds(ctx, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("track holds: %w", err)
	}
	if !hb.ShippingHold.IsPositive() {
		metrics.RiskRejections.WithLabelValues("nothing_at_risk").Inc()
		return nil, ErrNothingAtRisk
	}

	boundary, err := a.RiskBoundaryError(ctx)
	if err != nil {
		return nil, err
	}

	amountAtRisk := hb.ShippingHold.Mul(req.RiskPercentage).Div(hundred)
	required := amountAtRisk.Mul(decimal.NewFromFloat(boundary))

	if req.AntiCollateral.Sub(required).Abs().GreaterThan(model.CollateralEpsilon) {
		metrics.RiskRejections.WithLabelValues("collateral_mismatch").Inc()
		return nil, fmt.Errorf("%w: required %s, offered %s",
			ErrCollateralMismatch, required.StringFixed(2), req.AntiCollateral.StringFixed(2))
	}

	if a.limiter != nil {
		if err := a.limiter.Reserve(req.BorrowerWalletID, req.ItemID, amountAtRisk); err != nil {
			metrics.RiskRejections.WithLabelValues("exposure_limit").Inc()
			return nil, err
		}
	}

	if err := a.funds.SetRiskMode(ctx, req.BorrowerWalletID, req.ItemID, req.RiskPercentage, req.AntiCollateral); err != nil {
		a.releaseExposure(req.ItemID)
		return nil, fmt.Errorf("set risk mode: %w", err)
	}

	now := time.Now().UTC()
	cfg := &model.RiskConfig{
		ItemID:            req.ItemID,
		InvestmentID:      uuid.New().String(),
		BorrowerWalletID:  req.BorrowerWalletID,
		OwnerWalletID:     req.OwnerWalletID,
		RiskPercentage:    req.RiskPercentage,
		AmountAtRisk:      amountAtRisk,
		RiskBoundaryError: boundary,
		AntiCollateral:    req.AntiCollateral,
		CreatedAt:         now,
	}
	if err := a.store.CreateRiskConfig(ctx, cfg); err != nil {
		a.releaseExposure(req.ItemID)
		if cerr := a.funds.ClearRiskMode(ctx, req.ItemID); cerr != nil {
			slog.Error("risk mode rollback failed", "item", req.ItemID, "err", cerr)
		}
		return nil, fmt.Errorf("persist risk config: %w", err)
	}

	inv := &model.Investment{
		ID:        cfg.InvestmentID,
		ItemID:    req.ItemID,
		HoldType:  model.HoldShipping,
		Amount:    amountAtRisk,
		Status:    model.InvestmentActive,
		CreatedAt: now,
	}
	if err := a.store.CreateInvestment(ctx, inv); err != nil {
		a.releaseExposure(req.ItemID)
		if derr := a.store.DeleteRiskConfig(ctx, req.ItemID); derr != nil {
			slog.Error("risk config rollback failed", "item", req.ItemID, "err", derr)
		}
		if cerr := a.funds.ClearRiskMode(ctx, req.ItemID); cerr != nil {
			slog.Error("risk mode rollback failed", "item", req.ItemID, "err", cerr)
		}
		return nil, fmt.Errorf("record investment: %w", err)
	}

	if a.agents != nil {
		if err := a.agents.StartAgent(ctx, req.ItemID, cfg.InvestmentID); err != nil {
			slog.Error("agent start failed", "item", req.ItemID, "err", err)
		}
	}

	metrics.RiskEnables.Inc()
	slog.Info("risky investment mode enabled",
		"item", req.ItemID,
		"investment", cfg.InvestmentID,
		"amount_at_risk", amountAtRisk.StringFixed(2),
		"boundary_error", boundary,
		"anti_collateral", req.AntiCollateral.StringFixed(2),
	)
	return cfg, nil
}

// DisableRiskyInvestmentMode tears down risk mode for an item. Idempotent:
// disabling an item that is not in risk mode succeeds silently.
func (a *Authorizer) DisableRiskyInvestmentMode(ctx context.Context, itemID string) error {
	a.locks.Lock(itemID)
	defer a.locks.Unlock(itemID)
	return a.TeardownLocked(ctx, itemID, model.InvestmentWithdrawn)
}

// TeardownLocked removes the risk configuration, clears the ledger marking,
// stops the monitoring agent, and finalizes the investment record with the
// given status. The caller must hold the item lock.
func (a *Authorizer) TeardownLocked(ctx context.Context, itemID, finalStatus string) error {
	cfg, err := a.store.GetRiskConfig(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load risk config: %w", err)
	}

	if a.agents != nil {
		a.agents.StopAgent(itemID)
	}

	a.releaseExposure(itemID)

	if err := a.funds.ClearRiskMode(ctx, itemID); err != nil {
		return fmt.Errorf("clear risk mode: %w", err)
	}
	if err := a.store.DeleteRiskConfig(ctx, itemID); err != nil {
		return fmt.Errorf("delete risk config: %w", err)
	}
	if err := a.store.UpdateInvestmentStatus(ctx, cfg.InvestmentID, finalStatus); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("investment status update failed", "investment", cfg.InvestmentID, "err", err)
	}

	slog.Info("risky investment mode disabled", "item", itemID, "investment", cfg.InvestmentID, "final_status", finalStatus)
	return nil
}

func (a *Authorizer) releaseExposure(itemID string) {
	if a.limiter != nil {
		a.limiter.Release(itemID)
	}
}

// Enabled reports whether an item currently has risky investment mode on.
func (a *Authorizer) Enabled(ctx context.Context, itemID string) (bool, error) {
	_, err := a.store.GetRiskConfig(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Config returns the active risk configuration, or store.ErrNotFound.
func (a *Authorizer) Config(ctx context.Context, itemID string) (*model.RiskConfig, error) {
	return a.store.GetRiskConfig(ctx, itemID)
}

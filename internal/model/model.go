// Package model defines the core domain types shared across the investment
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Hold categories escrowed against a lent item.
const (
	HoldShipping   = "shipping"   // 2x round-trip shipping cost; non-investable by default
	HoldAdditional = "additional" // payment above the 2x shipping baseline; always investable
	HoldInsurance  = "insurance"  // investable only once the item has shipped
)

// Shipping status values reported by the shipping tracker.
const (
	ShippingNotShipped = "not_shipped"
	ShippingShipped    = "shipped"
	ShippingDelivered  = "delivered"
)

// HoldBalance is the per-item snapshot of escrowed fund buckets.
// TotalInvestable counts additionalHold plus insuranceHold once the item has
// shipped; TotalNonInvestable is shippingHold unless risk mode is enabled.
type HoldBalance struct {
	ItemID             string          `json:"item_id"`
	ShippingHold       decimal.Decimal `json:"shippingHold2x"`
	AdditionalHold     decimal.Decimal `json:"additionalHold"`
	InsuranceHold      decimal.Decimal `json:"insuranceHold"`
	TotalInvestable    decimal.Decimal `json:"totalInvestable"`
	TotalNonInvestable decimal.Decimal `json:"totalNonInvestable"`
}

// Eligibility is the result of a hold-type eligibility check.
type Eligibility struct {
	IsEligible   bool     `json:"isEligible"`
	Reason       string   `json:"reason,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// RiskConfig exists iff risky investment mode is enabled for an item.
// At most one per item. AntiCollateral must equal AmountAtRisk multiplied by
// RiskBoundaryError within a 0.01 currency-unit tolerance; that equality is
// the sole gate that makes the shipping hold investable.
type RiskConfig struct {
	ItemID            string          `json:"item_id" db:"item_id"`
	InvestmentID      string          `json:"investment_id" db:"investment_id"`
	BorrowerWalletID  string          `json:"borrower_wallet_id" db:"borrower_wallet_id"`
	OwnerWalletID     string          `json:"owner_wallet_id" db:"owner_wallet_id"`
	RiskPercentage    decimal.Decimal `json:"risk_percentage" db:"risk_percentage"` // [0,100]
	AmountAtRisk      decimal.Decimal `json:"amount_at_risk" db:"amount_at_risk"`
	RiskBoundaryError float64         `json:"risk_boundary_error" db:"risk_boundary_error"` // [0,0.25]
	AntiCollateral    decimal.Decimal `json:"anti_collateral" db:"anti_collateral"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// CollateralEpsilon is the tolerance for the anti-collateral match.
var CollateralEpsilon = decimal.NewFromFloat(0.01)

// Investment is a record of funds from one hold bucket put to work.
type Investment struct {
	ID        string          `json:"id" db:"id"`
	ItemID    string          `json:"item_id" db:"item_id"`
	HoldType  string          `json:"hold_type" db:"hold_type"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Status    string          `json:"status" db:"status"` // "active", "withdrawn", "lost"
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Investment statuses.
const (
	InvestmentActive    = "active"
	InvestmentWithdrawn = "withdrawn"
	InvestmentLost      = "lost"
)

// FalloutRecord is the immutable settlement of a failed risk position.
// Once created these are appended to history, never modified or deleted.
type FalloutRecord struct {
	ID              string          `json:"id" db:"id"`
	ItemID          string          `json:"item_id" db:"item_id"`
	InvestmentID    string          `json:"investment_id" db:"investment_id"`
	TotalLoss       decimal.Decimal `json:"total_loss" db:"total_loss"`
	BorrowerShare   decimal.Decimal `json:"borrower_share" db:"borrower_share"`
	OwnerShare      decimal.Decimal `json:"owner_share" db:"owner_share"`
	ShippingRefund  decimal.Decimal `json:"shipping_refund" db:"shipping_refund"`
	InsuranceRefund decimal.Decimal `json:"insurance_refund" db:"insurance_refund"`
	InvestmentLoss  decimal.Decimal `json:"investment_loss" db:"investment_loss"`
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
}

// VolatilitySignal is the externally-produced market state consumed by the
// scheduler and agents. Volatility is a fraction in [0,1], not money.
type VolatilitySignal struct {
	Volatility float64   `json:"volatility"`
	Trend      string    `json:"trend"`      // "upward", "flat", "downward"
	RiskLevel  string    `json:"risk_level"` // "low", "medium", "high", "critical"
	Timestamp  time.Time `json:"timestamp"`
}

// MarketAlert is an out-of-band market event ingested by the engine and
// fanned out to monitoring agents.
type MarketAlert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`     // "downturn", "upturn", "liquidity"
	Severity  string    `json:"severity"` // "low", "medium", "high", "critical"
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert types and severities.
const (
	AlertDownturn = "downturn"

	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Observation is a warehoused sample used to tune the adaptive scheduler:
// either a raw volatility reading or a scheduler adjustment outcome.
type Observation struct {
	ID              string    `json:"id" db:"id"`
	Kind            string    `json:"kind" db:"kind"` // "volatility" or "scheduler"
	JobID           string    `json:"job_id,omitempty" db:"job_id"`
	Volatility      float64   `json:"volatility" db:"volatility"`
	Tier            string    `json:"tier,omitempty" db:"tier"`
	IntervalMinutes int       `json:"interval_minutes,omitempty" db:"interval_minutes"`
	APICalls        int       `json:"api_calls,omitempty" db:"api_calls"`
	Reason          string    `json:"reason,omitempty" db:"reason"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
}

// Observation kinds.
const (
	ObservationVolatility = "volatility"
	ObservationScheduler  = "scheduler"
)

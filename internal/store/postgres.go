package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateRiskConfig(ctx context.Context, cfg *model.RiskConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_configs (item_id, investment_id, borrower_wallet_id, owner_wallet_id,
		                           risk_percentage, amount_at_risk, risk_boundary_error, anti_collateral, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9)`,
		cfg.ItemID, cfg.InvestmentID, cfg.BorrowerWalletID, cfg.OwnerWalletID,
		cfg.RiskPercentage.String(), cfg.AmountAtRisk.String(),
		cfg.RiskBoundaryError, cfg.AntiCollateral.String(),
		cfg.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetRiskConfig(ctx context.Context, itemID string) (*model.RiskConfig, error) {
	var cfg model.RiskConfig
	var pct, atRisk, collateral string

	err := s.pool.QueryRow(ctx,
		`SELECT item_id, investment_id, borrower_wallet_id, owner_wallet_id,
		        risk_percentage::TEXT, amount_at_risk::TEXT,
		        risk_boundary_error, anti_collateral::TEXT, created_at
		 FROM risk_configs WHERE item_id = $1`, itemID).
		Scan(&cfg.ItemID, &cfg.InvestmentID, &cfg.BorrowerWalletID, &cfg.OwnerWalletID,
			&pct, &atRisk,
			&cfg.RiskBoundaryError, &collateral, &cfg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("risk config for item %s: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get risk config %s: %w", itemID, err)
	}

	cfg.RiskPercentage, _ = decimal.NewFromString(pct)
	cfg.AmountAtRisk, _ = decimal.NewFromString(atRisk)
	cfg.AntiCollateral, _ = decimal.NewFromString(collateral)

	return &cfg, nil
}

func (s *PostgresStore) DeleteRiskConfig(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM risk_configs WHERE item_id = $1`, itemID)
	return err
}

func (s *PostgresStore) CreateInvestment(ctx context.Context, inv *model.Investment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO investments (id, item_id, hold_type, amount, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		inv.ID, inv.ItemID, inv.HoldType, inv.Amount.String(), inv.Status, inv.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListInvestments(ctx context.Context, itemID string) ([]model.Investment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, hold_type, amount::TEXT, status, created_at
		 FROM investments WHERE item_id = $1 ORDER BY created_at`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var investments []model.Investment
	for rows.Next() {
		var inv model.Investment
		var amount string
		if err := rows.Scan(&inv.ID, &inv.ItemID, &inv.HoldType, &amount, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.Amount, _ = decimal.NewFromString(amount)
		investments = append(investments, inv)
	}
	return investments, rows.Err()
}

func (s *PostgresStore) UpdateInvestmentStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("investment %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) AppendFallout(ctx context.Context, rec *model.FalloutRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fallout_records (id, item_id, investment_id, total_loss, borrower_share, owner_share,
		                              shipping_refund, insurance_refund, investment_loss, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)`,
		rec.ID, rec.ItemID, rec.InvestmentID,
		rec.TotalLoss.String(), rec.BorrowerShare.String(), rec.OwnerShare.String(),
		rec.ShippingRefund.String(), rec.InsuranceRefund.String(), rec.InvestmentLoss.String(),
		rec.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListFallouts(ctx context.Context, itemID string) ([]model.FalloutRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, item_id, investment_id, total_loss::TEXT, borrower_share::TEXT, owner_share::TEXT,
		        shipping_refund::TEXT, insurance_refund::TEXT, investment_loss::TEXT, timestamp
		 FROM fallout_records WHERE item_id = $1 ORDER BY timestamp`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.FalloutRecord
	for rows.Next() {
		var rec model.FalloutRecord
		var totalLoss, borrower, owner, shipRefund, insRefund, invLoss string
		if err := rows.Scan(&rec.ID, &rec.ItemID, &rec.InvestmentID,
			&totalLoss, &borrower, &owner,
			&shipRefund, &insRefund, &invLoss,
			&rec.Timestamp); err != nil {
			return nil, err
		}
		rec.TotalLoss, _ = decimal.NewFromString(totalLoss)
		rec.BorrowerShare, _ = decimal.NewFromString(borrower)
		rec.OwnerShare, _ = decimal.NewFromString(owner)
		rec.ShippingRefund, _ = decimal.NewFromString(shipRefund)
		rec.InsuranceRefund, _ = decimal.NewFromString(insRefund)
		rec.InvestmentLoss, _ = decimal.NewFromString(invLoss)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO observations (id, kind, job_id, volatility, tier, interval_minutes, api_calls, reason, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		obs.ID, obs.Kind, obs.JobID, obs.Volatility, obs.Tier,
		obs.IntervalMinutes, obs.APICalls, obs.Reason, obs.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListObservations(ctx context.Context, limit int) ([]model.Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, job_id, volatility, tier, interval_minutes, api_calls, reason, timestamp
		 FROM observations ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []model.Observation
	for rows.Next() {
		var obs model.Observation
		if err := rows.Scan(&obs.ID, &obs.Kind, &obs.JobID, &obs.Volatility, &obs.Tier,
			&obs.IntervalMinutes, &obs.APICalls, &obs.Reason, &obs.Timestamp); err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

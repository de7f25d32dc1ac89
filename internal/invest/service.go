// Package invest provides the HTTP handlers for the collateral investment
// engine: hold tracking and eligibility, risky investment mode, hold
// investment, fallout settlement, the adaptive scheduler surface, and the
// metrics warehouse.
//
// All monetary values use shopspring/decimal — never float64 for money.
package invest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/agent"
	"github.com/lendloop/invest-engine/internal/fallout"
	"github.com/lendloop/invest-engine/internal/holds"
	"github.com/lendloop/invest-engine/internal/marketdata"
	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/risk"
	"github.com/lendloop/invest-engine/internal/scheduler"
	"github.com/lendloop/invest-engine/internal/store"
	"github.com/lendloop/invest-engine/internal/warehouse"
)

// Service wires the engine's components behind the HTTP surface.
type Service struct {
	store     store.Store
	holds     *holds.Ledger
	auth      *risk.Authorizer
	resolver  *fallout.Resolver
	agents    *agent.Manager
	sched     *scheduler.Scheduler
	warehouse *warehouse.Warehouse
	vol       marketdata.VolatilitySource
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates the invest service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, hl *holds.Ledger, auth *risk.Authorizer, res *fallout.Resolver, mgr *agent.Manager, sched *scheduler.Scheduler, wh *warehouse.Warehouse, vol marketdata.VolatilitySource, hub *WSHub) *Service {
	return &Service{
		store:     st,
		holds:     hl,
		auth:      auth,
		resolver:  res,
		agents:    mgr,
		sched:     sched,
		warehouse: wh,
		vol:       vol,
		wsHub:     hub,
	}
}

// Routes mounts every handler under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Route("/items/{itemID}", func(r chi.Router) {
		r.Get("/holds", s.GetHolds)
		r.Get("/eligibility", s.CheckEligibility)
		r.Get("/status", s.GetStatus)
		r.Post("/risk/enable", s.EnableRisk)
		r.Post("/risk/disable", s.DisableRisk)
		r.Post("/invest", s.InvestHold)
		r.Get("/investments", s.ListInvestments)
		r.Post("/fallout", s.TriggerFallout)
		r.Get("/fallouts", s.ListFallouts)
	})

	r.Post("/scheduler/adjust", s.AdjustSchedule)
	r.Get("/scheduler/state", s.GetSchedulerState)
	r.Get("/volatility", s.GetVolatility)
	r.Post("/alerts", s.IngestAlert)
	r.Get("/warehouse/metrics", s.GetWarehouseMetrics)

	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}
}

// --- Request/Response types ---

// EnableRiskRequest is the JSON body for POST /items/{itemID}/risk/enable.
type EnableRiskRequest struct {
	BorrowerWalletID string          `json:"borrower_wallet_id"`
	OwnerWalletID    string          `json:"owner_wallet_id"`
	RiskPercentage   decimal.Decimal `json:"risk_percentage"`
	AntiCollateral   decimal.Decimal `json:"anti_collateral"`
}

// InvestRequest is the JSON body for POST /items/{itemID}/invest.
type InvestRequest struct {
	HoldType string          `json:"hold_type"`
	Amount   decimal.Decimal `json:"amount"`
}

// FalloutRequest is the JSON body for POST /items/{itemID}/fallout.
// Recovered is what a partial exit salvaged; omit for a total loss.
type FalloutRequest struct {
	Recovered decimal.Decimal `json:"recovered"`
}

// ItemStatus is the combined per-item view returned by GET /status.
type ItemStatus struct {
	ItemID                  string            `json:"item_id"`
	RiskyModeEnabled        bool              `json:"riskyModeEnabled"`
	RiskPercentage          decimal.Decimal   `json:"riskPercentage"`
	AntiCollateralRequired  decimal.Decimal   `json:"antiCollateralRequired"`
	AntiCollateralDeposited decimal.Decimal   `json:"antiCollateralDeposited"`
	RobotsActive            int               `json:"robotsActive"`
	RobotState              string            `json:"robotState,omitempty"`
	HoldBalance             model.HoldBalance `json:"holdBalance"`
}

// AlertResponse reports how many agents an alert reached and how many were
// woken for an immediate stop-loss re-check. Withdrawal outcomes surface
// asynchronously, through each agent's own cycle.
type AlertResponse struct {
	Alert          model.MarketAlert `json:"alert"`
	AgentsNotified int               `json:"agents_notified"`
	EmergencyWakes int               `json:"emergency_wakes"`
}

// --- HTTP Handlers ---

// GetHolds handles GET /api/v1/items/{itemID}/holds
func (s *Service) GetHolds(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	hb, err := s.holds.TrackHolds(r.Context(), itemID)
	if err != nil {
		writeError(w, "failed to track holds", http.StatusInternalServerError)
		return
	}
	writeJSON(w, hb)
}

// CheckEligibility handles GET /api/v1/items/{itemID}/eligibility?hold_type=<t>
func (s *Service) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	holdType := r.URL.Query().Get("hold_type")
	if holdType == "" {
		writeError(w, "hold_type query parameter is required", http.StatusBadRequest)
		return
	}

	elig, err := s.holds.CheckEligibility(r.Context(), itemID, holdType)
	if err != nil {
		if errors.Is(err, holds.ErrUnknownHoldType) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to check eligibility", http.StatusInternalServerError)
		return
	}
	writeJSON(w, elig)
}

// GetStatus handles GET /api/v1/items/{itemID}/status
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	ctx := r.Context()

	hb, err := s.holds.TrackHolds(ctx, itemID)
	if err != nil {
		writeError(w, "failed to track holds", http.StatusInternalServerError)
		return
	}

	status := ItemStatus{ItemID: itemID, HoldBalance: hb}

	cfg, err := s.auth.Config(ctx, itemID)
	switch {
	case err == nil:
		status.RiskyModeEnabled = true
		status.RiskPercentage = cfg.RiskPercentage
		status.AntiCollateralRequired = cfg.AmountAtRisk.Mul(decimal.NewFromFloat(cfg.RiskBoundaryError))
		status.AntiCollateralDeposited = cfg.AntiCollateral
	case errors.Is(err, store.ErrNotFound):
	default:
		writeError(w, "failed to load risk configuration", http.StatusInternalServerError)
		return
	}

	if a, ok := s.agents.Get(itemID); ok {
		status.RobotsActive = 1
		status.RobotState = a.State()
	}

	writeJSON(w, status)
}

// EnableRisk handles POST /api/v1/items/{itemID}/risk/enable
func (s *Service) EnableRisk(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req EnableRiskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BorrowerWalletID == "" || req.OwnerWalletID == "" {
		writeError(w, "borrower_wallet_id and owner_wallet_id are required", http.StatusBadRequest)
		return
	}

	cfg, err := s.auth.EnableRiskyInvestmentMode(r.Context(), risk.EnableRequest{
		ItemID:           itemID,
		BorrowerWalletID: req.BorrowerWalletID,
		OwnerWalletID:    req.OwnerWalletID,
		RiskPercentage:   req.RiskPercentage,
		AntiCollateral:   req.AntiCollateral,
	})
	if err != nil {
		switch {
		case errors.Is(err, risk.ErrInvalidRiskPercentage), errors.Is(err, risk.ErrCollateralMismatch):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, risk.ErrAlreadyEnabled):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, risk.ErrNothingAtRisk):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, "failed to enable risky investment mode", http.StatusInternalServerError)
		}
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "risk_enabled",
			ItemID:       itemID,
			InvestmentID: cfg.InvestmentID,
		})
	}
	writeJSON(w, cfg)
}

// DisableRisk handles POST /api/v1/items/{itemID}/risk/disable
// Idempotent: disabling an item not in risk mode succeeds.
func (s *Service) DisableRisk(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	if err := s.auth.DisableRiskyInvestmentMode(r.Context(), itemID); err != nil {
		writeError(w, "failed to disable risky investment mode", http.StatusInternalServerError)
		return
	}

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{Type: "risk_disabled", ItemID: itemID})
	}
	writeJSON(w, map[string]string{"item_id": itemID, "status": "disabled"})
}

// InvestHold handles POST /api/v1/items/{itemID}/invest
// Puts funds from one hold bucket to work, gated by the eligibility rules.
func (s *Service) InvestHold(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	ctx := r.Context()

	var req InvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	locks := s.auth.Locks()
	locks.Lock(itemID)
	defer locks.Unlock(itemID)

	elig, err := s.holds.CheckEligibility(ctx, itemID, req.HoldType)
	if err != nil {
		if errors.Is(err, holds.ErrUnknownHoldType) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to check eligibility", http.StatusInternalServerError)
		return
	}
	if !elig.IsEligible {
		writeError(w, "hold not eligible for investment: "+elig.Reason, http.StatusConflict)
		return
	}

	hb, err := s.holds.TrackHolds(ctx, itemID)
	if err != nil {
		writeError(w, "failed to track holds", http.StatusInternalServerError)
		return
	}
	var bucket decimal.Decimal
	switch req.HoldType {
	case model.HoldShipping:
		bucket = hb.ShippingHold
	case model.HoldAdditional:
		bucket = hb.AdditionalHold
	case model.HoldInsurance:
		bucket = hb.InsuranceHold
	default:
		writeError(w, "unknown hold type", http.StatusBadRequest)
		return
	}
	if req.Amount.GreaterThan(bucket) {
		writeError(w, "amount exceeds hold balance of "+bucket.StringFixed(2), http.StatusConflict)
		return
	}

	inv := &model.Investment{
		ID:        uuid.New().String(),
		ItemID:    itemID,
		HoldType:  req.HoldType,
		Amount:    req.Amount,
		Status:    model.InvestmentActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateInvestment(ctx, inv); err != nil {
		writeError(w, "failed to record investment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, inv)
}

// ListInvestments handles GET /api/v1/items/{itemID}/investments
func (s *Service) ListInvestments(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	invs, err := s.store.ListInvestments(r.Context(), itemID)
	if err != nil {
		writeError(w, "failed to list investments", http.StatusInternalServerError)
		return
	}
	if invs == nil {
		invs = []model.Investment{}
	}
	writeJSON(w, invs)
}

// TriggerFallout handles POST /api/v1/items/{itemID}/fallout
// Manually settles a fallout, the same path agents take on a failed
// withdrawal.
func (s *Service) TriggerFallout(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req FalloutRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	rec, err := s.resolver.Resolve(r.Context(), itemID, req.Recovered)
	if err != nil {
		if errors.Is(err, fallout.ErrNoActiveRisk) {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		writeError(w, "fallout settlement failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rec)
}

// ListFallouts handles GET /api/v1/items/{itemID}/fallouts
func (s *Service) ListFallouts(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	recs, err := s.resolver.History(r.Context(), itemID)
	if err != nil {
		writeError(w, "failed to list fallouts", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []model.FalloutRecord{}
	}
	writeJSON(w, recs)
}

// AdjustSchedule handles POST /api/v1/scheduler/adjust
func (s *Service) AdjustSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduler.AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	adj := s.sched.RequestAdjustment(r.Context(), req)
	writeJSON(w, adj)
}

// GetSchedulerState handles GET /api/v1/scheduler/state
func (s *Service) GetSchedulerState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.sched.Current())
}

// GetVolatility handles GET /api/v1/volatility
func (s *Service) GetVolatility(w http.ResponseWriter, r *http.Request) {
	sig, err := s.vol.Current(r.Context())
	if err != nil {
		writeError(w, "volatility source unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, sig)
}

// IngestAlert handles POST /api/v1/alerts
// Fans a market alert out to every running monitoring agent.
func (s *Service) IngestAlert(w http.ResponseWriter, r *http.Request) {
	var alert model.MarketAlert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if alert.Type == "" || alert.Severity == "" {
		writeError(w, "type and severity are required", http.StatusBadRequest)
		return
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	notified, woken := s.agents.CoordinateEmergencyProtocols(alert)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_alert",
			Severity: alert.Severity,
			Message:  alert.Message,
		})
	}
	writeJSON(w, AlertResponse{Alert: alert, AgentsNotified: notified, EmergencyWakes: woken})
}

// GetWarehouseMetrics handles GET /api/v1/warehouse/metrics?window=<n>
func (s *Service) GetWarehouseMetrics(w http.ResponseWriter, r *http.Request) {
	window := 0
	if raw := r.URL.Query().Get("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "window must be a non-negative integer", http.StatusBadRequest)
			return
		}
		window = n
	}

	summary, err := s.warehouse.Summarize(r.Context(), window)
	if err != nil {
		writeError(w, "failed to summarize observations", http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

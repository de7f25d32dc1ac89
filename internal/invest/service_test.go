package invest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/agent"
	"github.com/lendloop/invest-engine/internal/fallout"
	"github.com/lendloop/invest-engine/internal/funds"
	"github.com/lendloop/invest-engine/internal/holds"
	"github.com/lendloop/invest-engine/internal/invest"
	"github.com/lendloop/invest-engine/internal/marketdata"
	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/risk"
	"github.com/lendloop/invest-engine/internal/scheduler"
	"github.com/lendloop/invest-engine/internal/shipping"
	"github.com/lendloop/invest-engine/internal/store"
	"github.com/lendloop/invest-engine/internal/warehouse"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type testEnv struct {
	router  chi.Router
	funds   *funds.MemoryLedger
	tracker *shipping.MemoryTracker
	source  *marketdata.SimSource
	store   *store.MemoryStore
}

// newTestEnv wires the full engine over in-memory collaborators with a
// simulated market at volatility 0.15.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	fl := funds.NewMemoryLedger()
	tracker := shipping.NewMemoryTracker()
	ms := store.NewMemoryStore()
	source := marketdata.NewSimSource(0.15)
	hl := holds.NewLedger(fl, tracker, ms)
	auth := risk.NewAuthorizer(ms, fl, hl, source, risk.NewItemLocks(), nil)
	resolver := fallout.NewResolver(ms, fl, hl, auth, nil)
	wh := warehouse.New(ms)
	sched := scheduler.New(source, wh, scheduler.Config{})
	mgr := agent.NewManager(sched, source, source, resolver, auth, time.Second)
	auth.AttachSupervisor(mgr)

	svc := invest.NewService(ms, hl, auth, resolver, mgr, sched, wh, source, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	return &testEnv{router: r, funds: fl, tracker: tracker, source: source, store: ms}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, w.Body.String())
	}
	return v
}

func (env *testEnv) seedItem(shippingHold, additional, insurance float64) {
	env.funds.SetHold("item-1", model.HoldShipping, d(shippingHold))
	env.funds.SetHold("item-1", model.HoldAdditional, d(additional))
	env.funds.SetHold("item-1", model.HoldInsurance, d(insurance))
	env.funds.SetWalletBalance("wallet-borrower", d(100))
	env.funds.SetWalletBalance("wallet-owner", d(0))
}

func enableBody(anti float64) invest.EnableRiskRequest {
	return invest.EnableRiskRequest{
		BorrowerWalletID: "wallet-borrower",
		OwnerWalletID:    "wallet-owner",
		RiskPercentage:   d(50),
		AntiCollateral:   d(anti),
	}
}

func TestGetHolds(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 10, 5)

	w := env.do(t, "GET", "/api/v1/items/item-1/holds", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	hb := decode[model.HoldBalance](t, w)
	if !hb.ShippingHold.Equal(d(40)) || !hb.TotalInvestable.Equal(d(10)) {
		t.Errorf("unexpected balance: %+v", hb)
	}
}

func TestCheckEligibility(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 10, 5)

	w := env.do(t, "GET", "/api/v1/items/item-1/eligibility?hold_type=additional", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if elig := decode[model.Eligibility](t, w); !elig.IsEligible {
		t.Errorf("additional not eligible: %+v", elig)
	}

	w = env.do(t, "GET", "/api/v1/items/item-1/eligibility?hold_type=shipping", nil)
	if elig := decode[model.Eligibility](t, w); elig.IsEligible {
		t.Error("shipping eligible without risk mode")
	}

	w = env.do(t, "GET", "/api/v1/items/item-1/eligibility", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing hold_type: status = %d, want 400", w.Code)
	}
}

func TestEnableRisk_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 0, 0)

	// 40 * 50% = 20 at risk; 20 * 0.15 = 3.00 anti-collateral.
	w := env.do(t, "POST", "/api/v1/items/item-1/risk/enable", enableBody(3.00))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	cfg := decode[model.RiskConfig](t, w)
	if !cfg.AmountAtRisk.Equal(d(20)) {
		t.Errorf("amount at risk = %s, want 20", cfg.AmountAtRisk)
	}

	w = env.do(t, "GET", "/api/v1/items/item-1/status", nil)
	status := decode[invest.ItemStatus](t, w)
	if !status.RiskyModeEnabled {
		t.Error("status does not show risk mode enabled")
	}
	if !status.AntiCollateralDeposited.Equal(d(3.00)) {
		t.Errorf("deposited = %s, want 3.00", status.AntiCollateralDeposited)
	}
	if status.RobotsActive != 1 {
		t.Errorf("robots active = %d, want 1", status.RobotsActive)
	}

	// Shipping hold is now investable.
	w = env.do(t, "GET", "/api/v1/items/item-1/eligibility?hold_type=shipping", nil)
	if elig := decode[model.Eligibility](t, w); !elig.IsEligible {
		t.Errorf("shipping not eligible with risk mode on: %+v", elig)
	}
}

func TestEnableRisk_CollateralMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 0, 0)

	w := env.do(t, "POST", "/api/v1/items/item-1/risk/enable", enableBody(1.00))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
	}
}

func TestEnableRisk_DoubleEnableConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 0, 0)

	if w := env.do(t, "POST", "/api/v1/items/item-1/risk/enable", enableBody(3.00)); w.Code != http.StatusOK {
		t.Fatalf("first enable: %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/items/item-1/risk/enable", enableBody(3.00)); w.Code != http.StatusConflict {
		t.Fatalf("second enable: status = %d, want 409", w.Code)
	}
}

func TestEnableRisk_MissingWallets(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 0, 0)

	body := enableBody(3.00)
	body.BorrowerWalletID = ""
	if w := env.do(t, "POST", "/api/v1/items/item-1/risk/enable", body); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDisableRisk_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 0, 0)

	if w := env.do(t, "POST", "/api/v1/items/item-1/risk/disable", nil); w.Code != http.StatusOK {
		t.Errorf("disable of non-enabled item: status = %d, want 200", w.Code)
	}

	env.do(t, "POST", "/api/v1/items/item-1/risk/enable", enableBody(3.00))
	if w := env.do(t, "POST", "/api/v1/items/item-1/risk/disable", nil); w.Code != http.StatusOK {
		t.Errorf("disable: status = %d, want 200", w.Code)
	}

	w := env.do(t, "GET", "/api/v1/items/item-1/status", nil)
	if status := decode[invest.ItemStatus](t, w); status.RiskyModeEnabled {
		t.Error("risk mode still on after disable")
	}
}

func TestInvestHold_EligibilityGated(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 10, 5)

	// Additional is always investable.
	w := env.do(t, "POST", "/api/v1/items/item-1/invest", invest.InvestRequest{
		HoldType: model.HoldAdditional,
		Amount:   d(5),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	inv := decode[model.Investment](t, w)
	if inv.Status != model.InvestmentActive || !inv.Amount.Equal(d(5)) {
		t.Errorf("unexpected investment: %+v", inv)
	}

	// Shipping is locked without risk mode.
	w = env.do(t, "POST", "/api/v1/items/item-1/invest", invest.InvestRequest{
		HoldType: model.HoldShipping,
		Amount:   d(5),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("shipping invest without risk mode: status = %d, want 409", w.Code)
	}

	// Amount above the bucket is rejected.
	w = env.do(t, "POST", "/api/v1/items/item-1/invest", invest.InvestRequest{
		HoldType: model.HoldAdditional,
		Amount:   d(50),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("over-bucket invest: status = %d, want 409", w.Code)
	}

	// Non-positive amounts are rejected outright.
	w = env.do(t, "POST", "/api/v1/items/item-1/invest", invest.InvestRequest{
		HoldType: model.HoldAdditional,
		Amount:   d(0),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero invest: status = %d, want 400", w.Code)
	}
}

func TestFallout_SettlesAndLists(t *testing.T) {
	env := newTestEnv(t)
	env.funds.SetHold("item-1", model.HoldShipping, d(60))
	env.funds.SetHold("item-1", model.HoldInsurance, d(20))
	env.funds.SetWalletBalance("wallet-borrower", d(100))
	env.funds.SetWalletBalance("wallet-owner", d(0))

	// 60 * 50% = 30 at risk; 30 * 0.15 = 4.50.
	if w := env.do(t, "POST", "/api/v1/items/item-1/risk/enable", enableBody(4.50)); w.Code != http.StatusOK {
		t.Fatalf("enable: %d (%s)", w.Code, w.Body.String())
	}

	w := env.do(t, "POST", "/api/v1/items/item-1/fallout", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("fallout: status = %d, body %s", w.Code, w.Body.String())
	}
	rec := decode[model.FalloutRecord](t, w)
	if !rec.BorrowerShare.Equal(d(25)) || !rec.OwnerShare.Equal(d(25)) {
		t.Errorf("shares = %s/%s, want 25/25", rec.BorrowerShare, rec.OwnerShare)
	}

	w = env.do(t, "GET", "/api/v1/items/item-1/fallouts", nil)
	recs := decode[[]model.FalloutRecord](t, w)
	if len(recs) != 1 || recs[0].ID != rec.ID {
		t.Errorf("fallout list = %+v", recs)
	}

	// A second fallout has no active risk to settle.
	if w := env.do(t, "POST", "/api/v1/items/item-1/fallout", nil); w.Code != http.StatusConflict {
		t.Errorf("second fallout: status = %d, want 409", w.Code)
	}
}

func TestScheduler_AdjustAndState(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/scheduler/adjust", scheduler.AdjustmentRequest{
		JobID:             "job-1",
		CurrentVolatility: 0.25,
		CurrentFrequency:  scheduler.TierLow,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("adjust: status = %d", w.Code)
	}
	adj := decode[scheduler.Adjustment](t, w)
	if adj.NewFrequency != scheduler.TierVeryHigh || adj.IntervalMinutes != 15 {
		t.Errorf("adjustment = %+v, want veryhigh/15", adj)
	}

	w = env.do(t, "GET", "/api/v1/scheduler/state", nil)
	state := decode[scheduler.State](t, w)
	if state.Tier != scheduler.TierVeryHigh {
		t.Errorf("state tier = %s, want veryhigh", state.Tier)
	}
}

func TestVolatility(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/v1/volatility", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	sig := decode[model.VolatilitySignal](t, w)
	if sig.Volatility != 0.15 {
		t.Errorf("volatility = %v, want 0.15", sig.Volatility)
	}
}

func TestIngestAlert(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(40, 0, 0)

	w := env.do(t, "POST", "/api/v1/alerts", model.MarketAlert{
		Type:     model.AlertDownturn,
		Severity: model.SeverityLow,
		Message:  "dip",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decode[invest.AlertResponse](t, w)
	if resp.AgentsNotified != 0 || resp.EmergencyWakes != 0 {
		t.Errorf("notified/wakes = %d/%d, want 0/0", resp.AgentsNotified, resp.EmergencyWakes)
	}
	if resp.Alert.ID == "" {
		t.Error("alert ID not assigned")
	}

	w = env.do(t, "POST", "/api/v1/alerts", model.MarketAlert{Message: "no type"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing type: status = %d, want 400", w.Code)
	}
}

func TestWarehouseMetrics(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, "POST", "/api/v1/scheduler/adjust", scheduler.AdjustmentRequest{
		JobID:             "job-1",
		CurrentVolatility: 0.10,
	})

	w := env.do(t, "GET", "/api/v1/warehouse/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	sum := decode[warehouse.Summary](t, w)
	if sum.SchedulerSamples != 1 || sum.LastAdjustment == nil {
		t.Errorf("summary = %+v, want one scheduler sample", sum)
	}

	if w := env.do(t, "GET", "/api/v1/warehouse/metrics?window=bad", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad window: status = %d, want 400", w.Code)
	}
}

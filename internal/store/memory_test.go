package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/model"
	"github.com/lendloop/invest-engine/internal/store"
)

func TestRiskConfig_Lifecycle(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.GetRiskConfig(ctx, "item-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cfg := &model.RiskConfig{
		ItemID:         "item-1",
		InvestmentID:   "inv-1",
		RiskPercentage: decimal.NewFromInt(50),
		CreatedAt:      time.Now().UTC(),
	}
	if err := ms.CreateRiskConfig(ctx, cfg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ms.CreateRiskConfig(ctx, cfg); err == nil {
		t.Fatal("duplicate create succeeded")
	}

	got, err := ms.GetRiskConfig(ctx, "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.InvestmentID != "inv-1" {
		t.Errorf("investment id = %s", got.InvestmentID)
	}

	// Mutating the returned copy must not leak into the store.
	got.InvestmentID = "mutated"
	again, _ := ms.GetRiskConfig(ctx, "item-1")
	if again.InvestmentID != "inv-1" {
		t.Error("store state mutated through returned pointer")
	}

	if err := ms.DeleteRiskConfig(ctx, "item-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := ms.GetRiskConfig(ctx, "item-1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("config survived delete")
	}
	if err := ms.DeleteRiskConfig(ctx, "item-1"); err != nil {
		t.Errorf("delete of absent config errored: %v", err)
	}
}

func TestInvestments_StatusUpdates(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	inv := &model.Investment{
		ID:       "inv-1",
		ItemID:   "item-1",
		HoldType: model.HoldShipping,
		Amount:   decimal.NewFromInt(20),
		Status:   model.InvestmentActive,
	}
	if err := ms.CreateInvestment(ctx, inv); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := ms.UpdateInvestmentStatus(ctx, "inv-1", model.InvestmentLost); err != nil {
		t.Fatalf("update: %v", err)
	}
	invs, err := ms.ListInvestments(ctx, "item-1")
	if err != nil || len(invs) != 1 {
		t.Fatalf("list = %v (err %v)", invs, err)
	}
	if invs[0].Status != model.InvestmentLost {
		t.Errorf("status = %s, want lost", invs[0].Status)
	}

	if err := ms.UpdateInvestmentStatus(ctx, "ghost", model.InvestmentLost); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown investment, got %v", err)
	}
}

func TestFallouts_AppendOnly(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"f1", "f2"} {
		rec := &model.FalloutRecord{ID: id, ItemID: "item-1", Timestamp: time.Now().UTC()}
		if err := ms.AppendFallout(ctx, rec); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	recs, err := ms.ListFallouts(ctx, "item-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("records = %d, want 2", len(recs))
	}

	other, _ := ms.ListFallouts(ctx, "item-2")
	if len(other) != 0 {
		t.Errorf("records leaked across items: %v", other)
	}
}

func TestObservations_NewestFirstWithLimit(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		obs := &model.Observation{ID: id, Kind: model.ObservationVolatility, Timestamp: time.Now().UTC()}
		if err := ms.AppendObservation(ctx, obs); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	obs, err := ms.ListObservations(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(obs) != 2 || obs[0].ID != "c" || obs[1].ID != "b" {
		t.Errorf("observations = %+v, want [c b]", obs)
	}
}

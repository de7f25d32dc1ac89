package exposure_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/lendloop/invest-engine/internal/exposure"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestReserve_WithinLimits(t *testing.T) {
	l := exposure.NewLimiter(d(100), d(500))

	if err := l.Reserve("w1", "item-1", d(50)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if !l.WalletExposure("w1").Equal(d(50)) {
		t.Errorf("exposure = %s, want 50", l.WalletExposure("w1"))
	}
}

func TestReserve_PerItemExceeded(t *testing.T) {
	l := exposure.NewLimiter(d(100), d(500))

	if err := l.Reserve("w1", "item-1", d(101)); !errors.Is(err, exposure.ErrItemLimitExceeded) {
		t.Fatalf("expected ErrItemLimitExceeded, got %v", err)
	}
	if !l.WalletExposure("w1").IsZero() {
		t.Error("rejected reservation still counted")
	}
}

func TestReserve_WalletAggregateExceeded(t *testing.T) {
	l := exposure.NewLimiter(d(100), d(150))

	if err := l.Reserve("w1", "item-1", d(100)); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := l.Reserve("w1", "item-2", d(100)); !errors.Is(err, exposure.ErrWalletLimitExceeded) {
		t.Fatalf("expected ErrWalletLimitExceeded, got %v", err)
	}

	// A different wallet is unaffected.
	if err := l.Reserve("w2", "item-3", d(100)); err != nil {
		t.Errorf("other wallet reserve failed: %v", err)
	}
}

func TestReserve_ReplacesExistingItem(t *testing.T) {
	l := exposure.NewLimiter(d(100), d(150))

	if err := l.Reserve("w1", "item-1", d(100)); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	// Re-reserving the same item replaces, not accumulates.
	if err := l.Reserve("w1", "item-1", d(80)); err != nil {
		t.Fatalf("re-reserve: %v", err)
	}
	if !l.WalletExposure("w1").Equal(d(80)) {
		t.Errorf("exposure = %s, want 80", l.WalletExposure("w1"))
	}
}

func TestRelease_FreesCapacity(t *testing.T) {
	l := exposure.NewLimiter(d(100), d(150))

	l.Reserve("w1", "item-1", d(100))
	l.Reserve("w1", "item-2", d(50))

	l.Release("item-1")
	if !l.WalletExposure("w1").Equal(d(50)) {
		t.Errorf("exposure = %s after release, want 50", l.WalletExposure("w1"))
	}

	if err := l.Reserve("w1", "item-3", d(100)); err != nil {
		t.Errorf("reserve after release failed: %v", err)
	}

	// Releasing an unknown item is a no-op.
	l.Release("ghost")
}

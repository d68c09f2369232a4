package strategy

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

func testProfitEstimator(t *testing.T, prices *fakePrices, cfg ProfitConfig) (*ProfitEstimator, *State) {
	t.Helper()
	state := newTestState(t)
	state.SetGasEstimates(100, 50)

	estimator := NewProfitEstimator(prices, state, cfg, zerolog.Nop())
	return estimator, state
}

func profitFeeds() *fakePrices {
	return &fakePrices{answers: map[common.Address]*big.Int{
		testGasFeed:   big.NewInt(2_000_000_000), // 2.0 at 9 decimals
		testPriceFeed: big.NewInt(300_000_000),   // 3.0 at 8 decimals
	}}
}

func profitConfig() ProfitConfig {
	return ProfitConfig{
		GasFeed:           testGasFeed,
		GasFeedDecimals:   9,
		PriceFeed:         testPriceFeed,
		PriceFeedDecimals: 8,
	}
}

func TestMonthlyGasUnits(t *testing.T) {
	estimator, _ := testProfitEstimator(t, profitFeeds(), profitConfig())

	units := estimator.MonthlyGasUnits(AttestedInputs{OffersInLastMonth: 3, RemovesInLastMonth: 2})
	if units.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected 400 gas units, got %s", units)
	}
}

func TestMonthlyGasCost(t *testing.T) {
	estimator, _ := testProfitEstimator(t, profitFeeds(), profitConfig())

	cost, err := estimator.MonthlyGasCost(context.Background(), AttestedInputs{OffersInLastMonth: 3, RemovesInLastMonth: 2})
	if err != nil {
		t.Fatalf("gas cost failed: %v", err)
	}
	// 400 units * 2.0 gas price * 3.0 quote price.
	if cost.Cmp(big.NewInt(2400)) != 0 {
		t.Fatalf("expected cost 2400, got %s", cost)
	}
}

func TestProfitabilitySubtractsCost(t *testing.T) {
	estimator, _ := testProfitEstimator(t, profitFeeds(), profitConfig())
	estimator.WithClock(func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) })

	prof, err := estimator.Profitability(context.Background(), AttestedInputs{
		ThirtyDayProfitPotential: big.NewInt(10000),
		OffersInLastMonth:        3,
		RemovesInLastMonth:       2,
		AttestedAt:               time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("profitability failed: %v", err)
	}
	if prof.Cmp(big.NewInt(7600)) != 0 {
		t.Fatalf("expected profitability 7600, got %s", prof)
	}
}

func TestProfitabilityStaleAttestation(t *testing.T) {
	cfg := profitConfig()
	cfg.MaxAttestationAge = time.Hour
	estimator, _ := testProfitEstimator(t, profitFeeds(), cfg)

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	estimator.WithClock(func() time.Time { return now })

	_, err := estimator.Profitability(context.Background(), AttestedInputs{
		ThirtyDayProfitPotential: big.NewInt(10000),
		AttestedAt:               now.Add(-2 * time.Hour),
	})
	if !errors.Is(err, ErrStaleAttestation) {
		t.Fatalf("expected ErrStaleAttestation, got %v", err)
	}
}

func TestIsProfitableMarginFloor(t *testing.T) {
	cfg := profitConfig()
	cfg.MinProfitMargin = FractionToWAD(0.1)
	estimator, _ := testProfitEstimator(t, profitFeeds(), cfg)

	inputs := AttestedInputs{
		ThirtyDayProfitPotential: big.NewInt(10000),
		OffersInLastMonth:        3,
		RemovesInLastMonth:       2,
		AttestedAt:               time.Now(),
	}

	// Profitability is 7600; a 10% margin of 100000 demands more than 10000.
	ok, err := estimator.IsProfitable(context.Background(), inputs, big.NewInt(100_000))
	if err != nil {
		t.Fatalf("IsProfitable failed: %v", err)
	}
	if ok {
		t.Fatal("profit below the margin floor must not count as profitable")
	}

	// The same profit clears a 10% margin of 50000.
	ok, err = estimator.IsProfitable(context.Background(), inputs, big.NewInt(50_000))
	if err != nil {
		t.Fatalf("IsProfitable failed: %v", err)
	}
	if !ok {
		t.Fatal("profit above the margin floor must count as profitable")
	}
}

func TestIsProfitableBareCheck(t *testing.T) {
	estimator, _ := testProfitEstimator(t, profitFeeds(), profitConfig())

	// Cost 2400 exceeds the 2000 potential.
	ok, err := estimator.IsProfitable(context.Background(), AttestedInputs{
		ThirtyDayProfitPotential: big.NewInt(2000),
		OffersInLastMonth:        3,
		RemovesInLastMonth:       2,
		AttestedAt:               time.Now(),
	}, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("IsProfitable failed: %v", err)
	}
	if ok {
		t.Fatal("negative projected profit must not count as profitable")
	}
}

package strategy

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"loankeeper/internal/lending"
	"loankeeper/internal/vault"
)

func testAccountant(t *testing.T, sim *lending.Sim, ledger vault.Ledger) (*Accountant, *Manager, *State) {
	t.Helper()
	state := newTestState(t)
	offers := NewManager(sim, nil, state, testOfferTemplate(), zerolog.Nop())
	accountant := NewAccountant(sim, ledger, offers, state, sim, AccountantConfig{}, zerolog.Nop()).
		WithClock(func() time.Time { return time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC) })
	return accountant, offers, state
}

func TestReconcileProfitAndFullDebtPayment(t *testing.T) {
	// Idle 850 plus 150 out on loan makes 1000 of assets against 800 of debt.
	sim := lending.NewSim(big.NewInt(850), nil, nil)
	ledger := vault.NewStatic(big.NewInt(800), big.NewInt(150))
	accountant, _, _ := testAccountant(t, sim, ledger)

	report, err := accountant.Reconcile(context.Background(), big.NewInt(150), AttestedInputs{
		OutstandingLoans: big.NewInt(150),
	})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if report.Profit.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected profit 200, got %s", report.Profit)
	}
	if report.DebtPayment.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected debt payment 150, got %s", report.DebtPayment)
	}
	if report.Loss.Sign() != 0 {
		t.Fatalf("expected no loss, got %s", report.Loss)
	}
	if report.TotalAssets.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected total assets 1000, got %s", report.TotalAssets)
	}
}

func TestReconcileShortfallBecomesLoss(t *testing.T) {
	// Idle 50 and only 40 withdrawable against a demand of 100: 90 freed,
	// the missing 10 is a loss.
	sim := lending.NewSim(big.NewInt(50), big.NewInt(40), nil)
	ledger := vault.NewStatic(big.NewInt(10_000), big.NewInt(100))
	accountant, _, _ := testAccountant(t, sim, ledger)

	report, err := accountant.Reconcile(context.Background(), big.NewInt(100), AttestedInputs{})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if report.Profit.Sign() != 0 {
		t.Fatalf("underwater position must report zero profit, got %s", report.Profit)
	}
	if report.DebtPayment.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("expected debt payment 90, got %s", report.DebtPayment)
	}
	if report.Loss.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected loss 10, got %s", report.Loss)
	}
	if sim.IdleBalance().Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("expected idle 90 after withdrawal, got %s", sim.IdleBalance())
	}
}

func TestReconcileDebtPaymentPriority(t *testing.T) {
	// Assets 220 against debt 100 project a profit of 120, but only 120 can
	// be freed for the combined demand of 220. The debt payment is made in
	// full; profit absorbs the shortfall and no loss is reported.
	sim := lending.NewSim(big.NewInt(70), big.NewInt(50), nil)
	ledger := vault.NewStatic(big.NewInt(100), big.NewInt(100))
	accountant, _, _ := testAccountant(t, sim, ledger)

	report, err := accountant.Reconcile(context.Background(), big.NewInt(100), AttestedInputs{
		OutstandingLoans: big.NewInt(150),
	})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if report.DebtPayment.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected full debt payment 100, got %s", report.DebtPayment)
	}
	if report.Profit.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected capped profit 20, got %s", report.Profit)
	}
	if report.Loss.Sign() != 0 {
		t.Fatalf("shortfall absorbed by profit must not report a loss, got %s", report.Loss)
	}
	sum := new(big.Int).Add(report.Profit, report.DebtPayment)
	if sum.Cmp(report.Freed) > 0 {
		t.Fatalf("profit plus payment %s exceeds freed %s", sum, report.Freed)
	}
}

func TestReconcileHarvestsExcessCollateral(t *testing.T) {
	// With no debt demand the whole collateralized balance is surplus and
	// comes back to idle before the split.
	sim := lending.NewSim(big.NewInt(100), big.NewInt(50), nil)
	ledger := vault.NewStatic(big.NewInt(100), nil)
	accountant, _, _ := testAccountant(t, sim, ledger)

	report, err := accountant.Reconcile(context.Background(), nil, AttestedInputs{})
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if sim.IdleBalance().Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected surplus pulled to idle 150, got %s", sim.IdleBalance())
	}
	if report.Profit.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected profit 50, got %s", report.Profit)
	}
	if report.DebtPayment.Sign() != 0 {
		t.Fatalf("expected no debt payment, got %s", report.DebtPayment)
	}
}

func TestEstimatedTotalAssets(t *testing.T) {
	sim := lending.NewSim(big.NewInt(600), nil, nil)
	accountant, _, _ := testAccountant(t, sim, vault.NewStatic(nil, nil))

	total, err := accountant.EstimatedTotalAssets(context.Background(), AttestedInputs{
		OutstandingLoans: big.NewInt(400),
	})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if total.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000, got %s", total)
	}
}

func TestLiquidateAll(t *testing.T) {
	sim := lending.NewSim(big.NewInt(10), big.NewInt(90), nil)
	accountant, offers, state := testAccountant(t, sim, vault.NewStatic(nil, nil))

	// Put a live offer on the books first.
	if err := offers.Issue(context.Background(), new(big.Int).Mul(big.NewInt(100), WAD)); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if sim.LiveOffers() != 1 {
		t.Fatal("expected a live offer before liquidation")
	}

	freed, err := accountant.LiquidateAll(context.Background())
	if err != nil {
		t.Fatalf("liquidate failed: %v", err)
	}

	if freed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 freed, got %s", freed)
	}
	if state.OffersEnabled() {
		t.Fatal("liquidation must disable new offers")
	}
	if sim.LiveOffers() != 0 {
		t.Fatal("liquidation must cancel the standing offer")
	}
}

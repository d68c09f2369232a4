package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"loankeeper/internal/lending"
	"loankeeper/internal/strategy"
	"loankeeper/internal/vault"
)

// SimulateHarvest runs one reconciliation cycle against an in-memory lending
// protocol and a static vault ledger, printing the resulting split. No RPC or
// database access happens.
func (a *App) SimulateHarvest(ctx context.Context, opts SimulateOptions) error {
	idle, err := parseAmount("--idle", opts.Idle)
	if err != nil {
		return err
	}
	collateral, err := parseAmount("--collateral", opts.CollateralAssets)
	if err != nil {
		return err
	}
	outstanding, err := parseAmount("--outstanding-loans", opts.OutstandingLoans)
	if err != nil {
		return err
	}
	totalDebt, err := parseAmount("--total-debt", opts.TotalDebt)
	if err != nil {
		return err
	}
	debtOutstanding, err := parseAmount("--debt-outstanding", opts.DebtOutstanding)
	if err != nil {
		return err
	}

	rate := strategy.FractionToWAD(opts.ExchangeRate)
	if rate.Sign() <= 0 {
		rate = new(big.Int).Set(strategy.WAD)
	}

	// The simulator exchanges at a fixed rate, so the collateralized balance
	// is seeded in cAsset terms.
	cBalance := new(big.Int).Mul(collateral, strategy.WAD)
	cBalance.Quo(cBalance, rate)

	sim := lending.NewSim(idle, cBalance, rate)
	ledger := vault.NewStatic(totalDebt, debtOutstanding)

	state, err := a.newState()
	if err != nil {
		return err
	}
	template, err := a.offerTemplate()
	if err != nil {
		return err
	}

	offers := strategy.NewManager(sim, nil, state, template, a.Logger)
	accountant := strategy.NewAccountant(sim, ledger, offers, state, sim, strategy.AccountantConfig{}, a.Logger)

	report, err := accountant.Reconcile(ctx, debtOutstanding, strategy.AttestedInputs{
		OutstandingLoans: outstanding,
		AttestedAt:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "cycle:            %s\n", report.CycleID)
	fmt.Fprintf(os.Stdout, "total assets:     %s\n", report.TotalAssets)
	fmt.Fprintf(os.Stdout, "total debt:       %s\n", report.TotalDebt)
	fmt.Fprintf(os.Stdout, "profit:           %s\n", report.Profit)
	fmt.Fprintf(os.Stdout, "loss:             %s\n", report.Loss)
	fmt.Fprintf(os.Stdout, "debt payment:     %s\n", report.DebtPayment)
	fmt.Fprintf(os.Stdout, "freed:            %s\n", report.Freed)
	fmt.Fprintf(os.Stdout, "idle after cycle: %s\n", sim.IdleBalance())
	return nil
}

func parseAmount(flag, value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s value: %q", flag, value)
	}
	return amount, nil
}

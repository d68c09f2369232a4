package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"loankeeper/internal/storage"
)

// Attest stores operator-attested indexer figures for the controller to
// consume on the next cycle. Amounts are raw base-asset units.
func (a *App) Attest(ctx context.Context, opts AttestOptions) error {
	potential, err := decimal.NewFromString(opts.ProfitPotential)
	if err != nil {
		return fmt.Errorf("invalid --profit-potential value: %w", err)
	}
	outstanding, err := decimal.NewFromString(opts.OutstandingLoans)
	if err != nil {
		return fmt.Errorf("invalid --outstanding-loans value: %w", err)
	}
	if opts.OffersLastMonth < 0 || opts.RemovesLastMonth < 0 {
		return errors.New("operation counts cannot be negative")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot attest")
	}
	if closeStore != nil {
		defer closeStore()
	}

	att := storage.Attestation{
		ThirtyDayProfitPotential: potential,
		OffersLastMonth:          opts.OffersLastMonth,
		RemovesLastMonth:         opts.RemovesLastMonth,
		OutstandingLoans:         outstanding,
		AttestedAt:               time.Now().UTC(),
	}
	if err := store.UpsertAttestation(ctx, att); err != nil {
		return err
	}

	a.Logger.Info().
		Str("profit_potential", potential.String()).
		Str("outstanding_loans", outstanding.String()).
		Int64("offers_last_month", opts.OffersLastMonth).
		Int64("removes_last_month", opts.RemovesLastMonth).
		Msg("attestation recorded")
	return nil
}

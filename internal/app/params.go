package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"loankeeper/internal/storage"
	"loankeeper/internal/strategy"
)

// SetParams merges the provided fields over the stored admin parameters,
// validates the result through the same rules the controller enforces, and
// persists it. The running service picks the new values up on its next cycle.
func (a *App) SetParams(ctx context.Context, opts ParamsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot update params")
	}
	if closeStore != nil {
		defer closeStore()
	}

	current, found, err := store.GetParams(ctx)
	if err != nil {
		return err
	}
	if !found {
		ctrl := a.Config.Controller
		current = storage.Params{
			ExpirationWindow: ctrl.ExpirationWindow,
			AllowedDelta:     decimal.NewFromFloat(ctrl.AllowedDelta),
			CollateralRatio:  decimal.NewFromFloat(ctrl.CollateralRatio),
			OffersEnabled:    ctrl.OffersEnabled,
		}
	}

	if opts.ExpirationWindow != nil {
		current.ExpirationWindow = *opts.ExpirationWindow
	}
	if opts.AllowedDelta != nil {
		current.AllowedDelta = decimal.NewFromFloat(*opts.AllowedDelta)
	}
	if opts.CollateralRatio != nil {
		current.CollateralRatio = decimal.NewFromFloat(*opts.CollateralRatio)
	}
	if opts.OffersEnabled != nil {
		current.OffersEnabled = *opts.OffersEnabled
	}

	if err := validateParams(current); err != nil {
		return err
	}

	if err := store.UpsertParams(ctx, current); err != nil {
		return err
	}

	a.Logger.Info().
		Dur("expiration_window", current.ExpirationWindow).
		Str("allowed_delta", current.AllowedDelta.String()).
		Str("collateral_ratio", current.CollateralRatio.String()).
		Bool("offers_enabled", current.OffersEnabled).
		Msg("strategy params updated")
	return nil
}

// ShowParams prints the stored admin parameters.
func (a *App) ShowParams(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show params")
	}
	if closeStore != nil {
		defer closeStore()
	}

	params, found, err := store.GetParams(ctx)
	if err != nil {
		return err
	}
	if !found {
		fmt.Fprintln(os.Stdout, "no stored params; the controller uses configuration defaults")
		return nil
	}

	fmt.Fprintf(os.Stdout, "expiration_window: %s\n", params.ExpirationWindow)
	fmt.Fprintf(os.Stdout, "allowed_delta:     %s\n", params.AllowedDelta.String())
	fmt.Fprintf(os.Stdout, "collateral_ratio:  %s\n", params.CollateralRatio.String())
	fmt.Fprintf(os.Stdout, "offers_enabled:    %t\n", params.OffersEnabled)
	fmt.Fprintf(os.Stdout, "updated_at:        %s\n", params.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
	return nil
}

// validateParams runs the merged values through the controller's own state
// rules before they are persisted.
func validateParams(params storage.Params) error {
	delta := params.AllowedDelta.Mul(decimal.New(1, 18)).BigInt()
	ratio := params.CollateralRatio.Mul(decimal.New(1, 18)).BigInt()

	_, err := strategy.NewState(strategy.StateConfig{
		ExpirationWindow: params.ExpirationWindow,
		AllowedDelta:     delta,
		CollateralRatio:  ratio,
		OffersEnabled:    params.OffersEnabled,
	})
	return err
}

package app

import (
	"context"
	"fmt"
	"math/big"
	"os"
)

// Liquidate winds the position down: issuance is disabled, the collateralized
// balance is withdrawn, and the standing offer is cancelled. Capital locked in
// unmatured loans stays out until borrowers repay or default.
func (a *App) Liquidate(ctx context.Context) error {
	components, err := a.newStack()
	if err != nil {
		return err
	}
	defer components.close()

	freed, err := components.accountant.LiquidateAll(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "liquidation complete; idle balance: %s\n", freed)
	return nil
}

// Seize claims the collateral item of a defaulted loan.
func (a *App) Seize(ctx context.Context, itemID string) error {
	id, ok := new(big.Int).SetString(itemID, 10)
	if !ok || id.Sign() < 0 {
		return fmt.Errorf("invalid item id: %q", itemID)
	}

	collection, err := parseAddress("controller.collection", a.Config.Controller.Collection)
	if err != nil {
		return err
	}

	components, err := a.newStack()
	if err != nil {
		return err
	}
	defer components.close()

	if err := components.protocol.Seize(ctx, collection, id); err != nil {
		return err
	}

	a.Logger.Info().Str("item_id", id.String()).Msg("collateral seized")
	return nil
}

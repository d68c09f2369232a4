package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var liquidateConfirmed bool

var liquidateCmd = &cobra.Command{
	Use:   "liquidate",
	Short: "Wind down the position: disable offers and withdraw everything withdrawable",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !liquidateConfirmed {
			return errors.New("liquidation submits transactions; confirm with --yes")
		}
		return getApp().Liquidate(cmd.Context())
	},
}

var seizeCmd = &cobra.Command{
	Use:   "seize <item-id>",
	Short: "Seize the collateral item of a defaulted loan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Seize(cmd.Context(), args[0])
	},
}

func init() {
	liquidateCmd.Flags().BoolVar(&liquidateConfirmed, "yes", false, "Confirm the liquidation")
}

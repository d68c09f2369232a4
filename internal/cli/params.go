package cli

import (
	"time"

	"github.com/spf13/cobra"

	"loankeeper/internal/app"
)

var (
	paramsWindow  time.Duration
	paramsDelta   float64
	paramsRatio   float64
	paramsEnabled bool
)

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show or update strategy parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ParamsOptions{}
		changed := false

		if cmd.Flags().Changed("expiration-window") {
			opts.ExpirationWindow = &paramsWindow
			changed = true
		}
		if cmd.Flags().Changed("allowed-delta") {
			opts.AllowedDelta = &paramsDelta
			changed = true
		}
		if cmd.Flags().Changed("collateral-ratio") {
			opts.CollateralRatio = &paramsRatio
			changed = true
		}
		if cmd.Flags().Changed("offers-enabled") {
			opts.OffersEnabled = &paramsEnabled
			changed = true
		}

		if !changed {
			return getApp().ShowParams(cmd.Context())
		}
		return getApp().SetParams(cmd.Context(), opts)
	},
}

func init() {
	paramsCmd.Flags().DurationVar(&paramsWindow, "expiration-window", 0, "Offer expiration window (must exceed 24h)")
	paramsCmd.Flags().Float64Var(&paramsDelta, "allowed-delta", 0, "Repricing trigger threshold as a fraction (0.01 = 1%)")
	paramsCmd.Flags().Float64Var(&paramsRatio, "collateral-ratio", 0, "Fraction of floor price offered, in (0, 1]")
	paramsCmd.Flags().BoolVar(&paramsEnabled, "offers-enabled", true, "Whether new offers may be issued")
}

package cli

import (
	"github.com/spf13/cobra"

	"loankeeper/internal/app"
)

var (
	attestProfitPotential  string
	attestOffersLastMonth  int64
	attestRemovesLastMonth int64
	attestOutstandingLoans string
)

var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Record operator-attested indexer figures",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Attest(cmd.Context(), app.AttestOptions{
			ProfitPotential:  attestProfitPotential,
			OffersLastMonth:  attestOffersLastMonth,
			RemovesLastMonth: attestRemovesLastMonth,
			OutstandingLoans: attestOutstandingLoans,
		})
	},
}

func init() {
	attestCmd.Flags().StringVar(&attestProfitPotential, "profit-potential", "0", "Projected 30-day profit in raw base-asset units")
	attestCmd.Flags().Int64Var(&attestOffersLastMonth, "offers-last-month", 0, "Offer creations observed over the trailing month")
	attestCmd.Flags().Int64Var(&attestRemovesLastMonth, "removes-last-month", 0, "Offer removals observed over the trailing month")
	attestCmd.Flags().StringVar(&attestOutstandingLoans, "outstanding-loans", "0", "Base-asset value currently out on loan, raw units")
}

package cli

import (
	"github.com/spf13/cobra"

	"loankeeper/internal/app"
)

var (
	simIdle        string
	simCollateral  string
	simRate        float64
	simOutstanding string
	simTotalDebt   string
	simDebtOut     string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-harvest",
	Short: "Dry-run a harvest reconciliation against an in-memory protocol",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateHarvest(cmd.Context(), app.SimulateOptions{
			Idle:             simIdle,
			CollateralAssets: simCollateral,
			ExchangeRate:     simRate,
			OutstandingLoans: simOutstanding,
			TotalDebt:        simTotalDebt,
			DebtOutstanding:  simDebtOut,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simIdle, "idle", "0", "Idle base-asset balance, raw units")
	simulateCmd.Flags().StringVar(&simCollateral, "collateral", "0", "Collateralized balance in base-asset terms, raw units")
	simulateCmd.Flags().Float64Var(&simRate, "rate", 1.0, "Collateralized-asset exchange rate")
	simulateCmd.Flags().StringVar(&simOutstanding, "outstanding-loans", "0", "Base-asset value out on loan, raw units")
	simulateCmd.Flags().StringVar(&simTotalDebt, "total-debt", "0", "Vault-recorded total debt, raw units")
	simulateCmd.Flags().StringVar(&simDebtOut, "debt-outstanding", "0", "Vault repayment demand this cycle, raw units")
}

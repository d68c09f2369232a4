package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

// Show prints recent harvest reports.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show harvest reports")
	}
	if closeStore != nil {
		defer closeStore()
	}

	reports, err := store.ListRecentHarvestReports(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintln(os.Stdout, "no harvest reports found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Harvested (UTC)", "Profit", "Loss", "Debt Payment", "Freed", "Idle", "Outstanding", "Total Debt")

	for _, report := range reports {
		table.Append(
			report.HarvestedAt.UTC().Format(time.RFC3339),
			formatUnits(report.Profit),
			formatUnits(report.Loss),
			formatUnits(report.DebtPayment),
			formatUnits(report.Freed),
			formatUnits(report.IdleBalance),
			formatUnits(report.OutstandingLoans),
			formatUnits(report.TotalDebt),
		)
	}

	table.Render()
	return nil
}

// formatUnits renders a raw base-asset amount in whole-token terms.
func formatUnits(d decimal.Decimal) string {
	return d.Div(decimal.New(1, 18)).StringFixed(6)
}

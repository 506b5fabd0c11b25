package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"oanda-trader/pkg/utils"
)

// showHistory renders the performance summary from persisted history.
func showHistory(cmd *cobra.Command, app *App, output *Output) error {
	ctx := cmd.Context()
	since := time.Now().AddDate(0, 0, -30)

	trades, err := app.Store.GetTrades(ctx, since, time.Now())
	if err != nil {
		return fmt.Errorf("loading trades: %w", err)
	}
	curve, err := app.Store.GetEquityCurve(ctx, since, time.Now())
	if err != nil {
		return fmt.Errorf("loading equity curve: %w", err)
	}

	var totalPnL float64
	wins := 0
	for _, tr := range trades {
		totalPnL += tr.RealizedPnL
		if tr.Win() {
			wins++
		}
	}

	if output.IsJSON() {
		summary := map[string]interface{}{
			"trades_30d":    len(trades),
			"wins":          wins,
			"total_pnl":     totalPnL,
			"equity_points": len(curve),
		}
		if len(curve) > 0 {
			summary["last_equity"] = curve[len(curve)-1].Equity
			summary["last_drawdown"] = curve[len(curve)-1].Drawdown
		}
		return output.JSON(summary)
	}

	currency := app.Config.Trading.AccountCurrency
	output.Info("Last 30 days")
	output.Printf("Trades: %d\n", len(trades))
	if len(trades) > 0 {
		output.Printf("Win rate: %.1f%%\n", float64(wins)/float64(len(trades))*100)
	}
	output.Printf("Realized P&L: %s\n", output.FormatPnL(totalPnL, currency))
	if len(curve) > 0 {
		last := curve[len(curve)-1]
		output.Printf("Equity: %s\n", utils.FormatCurrency(last.Equity, currency))
		output.Printf("Drawdown: %s\n", output.FormatPercent(-last.Drawdown*100))
	}
	return nil
}

// newTradesCmd lists recent closed trades.
func newTradesCmd(app *App) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List recent closed trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("trade history store unavailable")
			}

			since := time.Now().AddDate(0, 0, -days)
			trades, err := app.Store.GetTrades(cmd.Context(), since, time.Now())
			if err != nil {
				return fmt.Errorf("loading trades: %w", err)
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No closed trades in the last %d days.", days)
				return nil
			}

			currency := app.Config.Trading.AccountCurrency
			table := NewTable(output, "CLOSED", "SYMBOL", "SIDE", "UNITS", "ENTRY", "EXIT", "P&L", "REASON", "HELD")
			for i := len(trades) - 1; i >= 0; i-- {
				tr := trades[i]
				table.AddRow(
					tr.ExitTime.Local().Format("Jan 02 15:04"),
					tr.Symbol,
					string(tr.Side),
					fmt.Sprintf("%.0f", tr.Units),
					fmt.Sprintf("%.5f", tr.EntryPrice),
					fmt.Sprintf("%.5f", tr.ExitPrice),
					output.FormatPnL(tr.RealizedPnL, currency),
					string(tr.Reason),
					utils.FormatDuration(tr.ExitTime.Sub(tr.EntryTime)),
				)
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "how many days back to list")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"es-option-bot/internal/config"
	"es-option-bot/internal/storage"
)

const reportTimeLayout = "2006-01-02 15:04"

// runReport prints the trade journal as a table followed by the aggregate
// statistics. Reads the journal file directly; the bot does not need to be
// running.
func runReport(cfg *config.Config, w io.Writer) error {
	journal, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open trade journal: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPENED\tCONTRACT\tSIDE\tQTY\tENTRY\tEXIT\tREASON\tSTATUS\tPNL")

	printTrade := func(trade storage.TradeRecord) {
		exit := "-"
		reason := "-"
		pnl := "-"
		if trade.Status == storage.TradeClosed {
			exit = trade.ExitPrice.StringFixed(2)
			reason = trade.ExitReason
			pnl = trade.PnL().StringFixed(2)
		} else if trade.Status == storage.TradeAborted {
			reason = trade.ExitReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			trade.OpenedAt.Format(reportTimeLayout),
			trade.Contract.LocalName(),
			trade.Side,
			trade.Quantity,
			trade.EntryPrice.StringFixed(2),
			exit,
			reason,
			trade.Status,
			pnl,
		)
	}

	for _, trade := range journal.History() {
		printTrade(trade)
	}
	if open := journal.CurrentTrade(); open != nil {
		printTrade(*open)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	stats := journal.GetStatistics()
	fmt.Fprintf(w, "\nTrades: %d (open %d, closed %d, aborted %d)\n",
		stats.TotalTrades, stats.OpenTrades, stats.ClosedTrades, stats.Aborted)
	fmt.Fprintf(w, "Total P&L: %s points\n", stats.TotalPnL.StringFixed(2))
	return nil
}

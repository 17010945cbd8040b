package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pricefeed/pricefeed/internal/model"
)

// Show prints the most recent observations for a ticker.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	ticker, err := model.ParseTicker(opts.Ticker)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("cannot show observations: %w", err)
	}
	defer closeStore()

	rows, err := store.ListRecent(ctx, ticker, opts.Limit)
	if err != nil {
		return err
	}
	return writeTable(os.Stdout, rows)
}

func writeTable(out io.Writer, rows []model.Observation) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "no observations found")
		return err
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tTicker\tPrice\tCaptured (ms)")
	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\n",
			row.CapturedAt().Format(time.RFC3339Nano),
			row.Ticker,
			row.Price.String(),
			row.CapturedTsMs,
		)
	}
	return writer.Flush()
}

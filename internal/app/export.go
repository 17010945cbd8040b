package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/pricefeed/pricefeed/internal/model"
)

// Export renders stored observations for one ticker as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	ticker, err := model.ParseTicker(opts.Ticker)
	if err != nil {
		return err
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return fmt.Errorf("cannot export: %w", err)
	}
	defer closeStore()

	rows, err := store.ListBetween(ctx, ticker, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Str("ticker", ticker.String()).Msg("no observations found for export window")
		return nil
	}

	downsampled := downsample(rows, opts.MaxPoints)
	a.Logger.Info().
		Str("ticker", ticker.String()).
		Int("total", len(rows)).
		Int("exported", len(downsampled)).
		Msg("exporting observations")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeCSV(w, downsampled) }); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}

	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return renderPNG(w, ticker, downsampled) }); err != nil {
			return fmt.Errorf("write png: %w", err)
		}
	}

	return nil
}

func downsample(rows []model.Observation, max int) []model.Observation {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]model.Observation, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeCSV(out io.Writer, rows []model.Observation) error {
	writer := csv.NewWriter(out)

	header := []string{"ticker", "captured_ts_ms", "captured_at", "price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.Ticker.String(),
			strconv.FormatInt(row.CapturedTsMs, 10),
			row.CapturedAt().Format(time.RFC3339Nano),
			row.Price.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func renderPNG(out io.Writer, ticker model.Ticker, rows []model.Observation) error {
	x := make([]time.Time, len(rows))
	prices := make([]float64, len(rows))
	for i, row := range rows {
		x[i] = row.CapturedAt()
		prices[i] = row.Price.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           fmt.Sprintf("Index price (%s)", ticker.IndexName()),
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    ticker.String(),
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, out)
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pricefeed/pricefeed/internal/app"
)

var (
	showTicker string
	showLimit  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent observations for a ticker",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Ticker: showTicker,
			Limit:  showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showTicker, "ticker", "btc_usd", "Ticker to display (btc_usd, eth_usd)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of observations to display")
}

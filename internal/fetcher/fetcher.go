package fetcher

import (
	"context"

	"github.com/pricefeed/pricefeed/internal/model"
)

// PriceFetcher retrieves current index prices from the provider.
//
// Implementations never retry; failures are returned as *model.Error so the
// caller can branch on the kind.
type PriceFetcher interface {
	FetchOne(ctx context.Context, ticker string) (model.Observation, error)
	FetchMany(ctx context.Context, tickers []string) ([]model.Observation, error)
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation is a single index price captured by this process.
type Observation struct {
	Ticker Ticker
	Price  decimal.Decimal
	// CapturedTsMs is the local wall clock at response receipt, in
	// milliseconds since the epoch. The provider timestamp is never used.
	CapturedTsMs int64
}

// CapturedAt returns CapturedTsMs as a UTC time.
func (o Observation) CapturedAt() time.Time {
	return time.UnixMilli(o.CapturedTsMs).UTC()
}

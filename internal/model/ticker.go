package model

import (
	"strings"
)

// Ticker identifies one of the supported index price symbols.
type Ticker string

const (
	BTCUSD Ticker = "btc_usd"
	ETHUSD Ticker = "eth_usd"
)

// indexNames maps a ticker to the provider index it is priced from.
var indexNames = map[Ticker]string{
	BTCUSD: "btc_usd",
	ETHUSD: "eth_usd",
}

// SupportedTickers returns the closed set of tickers in a stable order.
func SupportedTickers() []Ticker {
	return []Ticker{BTCUSD, ETHUSD}
}

// ParseTicker normalises case, surrounding whitespace and the dash/underscore
// separator, then checks the result against the supported set.
func ParseTicker(raw string) (Ticker, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")

	t := Ticker(normalized)
	if _, ok := indexNames[t]; !ok {
		return "", &Error{
			Kind:   KindUnsupportedTicker,
			Ticker: raw,
			Err:    ErrUnsupportedTicker,
		}
	}
	return t, nil
}

// IndexName returns the provider index name for the ticker.
func (t Ticker) IndexName() string {
	return indexNames[t]
}

// Valid reports whether t belongs to the supported set.
func (t Ticker) Valid() bool {
	_, ok := indexNames[t]
	return ok
}

func (t Ticker) String() string {
	return string(t)
}

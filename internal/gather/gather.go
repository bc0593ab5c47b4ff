// Package gather defines the upstream data contracts: today's ticker
// universe and per-ticker daily price history.
package gather

import (
	"context"
	"errors"
	"time"

	"ohlcvsync/internal/domain"
)

var (
	// ErrEmptyTicker is returned when a fetch is attempted for "".
	ErrEmptyTicker = errors.New("gather: empty ticker")
	// ErrInvalidTicker is returned for symbols outside [A-Z0-9.-].
	ErrInvalidTicker = errors.New("gather: invalid ticker")
	// ErrNoData is returned when the provider does not know the symbol.
	ErrNoData = errors.New("gather: no data for symbol")
)

// UniverseSource lists the tickers currently tradable.
type UniverseSource interface {
	// TodayTickers returns normalised, deduplicated, sorted tickers.
	TodayTickers(ctx context.Context) ([]string, error)
}

// HistorySource fetches daily bars for one ticker.
type HistorySource interface {
	// FetchDaily returns bars from start through the latest available day,
	// ascending by date. An empty result is not an error.
	FetchDaily(ctx context.Context, ticker string, start time.Time) ([]domain.Bar, error)
}

// CheckTicker validates ticker before it is sent upstream.
func CheckTicker(ticker string) error {
	if ticker == "" {
		return ErrEmptyTicker
	}
	if !domain.ValidTicker(ticker) {
		return ErrInvalidTicker
	}
	return nil
}

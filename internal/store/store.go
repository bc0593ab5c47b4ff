// Package store defines the persistence contracts for instruments and daily
// price history, with SQLite, Postgres and Parquet implementations.
package store

import (
	"context"
	"errors"
	"time"

	"ohlcvsync/internal/domain"
)

// ErrNotFound is returned when a ticker has no instrument row.
var ErrNotFound = errors.New("store: not found")

// InstrumentStore persists instrument identity and activity state.
type InstrumentStore interface {
	// EnsureInstrument inserts the ticker or reactivates it, stamps
	// last_seen with today's date and returns its stable id.
	EnsureInstrument(ctx context.Context, ticker string) (int64, error)

	// ListActiveTickers returns the tickers of every active instrument.
	ListActiveTickers(ctx context.Context) ([]string, error)

	// DeactivateTickers flips the given active instruments to inactive and
	// returns how many rows changed. Already inactive or unknown tickers
	// are ignored.
	DeactivateTickers(ctx context.Context, tickers []string) (int64, error)

	// LastBarDates maps every active ticker to the date of its latest
	// stored bar, or nil when it has no history.
	LastBarDates(ctx context.Context) (map[string]*time.Time, error)
}

// PriceHistoryStore persists daily bars keyed by (instrument, date).
type PriceHistoryStore interface {
	// UpsertDaily inserts or overwrites the bars and returns the number of
	// affected rows.
	UpsertDaily(ctx context.Context, instrumentID int64, bars []domain.Bar) (int64, error)
}

// InstrumentReader looks up a single instrument.
type InstrumentReader interface {
	GetInstrument(ctx context.Context, ticker string) (domain.Instrument, error)
}

// BarReader returns stored bars for a ticker within [start, end], ascending.
type BarReader interface {
	ReadBars(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error)
}

// Store is a complete relational backend.
type Store interface {
	InstrumentStore
	PriceHistoryStore
	InstrumentReader
	BarReader
	Close() error
}

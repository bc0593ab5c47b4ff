package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"ohlcvsync/internal/domain"
)

// Compile-time interface check.
var _ BarReader = (*ParquetArchive)(nil)

// ParquetArchive mirrors persisted bar windows into Parquet files on disk,
// one file per ticker and year:
//
//	<DataDir>/daily/<TICKER>/<YYYY>.parquet
//
// Writes merge by date, so re-archiving a window is idempotent.
type ParquetArchive struct {
	DataDir string

	mu sync.Mutex
}

// NewParquetArchive creates a ParquetArchive rooted at dataDir.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// BarRecord is the Parquet schema for one archived daily bar.
type BarRecord struct {
	Ticker      string   `parquet:"ticker"`
	Timestamp   int64    `parquet:"timestamp,timestamp(millisecond)"` // Unix ms, UTC midnight
	Open        *float64 `parquet:"open,optional"`
	High        *float64 `parquet:"high,optional"`
	Low         *float64 `parquet:"low,optional"`
	Close       *float64 `parquet:"close,optional"`
	AdjClose    *float64 `parquet:"adj_close,optional"`
	Volume      *int64   `parquet:"volume,optional"`
	Dividends   *float64 `parquet:"dividends,optional"`
	StockSplits *float64 `parquet:"stock_splits,optional"`
}

// WriteBars merges bars for ticker into the per-year files.
func (a *ParquetArchive) WriteBars(_ context.Context, ticker string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	ticker = strings.ToUpper(ticker)

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.Date.Year()
		groups[year] = append(groups[year], toRecord(ticker, b))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for year, records := range groups {
		path := a.barPath(ticker, year)

		existing, err := readExisting(path)
		if err != nil {
			return fmt.Errorf("archive bars for %s/%d: %w", ticker, year, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("archive bars for %s/%d: %w", ticker, year, err)
		}
	}
	return nil
}

// ReadBars reads archived bars for ticker within [start, end].
func (a *ParquetArchive) ReadBars(_ context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	ticker = strings.ToUpper(ticker)
	lo, hi := start.UnixMilli(), end.UnixMilli()

	a.mu.Lock()
	defer a.mu.Unlock()

	var bars []domain.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		path := a.barPath(ticker, year)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			return nil, fmt.Errorf("read archive %s: %w", path, err)
		}
		for _, r := range records {
			if r.Timestamp >= lo && r.Timestamp <= hi {
				bars = append(bars, fromRecord(r))
			}
		}
	}
	return bars, nil
}

// ListTickers lists every ticker with archived bars.
func (a *ParquetArchive) ListTickers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.DataDir, "daily"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// barPath returns the file holding ticker's bars for year.
func (a *ParquetArchive) barPath(ticker string, year int) string {
	return filepath.Join(a.DataDir, "daily", ticker, strconv.Itoa(year)+".parquet")
}

// ---------------------------------------------------------------------------
// Record conversion
// ---------------------------------------------------------------------------

func toRecord(ticker string, b domain.Bar) BarRecord {
	return BarRecord{
		Ticker:      ticker,
		Timestamp:   b.Date.UnixMilli(),
		Open:        floatPtr(b.Open),
		High:        floatPtr(b.High),
		Low:         floatPtr(b.Low),
		Close:       floatPtr(b.Close),
		AdjClose:    floatPtr(b.AdjClose),
		Volume:      b.Volume,
		Dividends:   floatPtr(b.Dividends),
		StockSplits: floatPtr(b.StockSplits),
	}
}

func fromRecord(r BarRecord) domain.Bar {
	return domain.Bar{
		Date:        time.UnixMilli(r.Timestamp).UTC(),
		Open:        domain.NullNum(r.Open),
		High:        domain.NullNum(r.High),
		Low:         domain.NullNum(r.Low),
		Close:       domain.NullNum(r.Close),
		AdjClose:    domain.NullNum(r.AdjClose),
		Volume:      r.Volume,
		Dividends:   domain.NullNum(r.Dividends),
		StockSplits: domain.NullNum(r.StockSplits),
	}
}

func floatPtr(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f, _ := d.Decimal.Float64()
	return &f
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// readExisting reads a year file for merging. Only a missing file counts as
// empty; an unreadable one is an error so it is never overwritten.
func readExisting(path string) ([]BarRecord, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return readParquetFile[BarRecord](path)
}

// mergeBarRecords deduplicates records by timestamp, preferring incoming
// records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/util"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// deactivateChunk keeps IN lists well below SQLite's variable limit.
const deactivateChunk = 500

// SQLiteStore implements Store backed by a single SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	today func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// the schema migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// SQLite is single-writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dbPath, err)
	}
	if err := MigrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, today: util.Today}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// InstrumentStore implementation
// ---------------------------------------------------------------------------

// EnsureInstrument inserts or reactivates ticker and returns its id.
func (s *SQLiteStore) EnsureInstrument(ctx context.Context, ticker string) (int64, error) {
	today := util.FormatDay(s.today())
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO instruments (ticker, is_active, first_seen, last_seen)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (ticker) DO UPDATE SET
			is_active = 1,
			last_seen = excluded.last_seen,
			deactivated_at = NULL
		RETURNING id`, ticker, today, today).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure instrument %s: %w", ticker, err)
	}
	return id, nil
}

// ListActiveTickers returns active tickers in alphabetical order.
func (s *SQLiteStore) ListActiveTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker FROM instruments WHERE is_active = 1 ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("list active tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// DeactivateTickers marks the given active tickers inactive as of today.
func (s *SQLiteStore) DeactivateTickers(ctx context.Context, tickers []string) (int64, error) {
	if len(tickers) == 0 {
		return 0, nil
	}
	today := util.FormatDay(s.today())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin deactivate: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(tickers); start += deactivateChunk {
		chunk := tickers[start:min(start+deactivateChunk, len(tickers))]

		args := make([]any, 0, len(chunk)+1)
		args = append(args, today)
		for _, t := range chunk {
			args = append(args, t)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		res, err := tx.ExecContext(ctx, `
			UPDATE instruments SET is_active = 0, deactivated_at = ?
			WHERE is_active = 1 AND ticker IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("deactivate tickers: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("deactivate tickers: %w", err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit deactivate: %w", err)
	}
	return total, nil
}

// LastBarDates returns the latest bar date of every active instrument.
func (s *SQLiteStore) LastBarDates(ctx context.Context) (map[string]*time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.ticker, MAX(o.date)
		FROM instruments i
		LEFT JOIN ohlcv_daily o ON o.instrument_id = i.id
		WHERE i.is_active = 1
		GROUP BY i.ticker`)
	if err != nil {
		return nil, fmt.Errorf("last bar dates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*time.Time)
	for rows.Next() {
		var (
			ticker string
			last   sql.NullString
		)
		if err := rows.Scan(&ticker, &last); err != nil {
			return nil, fmt.Errorf("scan last bar date: %w", err)
		}
		if !last.Valid {
			out[ticker] = nil
			continue
		}
		d, err := util.ParseDay(last.String)
		if err != nil {
			return nil, fmt.Errorf("parse last bar date for %s: %w", ticker, err)
		}
		out[ticker] = &d
	}
	return out, rows.Err()
}

// GetInstrument returns the instrument row for ticker, or ErrNotFound.
func (s *SQLiteStore) GetInstrument(ctx context.Context, ticker string) (domain.Instrument, error) {
	var (
		inst        domain.Instrument
		active      bool
		lastSeen    string
		deactivated sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, ticker, is_active, last_seen, deactivated_at
		FROM instruments WHERE ticker = ?`, ticker).
		Scan(&inst.ID, &inst.Ticker, &active, &lastSeen, &deactivated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Instrument{}, fmt.Errorf("instrument %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("get instrument %s: %w", ticker, err)
	}

	if inst.LastSeen, err = util.ParseDay(lastSeen); err != nil {
		return domain.Instrument{}, fmt.Errorf("parse last_seen for %s: %w", ticker, err)
	}
	inst.State = domain.Active()
	if !active {
		var since time.Time
		if deactivated.Valid {
			since, _ = util.ParseDay(deactivated.String)
		}
		inst.State = domain.Inactive(since)
	}
	return inst, nil
}

// ---------------------------------------------------------------------------
// PriceHistoryStore implementation
// ---------------------------------------------------------------------------

// UpsertDaily writes bars in one transaction, overwriting existing dates.
func (s *SQLiteStore) UpsertDaily(ctx context.Context, instrumentID int64, bars []domain.Bar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ohlcv_daily
			(instrument_id, date, open, high, low, close, adj_close, volume, dividends, stock_splits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (instrument_id, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			adj_close = excluded.adj_close,
			volume = excluded.volume,
			dividends = excluded.dividends,
			stock_splits = excluded.stock_splits`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	var affected int64
	for _, b := range bars {
		res, err := stmt.ExecContext(ctx, instrumentID, util.FormatDay(b.Date),
			b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume, b.Dividends, b.StockSplits)
		if err != nil {
			return 0, fmt.Errorf("upsert bar %s: %w", util.FormatDay(b.Date), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return affected, nil
}

// ReadBars returns the stored bars of ticker within [start, end].
func (s *SQLiteStore) ReadBars(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.date, o.open, o.high, o.low, o.close, o.adj_close, o.volume, o.dividends, o.stock_splits
		FROM ohlcv_daily o
		JOIN instruments i ON i.id = o.instrument_id
		WHERE i.ticker = ? AND o.date >= ? AND o.date <= ?
		ORDER BY o.date`, ticker, util.FormatDay(start), util.FormatDay(end))
	if err != nil {
		return nil, fmt.Errorf("read bars %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			date   string
			b      domain.Bar
			volume sql.NullInt64
		)
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose,
			&volume, &b.Dividends, &b.StockSplits); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		if b.Date, err = util.ParseDay(date); err != nil {
			return nil, fmt.Errorf("parse bar date %q: %w", date, err)
		}
		if volume.Valid {
			b.Volume = domain.Int(volume.Int64)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

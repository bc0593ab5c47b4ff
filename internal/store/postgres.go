package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"ohlcvsync/internal/config"
	"ohlcvsync/internal/domain"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// BuildConnString renders a postgres:// URL from connection settings.
func BuildConnString(cfg config.Postgres) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		sslMode,
	)
}

// pgx5URL rewrites a postgres:// URL to the scheme the migrate driver
// registers.
func pgx5URL(connURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(connURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(connURL, prefix)
		}
	}
	return connURL
}

// NewPostgresStore migrates the schema, then opens and pings a pool.
func NewPostgresStore(ctx context.Context, cfg config.Postgres) (*PostgresStore, error) {
	connStr := BuildConnString(cfg)
	if err := MigratePostgres(connStr); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// EnsureInstrument inserts or reactivates ticker and returns its id.
func (s *PostgresStore) EnsureInstrument(ctx context.Context, ticker string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO instruments (ticker, is_active, first_seen, last_seen)
		VALUES ($1, TRUE, CURRENT_DATE, CURRENT_DATE)
		ON CONFLICT (ticker) DO UPDATE SET
			is_active = TRUE,
			last_seen = CURRENT_DATE,
			deactivated_at = NULL
		RETURNING id`, ticker).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure instrument %s: %w", ticker, err)
	}
	return id, nil
}

// ListActiveTickers returns active tickers in alphabetical order.
func (s *PostgresStore) ListActiveTickers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT ticker FROM instruments WHERE is_active ORDER BY ticker`)
	if err != nil {
		return nil, fmt.Errorf("list active tickers: %w", err)
	}
	tickers, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list active tickers: %w", err)
	}
	return tickers, nil
}

// DeactivateTickers marks the given active tickers inactive as of today.
func (s *PostgresStore) DeactivateTickers(ctx context.Context, tickers []string) (int64, error) {
	if len(tickers) == 0 {
		return 0, nil
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE instruments SET is_active = FALSE, deactivated_at = CURRENT_DATE
		WHERE ticker = ANY($1) AND is_active`, tickers)
	if err != nil {
		return 0, fmt.Errorf("deactivate tickers: %w", err)
	}
	return ct.RowsAffected(), nil
}

// LastBarDates returns the latest bar date of every active instrument.
func (s *PostgresStore) LastBarDates(ctx context.Context) (map[string]*time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.ticker, MAX(o.date)
		FROM instruments i
		LEFT JOIN ohlcv_daily o ON o.instrument_id = i.id
		WHERE i.is_active
		GROUP BY i.ticker`)
	if err != nil {
		return nil, fmt.Errorf("last bar dates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*time.Time)
	for rows.Next() {
		var (
			ticker string
			last   pgtype.Date
		)
		if err := rows.Scan(&ticker, &last); err != nil {
			return nil, fmt.Errorf("scan last bar date: %w", err)
		}
		if !last.Valid {
			out[ticker] = nil
			continue
		}
		d := last.Time
		out[ticker] = &d
	}
	return out, rows.Err()
}

// GetInstrument returns the instrument row for ticker, or ErrNotFound.
func (s *PostgresStore) GetInstrument(ctx context.Context, ticker string) (domain.Instrument, error) {
	var (
		inst        domain.Instrument
		active      bool
		lastSeen    time.Time
		deactivated pgtype.Date
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, ticker, is_active, last_seen, deactivated_at
		FROM instruments WHERE ticker = $1`, ticker).
		Scan(&inst.ID, &inst.Ticker, &active, &lastSeen, &deactivated)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Instrument{}, fmt.Errorf("instrument %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("get instrument %s: %w", ticker, err)
	}

	inst.LastSeen = lastSeen
	inst.State = domain.Active()
	if !active {
		inst.State = domain.Inactive(deactivated.Time)
	}
	return inst, nil
}

// UpsertDaily sends every bar in one pgx.Batch inside a transaction.
func (s *PostgresStore) UpsertDaily(ctx context.Context, instrumentID int64, bars []domain.Bar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`
			INSERT INTO ohlcv_daily
				(instrument_id, date, open, high, low, close, adj_close, volume, dividends, stock_splits)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (instrument_id, date) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				adj_close = EXCLUDED.adj_close,
				volume = EXCLUDED.volume,
				dividends = EXCLUDED.dividends,
				stock_splits = EXCLUDED.stock_splits`,
			instrumentID, pgtype.Date{Time: b.Date, Valid: true},
			b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume, b.Dividends, b.StockSplits)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	var affected int64
	for range bars {
		ct, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("upsert bars: %w", err)
		}
		affected += ct.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("upsert bars: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert: %w", err)
	}
	return affected, nil
}

// ReadBars returns the stored bars of ticker within [start, end].
func (s *PostgresStore) ReadBars(ctx context.Context, ticker string, start, end time.Time) ([]domain.Bar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT o.date,
			o.open::float8, o.high::float8, o.low::float8, o.close::float8,
			o.adj_close::float8, o.volume, o.dividends::float8, o.stock_splits::float8
		FROM ohlcv_daily o
		JOIN instruments i ON i.id = o.instrument_id
		WHERE i.ticker = $1 AND o.date BETWEEN $2 AND $3
		ORDER BY o.date`, ticker,
		pgtype.Date{Time: start, Valid: true}, pgtype.Date{Time: end, Valid: true})
	if err != nil {
		return nil, fmt.Errorf("read bars %s: %w", ticker, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var (
			date                          time.Time
			open, high, low, closePx, adj *float64
			volume                        *int64
			dividends, splits             *float64
		)
		if err := rows.Scan(&date, &open, &high, &low, &closePx, &adj, &volume, &dividends, &splits); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, domain.Bar{
			Date:        date,
			Open:        domain.NullNum(open),
			High:        domain.NullNum(high),
			Low:         domain.NullNum(low),
			Close:       domain.NullNum(closePx),
			AdjClose:    domain.NullNum(adj),
			Volume:      volume,
			Dividends:   domain.NullNum(dividends),
			StockSplits: domain.NullNum(splits),
		})
	}
	return bars, rows.Err()
}

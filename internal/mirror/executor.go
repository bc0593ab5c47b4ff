package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/gather"
	"ohlcvsync/internal/store"
	"ohlcvsync/internal/util"
)

// Archive receives every persisted window, keyed by ticker.
type Archive interface {
	WriteBars(ctx context.Context, ticker string, bars []domain.Bar) error
}

// ExecutorOptions tunes an Executor.
type ExecutorOptions struct {
	// DefaultStart is where a forced full-history refetch begins.
	DefaultStart time.Time
	// Workers bounds concurrent tickers; values below 1 mean 1.
	Workers int
	// SerializeWrites funnels every store write through one lock.
	SerializeWrites bool
	// RateLimiter, when set, is shared by all fetches.
	RateLimiter *util.RateLimiter
	// Stagger, when set, delays each fetch by a random interval.
	Stagger *util.Stagger
	// Archive, when set, mirrors each persisted window.
	Archive Archive
	// Observer receives ticker progress events.
	Observer Observer
}

// Executor runs update tasks against a history source and the stores.
type Executor struct {
	history     gather.HistorySource
	instruments store.InstrumentStore
	prices      store.PriceHistoryStore
	opts        ExecutorOptions
	events      *observer
	writeMu     sync.Mutex
	log         *slog.Logger
}

// NewExecutor wires an Executor.
func NewExecutor(history gather.HistorySource, instruments store.InstrumentStore, prices store.PriceHistoryStore, opts ExecutorOptions, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	opts.DefaultStart = util.Day(opts.DefaultStart)
	return &Executor{
		history:     history,
		instruments: instruments,
		prices:      prices,
		opts:        opts,
		events:      &observer{fn: opts.Observer},
		log:         log.With("component", "executor"),
	}
}

type outcomeKind int

const (
	outcomeSkipped outcomeKind = iota // zero value: never started
	outcomeUpdated
	outcomeFailed
)

type outcome struct {
	kind   outcomeKind
	result domain.TickerResult
	err    error
}

// Run executes every task and reports per-ticker results in task order.
// A failing ticker never stops the others. Once ctx is cancelled no new
// ticker starts; those are reported as skipped.
func (e *Executor) Run(ctx context.Context, tasks []domain.UpdateTask) domain.RunReport {
	outcomes := make([]outcome, len(tasks))
	total := len(tasks)

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)

	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			e.events.emit(domain.Event{Kind: domain.EventTickerStarted, Ticker: task.Ticker, Index: i + 1, Total: total})

			res, err := e.UpdateOne(ctx, task)
			switch {
			case err == nil:
				outcomes[i] = outcome{kind: outcomeUpdated, result: res}
				msg := ""
				if res.Refetched {
					msg = "corporate action: full history refetched"
				}
				e.events.emit(domain.Event{Kind: domain.EventTickerFinished, Ticker: task.Ticker, Index: i + 1, Total: total, Rows: res.Rows, Message: msg})
			case ctx.Err() != nil && errors.Is(err, ctx.Err()):
				// Interrupted before anything was written.
				e.log.Info("ticker interrupted", "ticker", task.Ticker)
				e.events.emit(domain.Event{Kind: domain.EventTickerSkipped, Ticker: task.Ticker, Index: i + 1, Total: total, Message: "interrupted"})
			default:
				outcomes[i] = outcome{kind: outcomeFailed, err: err}
				e.log.Error("ticker update failed", "ticker", task.Ticker, "error", err)
				e.events.emit(domain.Event{Kind: domain.EventTickerFailed, Ticker: task.Ticker, Index: i + 1, Total: total, Message: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	var report domain.RunReport
	for i, o := range outcomes {
		switch o.kind {
		case outcomeUpdated:
			report.Updated = append(report.Updated, o.result)
		case outcomeFailed:
			report.Failed = append(report.Failed, domain.TickerError{Ticker: tasks[i].Ticker, Message: o.err.Error()})
		default:
			report.Skipped = append(report.Skipped, tasks[i].Ticker)
		}
	}
	return report
}

// UpdateOne fetches and persists a single ticker. When the incremental
// window contains a dividend or split, the window is discarded and the
// full history from DefaultStart is fetched and persisted instead; that
// second attempt never triggers a third.
func (e *Executor) UpdateOne(ctx context.Context, task domain.UpdateTask) (domain.TickerResult, error) {
	log := e.log.With("ticker", task.Ticker)

	bars, err := e.fetch(ctx, task)
	if err != nil {
		return domain.TickerResult{}, err
	}

	refetched := false
	if task.CheckCorporateActions && domain.AnyCorporateAction(bars) {
		log.Info("corporate action in window, refetching full history", "window_start", util.FormatDay(task.FetchStart))
		task = domain.UpdateTask{Ticker: task.Ticker, FetchStart: e.opts.DefaultStart}
		refetched = true

		if bars, err = e.fetch(ctx, task); err != nil {
			return domain.TickerResult{}, err
		}
	}

	rows, err := e.persist(ctx, task.Ticker, bars)
	if err != nil {
		return domain.TickerResult{}, err
	}

	log.Debug("ticker updated", "rows", rows, "fetched", len(bars), "start", util.FormatDay(task.FetchStart), "refetched", refetched)
	return domain.TickerResult{
		Ticker:     task.Ticker,
		Rows:       rows,
		Refetched:  refetched,
		FetchStart: task.FetchStart,
	}, nil
}

// fetch paces and performs one history request. An unknown symbol yields
// an empty window.
func (e *Executor) fetch(ctx context.Context, task domain.UpdateTask) ([]domain.Bar, error) {
	if err := e.opts.RateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := e.opts.Stagger.Wait(ctx); err != nil {
		return nil, err
	}

	bars, err := e.history.FetchDaily(ctx, task.Ticker, task.FetchStart)
	if errors.Is(err, gather.ErrNoData) {
		e.log.Warn("no data from source", "ticker", task.Ticker, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s from %s: %w", task.Ticker, util.FormatDay(task.FetchStart), err)
	}
	return bars, nil
}

// persist writes bars under a context detached from cancellation, so a
// quit never aborts a ticker mid-write. It returns the store's affected
// count, or the window size when the store reports zero.
func (e *Executor) persist(ctx context.Context, ticker string, bars []domain.Bar) (int64, error) {
	wctx := context.WithoutCancel(ctx)

	if e.opts.SerializeWrites {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
	}

	id, err := e.instruments.EnsureInstrument(wctx, ticker)
	if err != nil {
		return 0, fmt.Errorf("persist %s: %w", ticker, err)
	}
	affected, err := e.prices.UpsertDaily(wctx, id, bars)
	if err != nil {
		return 0, fmt.Errorf("persist %s: %w", ticker, err)
	}

	if e.opts.Archive != nil && len(bars) > 0 {
		if err := e.opts.Archive.WriteBars(wctx, ticker, bars); err != nil {
			e.log.Warn("archive write failed", "ticker", ticker, "error", err)
		}
	}

	if affected > 0 {
		return affected, nil
	}
	return int64(len(bars)), nil
}

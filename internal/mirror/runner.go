package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/gather"
	"ohlcvsync/internal/store"
	"ohlcvsync/internal/util"
)

// ErrEmptyUniverse is returned when the universe source yields no tickers
// and emptying the instrument table is not allowed.
var ErrEmptyUniverse = errors.New("universe source returned no tickers")

// SnapshotSink records the fresh universe of a run.
type SnapshotSink interface {
	Write(date time.Time, tickers []string) (string, error)
}

// RunOptions selects what a Runner does.
type RunOptions struct {
	// AllowEmptyUniverse lets an empty universe deactivate every instrument.
	AllowEmptyUniverse bool
	// DryRun plans without reconciling or fetching.
	DryRun bool
	// Tickers, when non-empty, restricts planning to these tickers.
	Tickers []string
}

// Runner drives one pass: universe, reconcile, plan, execute, report.
type Runner struct {
	universe   gather.UniverseSource
	store      store.InstrumentStore
	reconciler *Reconciler
	planner    *Planner
	executor   *Executor
	snapshots  SnapshotSink
	opts       RunOptions
	events     *observer
	now        func() time.Time
	log        *slog.Logger
}

// NewRunner wires a Runner. snapshots and observe may be nil.
func NewRunner(universe gather.UniverseSource, s store.InstrumentStore, planner *Planner, executor *Executor, snapshots SnapshotSink, opts RunOptions, observe Observer, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		universe:   universe,
		store:      s,
		reconciler: NewReconciler(s, log),
		planner:    planner,
		executor:   executor,
		snapshots:  snapshots,
		opts:       opts,
		events:     &observer{fn: observe},
		now:        time.Now,
		log:        log.With("component", "runner"),
	}
}

// Run performs one reconciliation and update pass. Universe, reconcile and
// planning failures are fatal and returned; per-ticker failures are only
// recorded in the report. A summary event closes every run that reaches
// execution.
func (r *Runner) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
	}
	log := r.log.With("run_id", report.RunID)
	log.Info("run started", "dry_run", r.opts.DryRun)

	if !r.opts.DryRun {
		deactivated, err := r.reconcile(ctx, log)
		if err != nil {
			return report, err
		}
		report.Deactivated = deactivated
	}

	lastBars, err := r.store.LastBarDates(ctx)
	if err != nil {
		return report, fmt.Errorf("planning: %w", err)
	}
	lastBars = r.restrict(lastBars, log)

	report.Planned = r.planner.Plan(lastBars)
	r.events.status(fmt.Sprintf("planned %d tickers", len(report.Planned)), false)
	log.Info("planned", "tasks", len(report.Planned), "full_update", r.planner.FullUpdate)

	if r.opts.DryRun {
		report.FinishedAt = r.now()
		r.events.emit(domain.Event{Kind: domain.EventSummary, Report: &report})
		return report, nil
	}

	exec := r.executor.Run(ctx, report.Planned)
	report.Updated = exec.Updated
	report.Failed = exec.Failed
	report.Skipped = exec.Skipped
	report.FinishedAt = r.now()

	if report.Cancelled() {
		r.events.status(fmt.Sprintf("cancelled: %d tickers not started", len(report.Skipped)), true)
	}
	log.Info("run finished",
		"updated", len(report.Updated),
		"failed", len(report.Failed),
		"deactivated", len(report.Deactivated),
		"skipped", len(report.Skipped),
		"rows", report.TotalRows(),
		"elapsed", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	r.events.emit(domain.Event{Kind: domain.EventSummary, Report: &report})
	return report, nil
}

func (r *Runner) reconcile(ctx context.Context, log *slog.Logger) ([]string, error) {
	raw, err := r.universe.TodayTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching universe: %w", err)
	}
	// The guard below must see the set that will actually be reconciled.
	fresh, invalid := domain.NormalizeTickers(raw)
	if len(invalid) > 0 {
		r.events.status(fmt.Sprintf("universe: ignoring %d invalid symbols", len(invalid)), true)
		log.Warn("ignoring invalid universe symbols", "count", len(invalid), "tickers", sample(invalid, 20))
	}
	r.events.status(fmt.Sprintf("universe: %d tickers", len(fresh)), false)

	if len(fresh) == 0 {
		if !r.opts.AllowEmptyUniverse {
			r.events.status("universe is empty: refusing to deactivate every instrument", true)
			return nil, ErrEmptyUniverse
		}
		r.events.status("universe is empty: every active instrument will be deactivated", true)
		log.Warn("empty universe, deactivating all instruments")
	}

	if r.snapshots != nil {
		if path, err := r.snapshots.Write(util.Day(r.now()), fresh); err != nil {
			log.Warn("universe snapshot failed", "error", err)
		} else {
			log.Debug("universe snapshot written", "path", path)
		}
	}

	deactivated, err := r.reconciler.Reconcile(ctx, fresh)
	if err != nil {
		return nil, err
	}
	if len(deactivated) > 0 {
		r.events.status(fmt.Sprintf("deactivated %d tickers", len(deactivated)), false)
	}
	return deactivated, nil
}

// restrict keeps only the requested tickers, warning about requested
// tickers that are not active instruments.
func (r *Runner) restrict(lastBars map[string]*time.Time, log *slog.Logger) map[string]*time.Time {
	if len(r.opts.Tickers) == 0 {
		return lastBars
	}
	wanted, _ := domain.NormalizeTickers(r.opts.Tickers)
	out := make(map[string]*time.Time, len(wanted))
	for _, t := range wanted {
		last, ok := lastBars[t]
		if !ok {
			log.Warn("requested ticker is not an active instrument", "ticker", t)
			continue
		}
		out[t] = last
	}
	return out
}

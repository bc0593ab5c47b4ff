// Command ohlcvsync reconciles the local instrument table with today's
// ticker universe and brings every active ticker's daily bars up to date.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"ohlcvsync/internal/config"
	"ohlcvsync/internal/console"
	"ohlcvsync/internal/gather/us"
	"ohlcvsync/internal/mirror"
	"ohlcvsync/internal/store"
	"ohlcvsync/internal/util"
)

type flags struct {
	config     string
	fullUpdate bool
	workers    int
	dryRun     bool
	tickers    string
	show       string
	verbose    bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "config file (default $OHLCVSYNC_CONFIG or config/ohlcvsync.yaml)")
	flag.BoolVar(&f.fullUpdate, "fullupdate", false, "refetch every ticker from the default start date")
	flag.IntVar(&f.workers, "workers", 0, "concurrent tickers, overrides update.workers")
	flag.BoolVar(&f.dryRun, "dry-run", false, "print the plan without reconciling or fetching")
	flag.StringVar(&f.tickers, "tickers", "", "comma-separated tickers to update (default: all active)")
	flag.StringVar(&f.show, "show", "", "print the stored bars of `TICKER` and exit")
	flag.BoolVar(&f.verbose, "v", false, "also print ticker start events")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "ohlcvsync: %v\n", err)
		os.Exit(1)
	}
}

func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("OHLCVSYNC_CONFIG"); p != "" {
		return p
	}
	return "config/ohlcvsync.yaml"
}

func run(f flags) error {
	cfg, err := config.Load(configPath(f.config))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if f.fullUpdate {
		cfg.Update.FullUpdate = true
	}
	if f.workers > 0 {
		cfg.Update.Workers = f.workers
	}

	logger, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	printer := console.NewPrinter(os.Stdout)
	printer.Verbose = f.verbose

	if f.show != "" {
		return show(ctx, cfg, f.show, printer)
	}

	defaultStart, err := cfg.Update.DefaultStart()
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	universe, history, err := newSources(cfg, logger)
	if err != nil {
		return err
	}

	opts := mirror.ExecutorOptions{
		DefaultStart:    defaultStart,
		Workers:         cfg.Update.Workers,
		SerializeWrites: cfg.Update.WritesSerialized(),
		RateLimiter:     util.NewRateLimiter(cfg.Update.RateLimitPerMin),
		Observer:        printer.Observe,
	}
	if cfg.Update.Stagger.Enabled {
		opts.Stagger = util.NewStagger(cfg.Update.Stagger.Min, cfg.Update.Stagger.Max)
	}
	if cfg.Storage.ArchiveDir != "" {
		opts.Archive = store.NewParquetArchive(cfg.Storage.ArchiveDir)
	}
	executor := mirror.NewExecutor(history, db, db, opts, logger)

	planner, err := mirror.NewPlanner(defaultStart, cfg.Update.OverlapDays, cfg.Update.FullUpdate)
	if err != nil {
		return err
	}

	var snapshots mirror.SnapshotSink
	if cfg.Universe.SnapshotDir != "" {
		snapshots = us.NewSnapshotWriter(cfg.Universe.SnapshotDir)
	}

	runOpts := mirror.RunOptions{
		AllowEmptyUniverse: cfg.Update.EmptyUniverseAllowed(),
		DryRun:             f.dryRun,
		Tickers:            splitTickers(f.tickers),
	}
	runner := mirror.NewRunner(universe, db, planner, executor, snapshots, runOpts, printer.Observe, logger)

	logger.Info("starting ohlcvsync",
		"driver", cfg.Storage.Driver,
		"universe", cfg.Universe.Source,
		"history", cfg.History.Source,
		"workers", cfg.Update.Workers,
		"full_update", cfg.Update.FullUpdate,
		"dry_run", f.dryRun,
	)

	report, err := runner.Run(ctx)
	if err != nil {
		if errors.Is(err, mirror.ErrEmptyUniverse) {
			return fmt.Errorf("%w (set update.allow_empty_universe to permit)", err)
		}
		return err
	}
	if f.dryRun {
		fmt.Fprint(os.Stdout, printer.Plan(report.Planned))
	}
	return nil
}

// newLogger builds the application logger, teeing to logging.file when set.
func newLogger(cfg config.Logging) (*slog.Logger, func(), error) {
	if cfg.File == "" {
		return util.NewLogger(cfg.Level, cfg.Format, os.Stderr), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	w := io.MultiWriter(os.Stderr, file)
	return util.NewLogger(cfg.Level, cfg.Format, w), func() { file.Close() }, nil
}

func splitTickers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// show prints the state and stored history of one ticker. Bars come from
// the archive when one is configured, else from the store.
func show(ctx context.Context, cfg *config.Config, ticker string, printer *console.Printer) error {
	start, err := cfg.Update.DefaultStart()
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	var (
		bars     store.BarReader = db
		archived tickerLister
	)
	if cfg.Storage.ArchiveDir != "" {
		archive := store.NewParquetArchive(cfg.Storage.ArchiveDir)
		bars, archived = archive, archive
	}
	return inspect(ctx, os.Stdout, printer, db, bars, archived, ticker, start, util.Today())
}

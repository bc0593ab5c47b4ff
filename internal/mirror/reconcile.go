package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/store"
)

// Reconciler aligns the instrument table with today's universe.
type Reconciler struct {
	store store.InstrumentStore
	log   *slog.Logger
}

// NewReconciler returns a Reconciler over s.
func NewReconciler(s store.InstrumentStore, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: s, log: log.With("component", "reconciler")}
}

// Reconcile ensures every fresh ticker is an active instrument, deactivates
// active instruments missing from fresh and returns those, sorted. An empty
// fresh set deactivates everything. Store errors abort the reconciliation.
func (r *Reconciler) Reconcile(ctx context.Context, fresh []string) ([]string, error) {
	tickers, invalid := domain.NormalizeTickers(fresh)
	if len(invalid) > 0 {
		r.log.Warn("ignoring invalid tickers", "count", len(invalid), "tickers", invalid)
	}

	for _, t := range tickers {
		if _, err := r.store.EnsureInstrument(ctx, t); err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
	}

	active, err := r.store.ListActiveTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	seen := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		seen[t] = struct{}{}
	}
	var missing []string
	for _, t := range active {
		if _, ok := seen[t]; !ok {
			missing = append(missing, t)
		}
	}
	sort.Strings(missing)

	if len(missing) > 0 {
		n, err := r.store.DeactivateTickers(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
		r.log.Info("deactivated instruments", "count", n, "tickers", sample(missing, 20))
	}

	r.log.Info("reconciled", "fresh", len(tickers), "active_before", len(active), "deactivated", len(missing))
	return missing, nil
}

func sample(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package mirror

import (
	"fmt"
	"sort"
	"time"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/util"
)

// Planner turns stored history into per-ticker fetch windows.
type Planner struct {
	DefaultStart time.Time
	OverlapDays  int
	FullUpdate   bool
}

// NewPlanner validates the policy and returns a Planner.
func NewPlanner(defaultStart time.Time, overlapDays int, fullUpdate bool) (*Planner, error) {
	if overlapDays < 0 {
		return nil, fmt.Errorf("overlap days %d: must be >= 0", overlapDays)
	}
	return &Planner{
		DefaultStart: util.Day(defaultStart),
		OverlapDays:  overlapDays,
		FullUpdate:   fullUpdate,
	}, nil
}

// Plan returns one task per ticker in lastBars, sorted by ticker.
//
// A ticker without history starts at DefaultStart. A ticker with history
// restarts OverlapDays before its last bar and checks the window for
// corporate actions. FullUpdate sends every ticker back to DefaultStart.
// No start is ever earlier than DefaultStart.
func (p *Planner) Plan(lastBars map[string]*time.Time) []domain.UpdateTask {
	tickers := make([]string, 0, len(lastBars))
	for t := range lastBars {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	tasks := make([]domain.UpdateTask, 0, len(tickers))
	for _, t := range tickers {
		last := lastBars[t]
		if p.FullUpdate || last == nil {
			tasks = append(tasks, domain.UpdateTask{Ticker: t, FetchStart: p.DefaultStart})
			continue
		}

		start := util.AddDays(*last, -p.OverlapDays)
		if start.Before(p.DefaultStart) {
			start = p.DefaultStart
		}
		tasks = append(tasks, domain.UpdateTask{Ticker: t, FetchStart: start, CheckCorporateActions: true})
	}
	return tasks
}

package mirror

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/gather"
	"ohlcvsync/internal/store"
)

var testDefaultStart = day("1975-01-01")

func newTestExecutor(h gather.HistorySource, s *memStore, opts ExecutorOptions) *Executor {
	if opts.DefaultStart.IsZero() {
		opts.DefaultStart = testDefaultStart
	}
	return NewExecutor(h, s, s, opts, nil)
}

func TestUpdateOneIncremental(t *testing.T) {
	s := newMemStore()
	s.seed("AAPL", bar("2024-06-07", 190), bar("2024-06-10", 192))

	h := staticHistory(bar("2024-06-07", 190), bar("2024-06-10", 193), bar("2024-06-11", 195))
	e := newTestExecutor(h, s, ExecutorOptions{})

	task := domain.UpdateTask{Ticker: "AAPL", FetchStart: day("2024-06-05"), CheckCorporateActions: true}
	res, err := e.UpdateOne(context.Background(), task)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if res.Refetched {
		t.Error("Refetched = true, want false without corporate actions")
	}
	if res.Rows != 3 {
		t.Errorf("Rows = %d, want 3", res.Rows)
	}
	if calls := h.callsFor("AAPL"); len(calls) != 1 {
		t.Errorf("fetch calls = %d, want 1", len(calls))
	}
	if got := s.barCount("AAPL"); got != 3 {
		t.Errorf("stored bars = %d, want 3", got)
	}
}

func TestUpdateOneCorporateActionRefetches(t *testing.T) {
	s := newMemStore()
	s.seed("AAPL", bar("2024-06-07", 190), bar("2024-06-10", 192))

	split := bar("2024-06-11", 96)
	split.StockSplits = domain.Num(2)

	full := []domain.Bar{bar("1980-12-12", 0.1), bar("2024-06-07", 95), bar("2024-06-10", 96), split}
	h := &fakeHistory{fn: func(_ context.Context, _ string, start time.Time) ([]domain.Bar, error) {
		if start.Equal(testDefaultStart) {
			return full, nil
		}
		return []domain.Bar{bar("2024-06-07", 190), bar("2024-06-10", 192), split}, nil
	}}
	e := newTestExecutor(h, s, ExecutorOptions{})

	task := domain.UpdateTask{Ticker: "AAPL", FetchStart: day("2024-06-05"), CheckCorporateActions: true}
	res, err := e.UpdateOne(context.Background(), task)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}

	calls := h.callsFor("AAPL")
	if len(calls) != 2 {
		t.Fatalf("fetch calls = %d, want 2", len(calls))
	}
	if !calls[0].Start.Equal(day("2024-06-05")) {
		t.Errorf("first fetch start = %v, want 2024-06-05", calls[0].Start)
	}
	if !calls[1].Start.Equal(testDefaultStart) {
		t.Errorf("second fetch start = %v, want %v", calls[1].Start, testDefaultStart)
	}
	if !res.Refetched || !res.FetchStart.Equal(testDefaultStart) {
		t.Errorf("result = %+v, want refetched from default start", res)
	}
	if got := s.barCount("AAPL"); got != len(full) {
		t.Errorf("stored bars = %d, want %d", got, len(full))
	}
}

func TestUpdateOneNoCheckWithoutHistory(t *testing.T) {
	div := bar("2024-06-10", 50)
	div.Dividends = domain.Num(0.25)
	h := staticHistory(bar("2024-06-07", 49), div)

	s := newMemStore()
	e := newTestExecutor(h, s, ExecutorOptions{})

	res, err := e.UpdateOne(context.Background(), domain.UpdateTask{Ticker: "NEWCO", FetchStart: testDefaultStart})
	if err != nil {
		t.Fatal(err)
	}
	if res.Refetched {
		t.Error("a task without the corporate-action check must not refetch")
	}
	if calls := h.callsFor("NEWCO"); len(calls) != 1 {
		t.Errorf("fetch calls = %d, want 1", len(calls))
	}
}

func TestUpdateOneNoRows(t *testing.T) {
	for name, h := range map[string]*fakeHistory{
		"empty window": staticHistory(),
		"no data": {fn: func(context.Context, string, time.Time) ([]domain.Bar, error) {
			return nil, fmt.Errorf("lookup XYZ: %w", gather.ErrNoData)
		}},
	} {
		t.Run(name, func(t *testing.T) {
			s := newMemStore()
			e := newTestExecutor(h, s, ExecutorOptions{})
			res, err := e.UpdateOne(context.Background(), domain.UpdateTask{Ticker: "XYZ", FetchStart: testDefaultStart})
			if err != nil {
				t.Fatalf("UpdateOne: %v", err)
			}
			if res.Rows != 0 {
				t.Errorf("Rows = %d, want 0", res.Rows)
			}
			if !s.active("XYZ") {
				t.Error("instrument should still be ensured")
			}
		})
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	s := newMemStore()
	h := &fakeHistory{fn: func(_ context.Context, ticker string, _ time.Time) ([]domain.Bar, error) {
		if ticker == "B" {
			return nil, errBoom
		}
		return []domain.Bar{bar("2024-06-10", 10)}, nil
	}}
	rec := &eventRecorder{}
	e := newTestExecutor(h, s, ExecutorOptions{Observer: rec.observe})

	tasks := []domain.UpdateTask{
		{Ticker: "A", FetchStart: testDefaultStart},
		{Ticker: "B", FetchStart: testDefaultStart},
		{Ticker: "C", FetchStart: testDefaultStart},
	}
	report := e.Run(context.Background(), tasks)

	if len(report.Updated) != 2 || report.Updated[0].Ticker != "A" || report.Updated[1].Ticker != "C" {
		t.Errorf("Updated = %+v, want A and C", report.Updated)
	}
	if len(report.Failed) != 1 || report.Failed[0].Ticker != "B" {
		t.Fatalf("Failed = %+v, want B", report.Failed)
	}
	if report.Failed[0].Message == "" {
		t.Error("failure message should not be empty")
	}
	if len(report.Skipped) != 0 {
		t.Errorf("Skipped = %v, want none", report.Skipped)
	}

	if got := rec.count(domain.EventTickerStarted); got != 3 {
		t.Errorf("started events = %d, want 3", got)
	}
	if got := rec.count(domain.EventTickerFinished); got != 2 {
		t.Errorf("finished events = %d, want 2", got)
	}
	if got := rec.count(domain.EventTickerFailed); got != 1 {
		t.Errorf("failed events = %d, want 1", got)
	}
}

func TestRunStoreFailureIsolated(t *testing.T) {
	s := newMemStore()
	s.seed("A")
	bID := s.seed("B")
	s.failUpsert[bID] = errBoom

	e := newTestExecutor(staticHistory(bar("2024-06-10", 1)), s, ExecutorOptions{})
	report := e.Run(context.Background(), []domain.UpdateTask{
		{Ticker: "A", FetchStart: testDefaultStart},
		{Ticker: "B", FetchStart: testDefaultStart},
	})
	if len(report.Updated) != 1 || len(report.Failed) != 1 || report.Failed[0].Ticker != "B" {
		t.Errorf("report = %+v, want A updated and B failed", report)
	}
}

func TestRunCancellationSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newMemStore()
	h := &fakeHistory{fn: func(_ context.Context, ticker string, _ time.Time) ([]domain.Bar, error) {
		if ticker == "A" {
			cancel()
		}
		return []domain.Bar{bar("2024-06-10", 10)}, nil
	}}
	e := newTestExecutor(h, s, ExecutorOptions{Workers: 1})

	report := e.Run(ctx, []domain.UpdateTask{
		{Ticker: "A", FetchStart: testDefaultStart},
		{Ticker: "B", FetchStart: testDefaultStart},
		{Ticker: "C", FetchStart: testDefaultStart},
	})

	if len(report.Updated) != 1 || report.Updated[0].Ticker != "A" {
		t.Errorf("Updated = %+v, want A", report.Updated)
	}
	if got := s.barCount("A"); got != 1 {
		t.Errorf("A stored bars = %d, want 1", got)
	}
	if len(report.Skipped) != 2 || report.Skipped[0] != "B" || report.Skipped[1] != "C" {
		t.Errorf("Skipped = %v, want [B C]", report.Skipped)
	}
	if len(report.Failed) != 0 {
		t.Errorf("Failed = %+v, want none", report.Failed)
	}
	if calls := h.callsFor("B"); len(calls) != 0 {
		t.Errorf("B fetched %d times after cancellation", len(calls))
	}
}

func TestRunInterruptedFetchIsSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &fakeHistory{fn: func(ctx context.Context, _ string, _ time.Time) ([]domain.Bar, error) {
		cancel()
		return nil, ctx.Err()
	}}
	rec := &eventRecorder{}
	e := newTestExecutor(h, newMemStore(), ExecutorOptions{Observer: rec.observe})

	report := e.Run(ctx, []domain.UpdateTask{{Ticker: "A", FetchStart: testDefaultStart}})
	if len(report.Failed) != 0 {
		t.Errorf("Failed = %+v, want none", report.Failed)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "A" {
		t.Errorf("Skipped = %v, want [A]", report.Skipped)
	}

	started := rec.count(domain.EventTickerStarted)
	ended := rec.count(domain.EventTickerFinished) + rec.count(domain.EventTickerFailed) + rec.count(domain.EventTickerSkipped)
	if started != 1 || ended != 1 {
		t.Errorf("started=%d ended=%d, want one of each", started, ended)
	}
	if got := rec.count(domain.EventTickerSkipped); got != 1 {
		t.Errorf("skipped events = %d, want 1", got)
	}
}

func TestRunBoundsWorkers(t *testing.T) {
	h := staticHistory(bar("2024-06-10", 1))
	h.delay = 20 * time.Millisecond
	s := newMemStore()
	e := newTestExecutor(h, s, ExecutorOptions{Workers: 3})

	var tasks []domain.UpdateTask
	for i := 0; i < 10; i++ {
		tasks = append(tasks, domain.UpdateTask{Ticker: fmt.Sprintf("T%d", i), FetchStart: testDefaultStart})
	}
	report := e.Run(context.Background(), tasks)

	if len(report.Updated) != 10 {
		t.Fatalf("Updated = %d, want 10", len(report.Updated))
	}
	for i, r := range report.Updated {
		if want := fmt.Sprintf("T%d", i); r.Ticker != want {
			t.Errorf("Updated[%d] = %s, want %s (task order)", i, r.Ticker, want)
		}
	}
	if got := h.maxInflight.Load(); got > 3 {
		t.Errorf("max concurrent fetches = %d, want <= 3", got)
	}
}

func TestRunSerializesWrites(t *testing.T) {
	s := newMemStore()
	s.upsertDelay = 10 * time.Millisecond
	e := newTestExecutor(staticHistory(bar("2024-06-10", 1)), s, ExecutorOptions{Workers: 4, SerializeWrites: true})

	var tasks []domain.UpdateTask
	for i := 0; i < 8; i++ {
		tasks = append(tasks, domain.UpdateTask{Ticker: fmt.Sprintf("T%d", i), FetchStart: testDefaultStart})
	}
	report := e.Run(context.Background(), tasks)

	if len(report.Updated) != 8 {
		t.Fatalf("Updated = %d, want 8", len(report.Updated))
	}
	if got := s.maxInflight.Load(); got != 1 {
		t.Errorf("max concurrent upserts = %d, want 1", got)
	}
}

func TestRunArchive(t *testing.T) {
	archive := &fakeArchive{}
	e := newTestExecutor(staticHistory(bar("2024-06-07", 1), bar("2024-06-10", 2)), newMemStore(), ExecutorOptions{Archive: archive})

	report := e.Run(context.Background(), []domain.UpdateTask{{Ticker: "AAPL", FetchStart: testDefaultStart}})
	if len(report.Updated) != 1 {
		t.Fatalf("Updated = %+v", report.Updated)
	}
	if archive.written["AAPL"] != 2 {
		t.Errorf("archived bars = %d, want 2", archive.written["AAPL"])
	}

	// Archive failures do not fail the ticker.
	archive.err = errBoom
	report = e.Run(context.Background(), []domain.UpdateTask{{Ticker: "MSFT", FetchStart: testDefaultStart}})
	if len(report.Updated) != 1 || len(report.Failed) != 0 {
		t.Errorf("report = %+v, want MSFT updated", report)
	}
}

func TestRunIdempotentSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ohlcvsync.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	h := staticHistory(bar("2024-06-06", 1), bar("2024-06-07", 2), bar("2024-06-10", 3))
	e := NewExecutor(h, db, db, ExecutorOptions{DefaultStart: testDefaultStart, SerializeWrites: true}, nil)
	tasks := []domain.UpdateTask{{Ticker: "AAPL", FetchStart: testDefaultStart}}

	for run := 1; run <= 2; run++ {
		report := e.Run(ctx, tasks)
		if len(report.Updated) != 1 {
			t.Fatalf("run %d: report = %+v", run, report)
		}
		bars, err := db.ReadBars(ctx, "AAPL", testDefaultStart, day("2030-01-01"))
		if err != nil {
			t.Fatal(err)
		}
		if len(bars) != 3 {
			t.Errorf("run %d: stored bars = %d, want 3", run, len(bars))
		}
	}

	last, err := db.LastBarDates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := last["AAPL"]; got == nil || !got.Equal(day("2024-06-10")) {
		t.Errorf("last bar = %v, want 2024-06-10", got)
	}
}

func TestNewExecutorDefaults(t *testing.T) {
	e := NewExecutor(staticHistory(), newMemStore(), newMemStore(), ExecutorOptions{Workers: -2}, nil)
	if e.opts.Workers != 1 {
		t.Errorf("Workers = %d, want 1", e.opts.Workers)
	}
}

func TestRunPoolIsolatesFailures(t *testing.T) {
	h := &fakeHistory{fn: func(_ context.Context, ticker string, _ time.Time) ([]domain.Bar, error) {
		if ticker == "T3" || ticker == "T7" {
			return nil, errBoom
		}
		return []domain.Bar{bar("2024-06-10", 1)}, nil
	}}
	h.delay = 5 * time.Millisecond
	e := newTestExecutor(h, newMemStore(), ExecutorOptions{Workers: 4})

	var tasks []domain.UpdateTask
	for i := 0; i < 10; i++ {
		tasks = append(tasks, domain.UpdateTask{Ticker: fmt.Sprintf("T%d", i), FetchStart: testDefaultStart})
	}
	report := e.Run(context.Background(), tasks)

	if len(report.Updated) != 8 {
		t.Errorf("Updated = %d, want 8", len(report.Updated))
	}
	if len(report.Failed) != 2 || report.Failed[0].Ticker != "T3" || report.Failed[1].Ticker != "T7" {
		t.Errorf("Failed = %+v, want T3 and T7", report.Failed)
	}
}

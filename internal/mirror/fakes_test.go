package mirror

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ohlcvsync/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	d := day(s)
	return &d
}

// bar returns a bar with a close price and no corporate action.
func bar(date string, closePx float64) domain.Bar {
	return domain.Bar{
		Date:        day(date),
		Open:        domain.Num(closePx),
		High:        domain.Num(closePx),
		Low:         domain.Num(closePx),
		Close:       domain.Num(closePx),
		AdjClose:    domain.Num(closePx),
		Volume:      domain.Int(1000),
		Dividends:   domain.Num(0),
		StockSplits: domain.Num(0),
	}
}

// ---------------------------------------------------------------------------
// memStore
// ---------------------------------------------------------------------------

type memInstrument struct {
	id     int64
	active bool
}

// memStore is an in-memory InstrumentStore and PriceHistoryStore. Like a
// real database it rejects calls on a cancelled context.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	instruments map[string]*memInstrument
	bars        map[int64]map[time.Time]domain.Bar
	failUpsert  map[int64]error
	failList    error

	inflight    atomic.Int32
	maxInflight atomic.Int32
	upsertDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		instruments: make(map[string]*memInstrument),
		bars:        make(map[int64]map[time.Time]domain.Bar),
		failUpsert:  make(map[int64]error),
	}
}

// seed adds active instruments with optional history ending at last.
func (m *memStore) seed(ticker string, history ...domain.Bar) int64 {
	id, _ := m.EnsureInstrument(context.Background(), ticker)
	if len(history) > 0 {
		m.UpsertDaily(context.Background(), id, history)
	}
	return id
}

func (m *memStore) EnsureInstrument(ctx context.Context, ticker string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.instruments[ticker]; ok {
		in.active = true
		return in.id, nil
	}
	m.nextID++
	m.instruments[ticker] = &memInstrument{id: m.nextID, active: true}
	return m.nextID, nil
}

func (m *memStore) ListActiveTickers(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.failList != nil {
		return nil, m.failList
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for t, in := range m.instruments {
		if in.active {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) DeactivateTickers(ctx context.Context, tickers []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range tickers {
		if in, ok := m.instruments[t]; ok && in.active {
			in.active = false
			n++
		}
	}
	return n, nil
}

func (m *memStore) LastBarDates(ctx context.Context) (map[string]*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*time.Time)
	for t, in := range m.instruments {
		if !in.active {
			continue
		}
		var last *time.Time
		for d := range m.bars[in.id] {
			if last == nil || d.After(*last) {
				last = &d
			}
		}
		out[t] = last
	}
	return out, nil
}

func (m *memStore) UpsertDaily(ctx context.Context, id int64, bars []domain.Bar) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		cur := m.maxInflight.Load()
		if n <= cur || m.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if m.upsertDelay > 0 {
		time.Sleep(m.upsertDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpsert[id]; err != nil {
		return 0, err
	}
	if m.bars[id] == nil {
		m.bars[id] = make(map[time.Time]domain.Bar)
	}
	for _, b := range bars {
		m.bars[id][b.Date] = b
	}
	return int64(len(bars)), nil
}

func (m *memStore) active(ticker string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instruments[ticker]
	return ok && in.active
}

func (m *memStore) barCount(ticker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instruments[ticker]
	if !ok {
		return 0
	}
	return len(m.bars[in.id])
}

// ---------------------------------------------------------------------------
// fakeHistory
// ---------------------------------------------------------------------------

type fetchCall struct {
	Ticker string
	Start  time.Time
}

// fakeHistory answers FetchDaily through fn and records every call.
type fakeHistory struct {
	mu    sync.Mutex
	calls []fetchCall
	fn    func(ctx context.Context, ticker string, start time.Time) ([]domain.Bar, error)

	inflight    atomic.Int32
	maxInflight atomic.Int32
	delay       time.Duration
}

func (f *fakeHistory) FetchDaily(ctx context.Context, ticker string, start time.Time) ([]domain.Bar, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{Ticker: ticker, Start: start})
	f.mu.Unlock()

	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		cur := f.maxInflight.Load()
		if n <= cur || f.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(ctx, ticker, start)
}

func (f *fakeHistory) callsFor(ticker string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.Ticker == ticker {
			out = append(out, c)
		}
	}
	return out
}

// staticHistory serves the same window for every ticker, filtered to
// dates on or after start.
func staticHistory(bars ...domain.Bar) *fakeHistory {
	return &fakeHistory{fn: func(_ context.Context, _ string, start time.Time) ([]domain.Bar, error) {
		var out []domain.Bar
		for _, b := range bars {
			if !b.Date.Before(start) {
				out = append(out, b)
			}
		}
		return out, nil
	}}
}

// ---------------------------------------------------------------------------
// fakeUniverse / recorder
// ---------------------------------------------------------------------------

type fakeUniverse struct {
	tickers []string
	err     error
	calls   int
}

func (f *fakeUniverse) TodayTickers(context.Context) ([]string, error) {
	f.calls++
	return f.tickers, f.err
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *eventRecorder) observe(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) warnings() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == domain.EventStatus && ev.Warning {
			out = append(out, ev.Message)
		}
	}
	return out
}

type fakeArchive struct {
	mu      sync.Mutex
	written map[string]int
	err     error
}

func (a *fakeArchive) WriteBars(_ context.Context, ticker string, bars []domain.Bar) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.written == nil {
		a.written = make(map[string]int)
	}
	a.written[ticker] += len(bars)
	return a.err
}

var errBoom = errors.New("boom")

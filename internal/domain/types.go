// Package domain holds the core types shared by the stores, the market-data
// sources and the mirror engine.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used for bars, config and files.
const DateLayout = "2006-01-02"

// ---------------------------------------------------------------------------
// Instruments
// ---------------------------------------------------------------------------

// InstrumentStatus distinguishes active from soft-deleted instruments.
type InstrumentStatus string

const (
	StatusActive   InstrumentStatus = "active"
	StatusInactive InstrumentStatus = "inactive"
)

// InstrumentState is the tagged activity state of an instrument. Since is
// only meaningful when Status is StatusInactive.
type InstrumentState struct {
	Status InstrumentStatus
	Since  time.Time
}

// Active returns the state of a currently tradable instrument.
func Active() InstrumentState {
	return InstrumentState{Status: StatusActive}
}

// Inactive returns the state of an instrument deactivated on since.
func Inactive(since time.Time) InstrumentState {
	return InstrumentState{Status: StatusInactive, Since: since}
}

// IsActive reports whether the instrument is part of the current universe.
func (s InstrumentState) IsActive() bool { return s.Status == StatusActive }

// Instrument is the store's durable identity record for a ticker.
type Instrument struct {
	ID       int64
	Ticker   string
	State    InstrumentState
	LastSeen time.Time
}

// ---------------------------------------------------------------------------
// Bars
// ---------------------------------------------------------------------------

// Bar is one trading day of OHLCV data for an instrument, plus adjusted
// close and the corporate actions effective that day. Every value column is
// nullable because providers leave gaps.
type Bar struct {
	Date        time.Time
	Open        decimal.NullDecimal
	High        decimal.NullDecimal
	Low         decimal.NullDecimal
	Close       decimal.NullDecimal
	AdjClose    decimal.NullDecimal
	Volume      *int64
	Dividends   decimal.NullDecimal
	StockSplits decimal.NullDecimal
}

// HasCorporateAction reports whether the bar carries a non-zero dividend or
// stock split. Null values count as no action.
func (b Bar) HasCorporateAction() bool {
	return nonZero(b.Dividends) || nonZero(b.StockSplits)
}

func nonZero(d decimal.NullDecimal) bool {
	return d.Valid && !d.Decimal.IsZero()
}

// AnyCorporateAction reports whether any bar in the window carries a
// dividend or split.
func AnyCorporateAction(bars []Bar) bool {
	for _, b := range bars {
		if b.HasCorporateAction() {
			return true
		}
	}
	return false
}

// Num wraps a float as a valid nullable decimal.
func Num(v float64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromFloat(v), Valid: true}
}

// NullNum returns a nullable decimal for v, or null when v is nil.
func NullNum(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return Num(*v)
}

// Int returns a pointer to v, for nullable integer columns.
func Int(v int64) *int64 { return &v }

// ---------------------------------------------------------------------------
// Planning and reporting
// ---------------------------------------------------------------------------

// UpdateTask describes one ticker's fetch for the current run. It is never
// persisted.
type UpdateTask struct {
	Ticker                string
	FetchStart            time.Time
	CheckCorporateActions bool
}

// TickerResult is a successful ticker update.
type TickerResult struct {
	Ticker string
	// Rows is the store-reported affected count, or the fetched row count
	// when the store reports zero.
	Rows int64
	// Refetched is set when a corporate action forced a full-history fetch.
	Refetched bool
	// FetchStart is the start date of the window that was persisted.
	FetchStart time.Time
}

// TickerError is a ticker whose update failed this run.
type TickerError struct {
	Ticker  string
	Message string
}

// RunReport summarises one reconciliation and update run.
type RunReport struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Updated     []TickerResult
	Failed      []TickerError
	Deactivated []string
	// Skipped lists tickers never started because the run was cancelled.
	Skipped []string
	// Planned holds the tasks of the run, in execution order.
	Planned []UpdateTask
}

// TotalRows returns the sum of affected rows across updated tickers.
func (r *RunReport) TotalRows() int64 {
	var n int64
	for _, u := range r.Updated {
		n += u.Rows
	}
	return n
}

// Cancelled reports whether some planned tickers were never started.
func (r *RunReport) Cancelled() bool { return len(r.Skipped) > 0 }

// ---------------------------------------------------------------------------
// Progress events
// ---------------------------------------------------------------------------

// EventKind identifies a progress event emitted during a run.
type EventKind string

const (
	EventStatus         EventKind = "status"
	EventTickerStarted  EventKind = "ticker_started"
	EventTickerFinished EventKind = "ticker_finished"
	EventTickerFailed   EventKind = "ticker_failed"
	EventTickerSkipped  EventKind = "ticker_skipped"
	EventSummary        EventKind = "summary"
)

// Event is a progress notification for a UI. Index and Total are 1-based
// task positions for ticker events. Every EventTickerStarted is followed by
// exactly one of EventTickerFinished, EventTickerFailed or
// EventTickerSkipped for the same ticker.
type Event struct {
	Kind    EventKind
	Ticker  string
	Index   int
	Total   int
	Rows    int64
	Message string
	// Warning marks status messages that should be shown prominently.
	Warning bool
	Report  *RunReport
}

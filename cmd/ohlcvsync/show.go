package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"ohlcvsync/internal/console"
	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/store"
)

type tickerLister interface {
	ListTickers(ctx context.Context) ([]string, error)
}

// inspect writes the instrument state of ticker and its bars within
// [start, end] to w. For an unknown ticker it lists the archived tickers,
// when an archive is given, and returns an error.
func inspect(ctx context.Context, w io.Writer, p *console.Printer, instruments store.InstrumentReader, bars store.BarReader, archived tickerLister, ticker string, start, end time.Time) error {
	ticker = domain.NormalizeTicker(ticker)

	inst, err := instruments.GetInstrument(ctx, ticker)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(w, "%s is not a known instrument\n", ticker)
		if archived != nil {
			tickers, err := archived.ListTickers(ctx)
			if err != nil {
				return fmt.Errorf("list archive: %w", err)
			}
			fmt.Fprint(w, p.Tickers("archived tickers", tickers))
		}
		return fmt.Errorf("unknown ticker %s", ticker)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(w, p.Instrument(inst))

	rows, err := bars.ReadBars(ctx, ticker, start, end)
	if err != nil {
		return err
	}
	fmt.Fprint(w, p.Bars(ticker, rows))
	return nil
}

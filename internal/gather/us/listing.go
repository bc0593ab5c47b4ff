package us

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ohlcvsync/internal/gather"
)

// ListingSource builds the universe from exchange listing files, each a
// JSON array of symbols (NASDAQ, NYSE and AMEX by default).
type ListingSource struct {
	urls  []string
	fetch *httpFetcher
	log   *slog.Logger
}

var _ gather.UniverseSource = (*ListingSource)(nil)

// NewListingSource returns a source reading the given listing URLs.
func NewListingSource(urls []string, timeout time.Duration, attempts int, retryDelay time.Duration, log *slog.Logger) *ListingSource {
	if log == nil {
		log = slog.Default()
	}
	return &ListingSource{
		urls:  urls,
		fetch: newHTTPFetcher(timeout, attempts, retryDelay),
		log:   log.With("source", "listings"),
	}
}

// TodayTickers downloads every listing and returns the normalised union.
// Any listing failure fails the whole call: a partial universe would
// deactivate the missing exchange.
func (s *ListingSource) TodayTickers(ctx context.Context) ([]string, error) {
	var raw []string
	for _, u := range s.urls {
		var symbols []string
		if err := s.fetch.getJSON(ctx, u, &symbols); err != nil {
			return nil, fmt.Errorf("fetch listing %s: %w", u, err)
		}
		s.log.Debug("listing fetched", "url", u, "symbols", len(symbols))
		raw = append(raw, symbols...)
	}
	return normalizeUniverse(raw, s.log), nil
}

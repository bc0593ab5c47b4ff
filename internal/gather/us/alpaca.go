package us

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"ohlcvsync/internal/config"
	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/gather"
	"ohlcvsync/internal/util"
)

// ---------------------------------------------------------------------------
// Client seams
// ---------------------------------------------------------------------------

// marketDataClient is the slice of marketdata.Client the history source
// needs.
type marketDataClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
	GetCorporateActions(req marketdata.GetCorporateActionsRequest) (marketdata.CorporateActions, error)
}

// assetsClient is the slice of alpaca.Client the universe source needs.
type assetsClient interface {
	GetAssets(req alpaca.GetAssetsRequest) ([]alpaca.Asset, error)
}

// NewAlpacaClients builds the trading and market-data clients from config.
func NewAlpacaClients(cfg config.Alpaca) (*alpaca.Client, *marketdata.Client) {
	tradingOpts := alpaca.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.BaseURL != "" {
		tradingOpts.BaseURL = cfg.BaseURL
	}

	dataOpts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.DataURL != "" {
		dataOpts.BaseURL = cfg.DataURL
	}
	return alpaca.NewClient(tradingOpts), marketdata.NewClient(dataOpts)
}

// ---------------------------------------------------------------------------
// AlpacaHistorySource
// ---------------------------------------------------------------------------

// AlpacaHistorySource fetches raw daily bars, split- and dividend-adjusted
// closes and corporate actions from the Alpaca market-data API. The end of
// every window is the latest finished trading day, resolved once.
type AlpacaHistorySource struct {
	data       marketDataClient
	calendar   calendarClient
	feed       string
	attempts   int
	retryDelay time.Duration
	now        func() time.Time
	log        *slog.Logger

	endOnce sync.Once
	end     time.Time
	endErr  error
}

var _ gather.HistorySource = (*AlpacaHistorySource)(nil)

// NewAlpacaHistorySource returns a history source over the given clients.
func NewAlpacaHistorySource(data marketDataClient, calendar calendarClient, feed string, attempts int, retryDelay time.Duration, log *slog.Logger) *AlpacaHistorySource {
	if log == nil {
		log = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}
	return &AlpacaHistorySource{
		data:       data,
		calendar:   calendar,
		feed:       feed,
		attempts:   attempts,
		retryDelay: retryDelay,
		now:        time.Now,
		log:        log.With("source", "alpaca"),
	}
}

func (s *AlpacaHistorySource) endDate() (time.Time, error) {
	s.endOnce.Do(func() {
		s.end, s.endErr = LatestFinishedTradingDay(s.calendar, s.now())
	})
	return s.end, s.endErr
}

// FetchDaily returns bars from start through the latest finished trading
// day.
func (s *AlpacaHistorySource) FetchDaily(ctx context.Context, ticker string, start time.Time) ([]domain.Bar, error) {
	if err := gather.CheckTicker(ticker); err != nil {
		return nil, fmt.Errorf("%q: %w", ticker, err)
	}
	end, err := s.endDate()
	if err != nil {
		return nil, fmt.Errorf("determining end date: %w", err)
	}
	start = util.Day(start)
	if start.After(end) {
		return nil, nil
	}
	// Daily bars are stamped at midnight ET; ask for the whole end day.
	endTS := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, marketTZ)
	startTS := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, marketTZ)

	raw, err := s.bars(ctx, ticker, startTS, endTS, marketdata.Raw)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	adjusted, err := s.bars(ctx, ticker, startTS, endTS, marketdata.All)
	if err != nil {
		return nil, err
	}

	var actions marketdata.CorporateActions
	err = util.Retry(ctx, s.attempts, s.retryDelay, func() error {
		var err error
		actions, err = s.data.GetCorporateActions(marketdata.GetCorporateActionsRequest{
			Symbols: []string{ticker},
			Types:   []string{"forward_split", "reverse_split", "cash_dividend"},
			Start:   civil.DateOf(start),
			End:     civil.DateOf(end),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetCorporateActions %s: %w", ticker, err)
	}

	bars := mergeAlpaca(raw, adjusted, actions)
	s.log.Debug("fetched", "ticker", ticker, "bars", len(bars))
	return bars, nil
}

func (s *AlpacaHistorySource) bars(ctx context.Context, ticker string, start, end time.Time, adj marketdata.Adjustment) ([]marketdata.Bar, error) {
	var out []marketdata.Bar
	err := util.Retry(ctx, s.attempts, s.retryDelay, func() error {
		if ctx.Err() != nil {
			return util.Permanent(ctx.Err())
		}
		var err error
		out, err = s.data.GetBars(ticker, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: adj,
			Start:      start,
			End:        end,
			Feed:       marketdata.Feed(s.feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s (%s): %w", ticker, adj, err)
	}
	return out, nil
}

// mergeAlpaca joins raw bars with adjusted closes and the corporate actions
// effective on each ex-date.
func mergeAlpaca(raw, adjusted []marketdata.Bar, actions marketdata.CorporateActions) []domain.Bar {
	adjClose := make(map[time.Time]float64, len(adjusted))
	for _, b := range adjusted {
		adjClose[barDay(b.Timestamp)] = b.Close
	}

	dividends := make(map[time.Time]float64)
	for _, d := range actions.CashDividends {
		dividends[civilDay(d.ExDate)] += d.Rate
	}
	splits := make(map[time.Time]float64)
	for _, sp := range actions.ForwardSplits {
		if sp.OldRate != 0 {
			splits[civilDay(sp.ExDate)] = sp.NewRate / sp.OldRate
		}
	}
	for _, sp := range actions.ReverseSplits {
		if sp.OldRate != 0 {
			splits[civilDay(sp.ExDate)] = sp.NewRate / sp.OldRate
		}
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		date := barDay(b.Timestamp)
		bar := domain.Bar{
			Date:        date,
			Open:        domain.Num(b.Open),
			High:        domain.Num(b.High),
			Low:         domain.Num(b.Low),
			Close:       domain.Num(b.Close),
			Volume:      domain.Int(int64(b.Volume)),
			Dividends:   domain.Num(dividends[date]),
			StockSplits: domain.Num(splits[date]),
		}
		if v, ok := adjClose[date]; ok {
			bar.AdjClose = domain.Num(v)
		}
		bars = append(bars, bar)
	}
	return bars
}

// barDay maps an Alpaca bar timestamp to its exchange calendar date.
func barDay(ts time.Time) time.Time {
	return util.Day(ts.In(marketTZ))
}

func civilDay(d civil.Date) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// ---------------------------------------------------------------------------
// AlpacaUniverseSource
// ---------------------------------------------------------------------------

// AlpacaUniverseSource lists active, tradable US equities from the Alpaca
// trading API.
type AlpacaUniverseSource struct {
	client     assetsClient
	attempts   int
	retryDelay time.Duration
	log        *slog.Logger
}

var _ gather.UniverseSource = (*AlpacaUniverseSource)(nil)

// NewAlpacaUniverseSource returns a universe source over client.
func NewAlpacaUniverseSource(client assetsClient, attempts int, retryDelay time.Duration, log *slog.Logger) *AlpacaUniverseSource {
	if log == nil {
		log = slog.Default()
	}
	if attempts < 1 {
		attempts = 1
	}
	return &AlpacaUniverseSource{
		client:     client,
		attempts:   attempts,
		retryDelay: retryDelay,
		log:        log.With("source", "alpaca-assets"),
	}
}

// TodayTickers returns the normalised symbols of tradable active assets.
func (s *AlpacaUniverseSource) TodayTickers(ctx context.Context) ([]string, error) {
	var assets []alpaca.Asset
	err := util.Retry(ctx, s.attempts, s.retryDelay, func() error {
		if ctx.Err() != nil {
			return util.Permanent(ctx.Err())
		}
		var err error
		assets, err = s.client.GetAssets(alpaca.GetAssetsRequest{
			Status:     "active",
			AssetClass: "us_equity",
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetAssets: %w", err)
	}

	raw := make([]string, 0, len(assets))
	for _, a := range assets {
		if a.Tradable {
			raw = append(raw, a.Symbol)
		}
	}
	return normalizeUniverse(raw, s.log), nil
}

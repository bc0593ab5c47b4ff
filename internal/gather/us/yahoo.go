package us

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/gather"
	"ohlcvsync/internal/util"
)

// DefaultYahooBaseURL is the public chart API host.
const DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooHistorySource fetches daily bars, adjusted close, dividends and
// splits from the Yahoo Finance chart API.
type YahooHistorySource struct {
	baseURL string
	fetch   *httpFetcher
	now     func() time.Time
	log     *slog.Logger
}

var _ gather.HistorySource = (*YahooHistorySource)(nil)

// NewYahooHistorySource returns a source against baseURL, or the public
// host when baseURL is empty.
func NewYahooHistorySource(baseURL string, timeout time.Duration, attempts int, retryDelay time.Duration, log *slog.Logger) *YahooHistorySource {
	if baseURL == "" {
		baseURL = DefaultYahooBaseURL
	}
	if log == nil {
		log = slog.Default()
	}
	return &YahooHistorySource{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetch:   newHTTPFetcher(timeout, attempts, retryDelay),
		now:     time.Now,
		log:     log.With("source", "yahoo"),
	}
}

// chartResponse is the subset of /v8/finance/chart used here.
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		GMTOffset int64  `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp []int64 `json:"timestamp"`
	Events    struct {
		Dividends map[string]struct {
			Amount float64 `json:"amount"`
			Date   int64   `json:"date"`
		} `json:"dividends"`
		Splits map[string]struct {
			Date        int64   `json:"date"`
			Numerator   float64 `json:"numerator"`
			Denominator float64 `json:"denominator"`
		} `json:"splits"`
	} `json:"events"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// yahooSymbol maps a share-class dot to Yahoo's dash (BRK.B -> BRK-B).
func yahooSymbol(ticker string) string {
	return strings.ReplaceAll(ticker, ".", "-")
}

// FetchDaily returns bars from start through today.
func (s *YahooHistorySource) FetchDaily(ctx context.Context, ticker string, start time.Time) ([]domain.Bar, error) {
	if err := gather.CheckTicker(ticker); err != nil {
		return nil, fmt.Errorf("%q: %w", ticker, err)
	}

	q := url.Values{}
	q.Set("period1", strconv.FormatInt(util.Day(start).Unix(), 10))
	q.Set("period2", strconv.FormatInt(util.AddDays(s.now(), 1).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("events", "div,splits")
	q.Set("includeAdjustedClose", "true")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", s.baseURL, url.PathEscape(yahooSymbol(ticker)), q.Encode())

	var resp chartResponse
	if err := s.fetch.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", ticker, err)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo chart %s: %s: %w", ticker, e.Description, gather.ErrNoData)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	bars := parseChart(resp.Chart.Result[0], util.Day(start))
	s.log.Debug("fetched", "ticker", ticker, "bars", len(bars))
	return bars, nil
}

// parseChart converts one chart result into ascending daily bars on or
// after start. Event-only dates without a quote row are dropped.
func parseChart(r chartResult, start time.Time) []domain.Bar {
	toDay := func(ts int64) time.Time {
		return util.Day(time.Unix(ts+r.Meta.GMTOffset, 0).UTC())
	}

	dividends := make(map[time.Time]float64, len(r.Events.Dividends))
	for _, d := range r.Events.Dividends {
		dividends[toDay(d.Date)] += d.Amount
	}
	splits := make(map[time.Time]float64, len(r.Events.Splits))
	for _, sp := range r.Events.Splits {
		if sp.Denominator != 0 {
			splits[toDay(sp.Date)] = sp.Numerator / sp.Denominator
		}
	}

	var quote struct {
		open, high, low, close []*float64
		volume                 []*int64
	}
	if len(r.Indicators.Quote) > 0 {
		q := r.Indicators.Quote[0]
		quote.open, quote.high, quote.low, quote.close, quote.volume = q.Open, q.High, q.Low, q.Close, q.Volume
	}
	var adj []*float64
	if len(r.Indicators.AdjClose) > 0 {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	byDate := make(map[time.Time]domain.Bar, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		date := toDay(ts)
		if date.Before(start) {
			continue
		}
		b := domain.Bar{
			Date:        date,
			Open:        domain.NullNum(at(quote.open, i)),
			High:        domain.NullNum(at(quote.high, i)),
			Low:         domain.NullNum(at(quote.low, i)),
			Close:       domain.NullNum(at(quote.close, i)),
			AdjClose:    domain.NullNum(at(adj, i)),
			Volume:      at(quote.volume, i),
			Dividends:   domain.Num(dividends[date]),
			StockSplits: domain.Num(splits[date]),
		}
		// Yahoo sometimes repeats the live session as a second row for today.
		byDate[date] = b
	}

	bars := make([]domain.Bar, 0, len(byDate))
	for _, b := range byDate {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

func at[T any](s []*T, i int) *T {
	if i < len(s) {
		return s[i]
	}
	return nil
}

package us

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ohlcvsync/internal/gather"
	"ohlcvsync/internal/util"
)

// userAgent is sent on every request; some public endpoints reject Go's
// default agent.
const userAgent = "Mozilla/5.0 (compatible; ohlcvsync/1.0)"

// httpFetcher performs GET requests with retry on transport errors, 429 and
// 5xx responses.
type httpFetcher struct {
	client     *http.Client
	attempts   int
	retryDelay time.Duration
}

func newHTTPFetcher(timeout time.Duration, attempts int, retryDelay time.Duration) *httpFetcher {
	if attempts < 1 {
		attempts = 1
	}
	return &httpFetcher{
		client:     &http.Client{Timeout: timeout},
		attempts:   attempts,
		retryDelay: retryDelay,
	}
}

// statusError is a non-2xx HTTP response.
type statusError struct {
	URL  string
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d: %s", e.URL, e.Code, e.Body)
}

// getJSON decodes the JSON body at url into dst. A 404 maps to
// gather.ErrNoData; other 4xx responses are not retried.
func (f *httpFetcher) getJSON(ctx context.Context, url string, dst any) error {
	return util.Retry(ctx, f.attempts, f.retryDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return util.Permanent(err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return util.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &statusError{URL: url, Code: resp.StatusCode, Body: string(body)}
			switch {
			case resp.StatusCode == http.StatusNotFound:
				return util.Permanent(fmt.Errorf("%w: %w", gather.ErrNoData, serr))
			case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
				return serr
			default:
				return util.Permanent(serr)
			}
		}

		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return util.Permanent(fmt.Errorf("decoding %s: %w", url, err))
		}
		return nil
	})
}

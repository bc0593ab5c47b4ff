package us

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"ohlcvsync/internal/domain"
)

// calendarClient is the slice of alpaca.Client the calendar needs.
type calendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// marketTZ is the exchange time zone; UTC if tzdata is unavailable.
var marketTZ = func() *time.Location {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return et
}()

// LatestFinishedTradingDay returns the most recent trading day whose market
// session has ended as of now (after 20:05 ET, so extended-hours data has
// settled). The result is the calendar date at UTC midnight.
func LatestFinishedTradingDay(client calendarClient, now time.Time) (time.Time, error) {
	now = now.In(marketTZ)

	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	if len(calendar) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format(domain.DateLayout)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 20, 5, 0, 0, marketTZ)

	for i := len(calendar) - 1; i >= 0; i-- {
		day := calendar[i]
		if day.Date == today {
			if now.After(cutoff) {
				return time.Parse(domain.DateLayout, day.Date)
			}
			continue
		}
		d, err := time.Parse(domain.DateLayout, day.Date)
		if err != nil {
			continue
		}
		if day.Date < today {
			return d, nil
		}
	}

	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}

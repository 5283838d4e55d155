package gather

import (
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"backtester/internal/domain"
	"backtester/internal/util"
)

// EndDateFunc returns the last day a gathering pass should cover.
type EndDateFunc func() (time.Time, error)

// sessionCutoff is when a day's closes are treated as settled, in ET.
var sessionCutoff = struct{ hour, min int }{20, 5}

// AlpacaCalendar returns an EndDateFunc backed by the Alpaca trading
// calendar.
func AlpacaCalendar(apiKey, apiSecret, baseURL string) EndDateFunc {
	return func() (time.Time, error) {
		return LatestFinishedTradingDay(apiKey, apiSecret, baseURL)
	}
}

// WeekdayCalendar returns an EndDateFunc that ignores exchange holidays and
// picks the last weekday before today.
func WeekdayCalendar() EndDateFunc {
	return func() (time.Time, error) {
		return util.LastWeekdayBefore(time.Now()), nil
	}
}

// LatestFinishedTradingDay returns the most recent trading day whose session
// has ended (after 20:05 ET, once extended hours data settles), using the
// Alpaca trading calendar.
func LatestFinishedTradingDay(apiKey, apiSecret, baseURL string) (time.Time, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})

	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now := time.Now().In(et)

	calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -7),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}
	days := make([]string, len(calendar))
	for i, d := range calendar {
		days[i] = d.Date
	}
	return latestFinished(days, now)
}

// latestFinished picks the last session in days (ascending YYYY-MM-DD) that
// has closed as of now. now must be in ET.
func latestFinished(days []string, now time.Time) (time.Time, error) {
	if len(days) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	today := now.Format(domain.DateLayout)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), sessionCutoff.hour, sessionCutoff.min, 0, 0, now.Location())

	for i := len(days) - 1; i >= 0; i-- {
		if days[i] == today {
			if now.After(cutoff) {
				return domain.ParseDate(days[i])
			}
			continue
		}
		d, err := domain.ParseDate(days[i])
		if err != nil {
			continue
		}
		if days[i] < today {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}

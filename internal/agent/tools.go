package agent

import (
	"fmt"
	"time"
)

const (
	maxDateLen = 10
	dateLayout = "2006-01-02"
)

var (
	minDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	maxDate = time.Date(2100, 12, 31, 0, 0, 0, 0, time.UTC)
)

// CurrentDate returns today's date in YYYY-MM-DD format.
func CurrentDate() string {
	return time.Now().UTC().Format(dateLayout)
}

// DaysBetween returns the number of days from start to end. Both must be
// ISO dates within 1900-01-01..2100-12-31 and start must not be after end.
// Validation happens before any parsing so the model gets a clear error
// message rather than a parse failure.
func DaysBetween(startDate, endDate string) (int, error) {
	if len(startDate) > maxDateLen {
		return 0, fmt.Errorf("start_date exceeds maximum length of %d", maxDateLen)
	}
	if len(endDate) > maxDateLen {
		return 0, fmt.Errorf("end_date exceeds maximum length of %d", maxDateLen)
	}
	start, err := time.ParseInLocation(dateLayout, startDate, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("start_date is not a valid ISO date (YYYY-MM-DD)")
	}
	end, err := time.ParseInLocation(dateLayout, endDate, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("end_date is not a valid ISO date (YYYY-MM-DD)")
	}
	if start.Before(minDate) || start.After(maxDate) {
		return 0, fmt.Errorf("start_date is outside the allowed range (1900-01-01 to 2100-12-31)")
	}
	if end.Before(minDate) || end.After(maxDate) {
		return 0, fmt.Errorf("end_date is outside the allowed range (1900-01-01 to 2100-12-31)")
	}
	if start.After(end) {
		return 0, fmt.Errorf("start_date must not be after end_date")
	}
	return int(end.Sub(start).Hours() / 24), nil
}

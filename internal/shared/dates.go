package shared

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Clock abstracts the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// ParseDate parses a YYYY-MM-DD string into midnight UTC.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ErrValidation)
	}
	day, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date format, use YYYY-MM-DD", ErrValidation)
	}
	return day, nil
}

// Today returns the calendar date in loc as midnight UTC, comparable with
// values returned by ParseDate.
func Today(clock Clock, loc *time.Location) time.Time {
	if clock == nil {
		clock = SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	y, m, d := clock.Now().In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date in DateLayout.
func FormatDate(day time.Time) string {
	return day.Format(DateLayout)
}

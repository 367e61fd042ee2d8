package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dayLayout    = "2006-01-02"
	anchorMarker = "@anchor"
)

// FormatDayID renders the key of the anchored day starting on date's calendar day,
// e.g. "2024-03-09@anchor4".
func FormatDayID(date time.Time, boundaryHour int) string {
	return date.Format(dayLayout) + anchorMarker + strconv.Itoa(boundaryHour)
}

// ParseDayID decodes a day id into midnight of its calendar day in loc and its anchor hour.
func ParseDayID(dayID string, loc *time.Location) (time.Time, int, error) {
	datePart, hourPart, ok := strings.Cut(dayID, anchorMarker)
	if !ok {
		return time.Time{}, 0, fmt.Errorf("%w: %q", ErrInvalidDayID, dayID)
	}
	date, err := time.ParseInLocation(dayLayout, datePart, loc)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: %q: %v", ErrInvalidDayID, dayID, err)
	}
	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return time.Time{}, 0, fmt.Errorf("%w: %q: bad anchor hour", ErrInvalidDayID, dayID)
	}
	return date, hour, nil
}

// MidnightOf truncates t to its calendar day in loc.
func MidnightOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// AddDays moves a midnight date by n calendar days (DST-safe, unlike Add(24h)).
func AddDays(date time.Time, n int) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, date.Location())
}

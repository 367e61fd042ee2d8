// Package normalizer splits raw sleep intervals into segments anchored to sleep days.
//
// A sleep day starts at the profile's boundary hour rather than midnight. A segment
// belongs to the sleep day that is open at its END instant: a segment ending exactly
// on the boundary closes the previous day, one ending a second later opens the next.
// Everything here is pure and deterministic.
package normalizer

import (
	"time"

	"sleepdebt/internal/domain"
)

// Segment piece of a raw interval lying inside one sleep day.
type Segment struct {
	DayID        string
	ExternalID   string
	SegmentIndex int
	Start        time.Time
	End          time.Time
	SourceID     string
}

// Duration of the segment.
func (s Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Result of Normalize. Dropped holds intervals with End <= Start.
type Result struct {
	Segments []Segment
	Dropped  []domain.RawInterval
}

// FilterAsleep keeps only asleep* categories.
func FilterAsleep(intervals []domain.RawInterval) []domain.RawInterval {
	out := make([]domain.RawInterval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.IsAsleep() {
			out = append(out, iv)
		}
	}
	return out
}

// Normalize splits every interval at each boundary instant it crosses.
func Normalize(intervals []domain.RawInterval, boundaryHour int, loc *time.Location) Result {
	var res Result
	for _, iv := range intervals {
		if !iv.Valid() {
			res.Dropped = append(res.Dropped, iv)
			continue
		}
		res.Segments = append(res.Segments, Split(iv, boundaryHour, loc)...)
	}
	return res
}

// Split cuts one valid interval into day-anchored segments.
func Split(iv domain.RawInterval, boundaryHour int, loc *time.Location) []Segment {
	var segments []Segment
	cursor := iv.Start
	for idx := 0; cursor.Before(iv.End); idx++ {
		segEnd := NextBoundary(cursor, boundaryHour, loc)
		if iv.End.Before(segEnd) {
			segEnd = iv.End
		}
		segments = append(segments, Segment{
			DayID:        DayIDFor(segEnd, boundaryHour, loc),
			ExternalID:   iv.ExternalID,
			SegmentIndex: idx,
			Start:        cursor,
			End:          segEnd,
			SourceID:     iv.SourceID,
		})
		cursor = segEnd
	}
	return segments
}

// NextBoundary first boundaryHour:00:00 in loc strictly after t.
func NextBoundary(t time.Time, boundaryHour int, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	b := time.Date(y, m, d, boundaryHour, 0, 0, 0, loc)
	if !b.After(t) {
		b = time.Date(y, m, d+1, boundaryHour, 0, 0, 0, loc)
	}
	return b
}

// SleepDay midnight of the calendar day whose sleep day is open at instant t.
func SleepDay(t time.Time, boundaryHour int, loc *time.Location) time.Time {
	midnight := domain.MidnightOf(t, loc)
	y, m, d := midnight.Date()
	if t.After(time.Date(y, m, d, boundaryHour, 0, 0, 0, loc)) {
		return midnight
	}
	return domain.AddDays(midnight, -1)
}

// DayIDFor day id of the sleep day open at t.
func DayIDFor(t time.Time, boundaryHour int, loc *time.Location) string {
	return domain.FormatDayID(SleepDay(t, boundaryHour, loc), boundaryHour)
}

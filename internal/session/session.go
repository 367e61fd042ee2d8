// Package session groups stored episodes into sleep sessions and re-anchors each
// session to the sleep day in which it ends.
package session

import (
	"sort"
	"time"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/normalizer"
)

// DefaultGap separates two sessions. A gap equal to it starts a new session.
const DefaultGap = time.Hour

// Group sorts episodes by start and splits them into sessions wherever the gap
// between consecutive episodes is >= gap. The input slice is not modified.
func Group(episodes []*domain.SleepEpisode, gap time.Duration) [][]*domain.SleepEpisode {
	if len(episodes) == 0 {
		return nil
	}
	sorted := make([]*domain.SleepEpisode, len(episodes))
	copy(sorted, episodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.ExternalID != b.ExternalID {
			return a.ExternalID < b.ExternalID
		}
		return a.SegmentIndex < b.SegmentIndex
	})

	var sessions [][]*domain.SleepEpisode
	current := []*domain.SleepEpisode{sorted[0]}
	for _, ep := range sorted[1:] {
		prev := current[len(current)-1]
		if ep.Start.Sub(prev.End) < gap {
			current = append(current, ep)
			continue
		}
		sessions = append(sessions, current)
		current = []*domain.SleepEpisode{ep}
	}
	return append(sessions, current)
}

// Change one episode whose anchored day moved.
type Change struct {
	Episode  *domain.SleepEpisode
	OldDayID string
}

// Reanchor assigns every episode of a session the day of its last episode's end.
// It returns the changes (episodes are updated in place) and every day id touched by
// a change, old and new.
func Reanchor(episodes []*domain.SleepEpisode, gap time.Duration, boundaryHour int, loc *time.Location) ([]Change, map[string]struct{}) {
	var changes []Change
	dirty := make(map[string]struct{})
	for _, sess := range Group(episodes, gap) {
		last := sess[len(sess)-1]
		dayID := normalizer.DayIDFor(last.End, boundaryHour, loc)
		for _, ep := range sess {
			if ep.AnchoredDayID == dayID {
				continue
			}
			changes = append(changes, Change{Episode: ep, OldDayID: ep.AnchoredDayID})
			if ep.AnchoredDayID != "" {
				dirty[ep.AnchoredDayID] = struct{}{}
			}
			dirty[dayID] = struct{}{}
			ep.AnchoredDayID = dayID
		}
	}
	return changes, dirty
}

// Bounds earliest start and latest end of a session.
func Bounds(sess []*domain.SleepEpisode) (time.Time, time.Time) {
	start, end := sess[0].Start, sess[0].End
	for _, ep := range sess[1:] {
		if ep.Start.Before(start) {
			start = ep.Start
		}
		if ep.End.After(end) {
			end = ep.End
		}
	}
	return start, end
}

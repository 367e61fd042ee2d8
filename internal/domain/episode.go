package domain

import "time"

// SleepEpisode one stored asleep segment. A raw interval split across day boundaries
// yields several episodes sharing ExternalID, ordered by SegmentIndex.
type SleepEpisode struct {
	ID            string    `json:"id"`
	ExternalID    string    `json:"external_id"`
	SegmentIndex  int       `json:"segment_index"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	SourceID      string    `json:"source_id"`
	AnchoredDayID string    `json:"anchored_day_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Duration of the episode.
func (e *SleepEpisode) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// SameGeometry reports whether e covers the same span from the same source as other.
func (e *SleepEpisode) SameGeometry(other *SleepEpisode) bool {
	return e.Start.Equal(other.Start) && e.End.Equal(other.End) && e.SourceID == other.SourceID
}

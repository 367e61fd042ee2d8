package domain

import "time"

// DataQuality of a day's summary.
type DataQuality string

const (
	DataQualityComplete DataQuality = "complete"
	DataQualityPartial  DataQuality = "partial"
)

// DailySummary cached aggregate of one anchored day. A day without episodes has no row.
type DailySummary struct {
	DayID                 string      `json:"day_id"`
	Date                  time.Time   `json:"date"`
	HasData               bool        `json:"has_data"`
	ActualMinutes         int         `json:"actual_minutes"`
	DeltaMinutes          int         `json:"delta_minutes"`
	CumulativeDebtMinutes int         `json:"cumulative_debt_minutes"`
	DataQuality           DataQuality `json:"data_quality"`
	SourceCount           int         `json:"source_count"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

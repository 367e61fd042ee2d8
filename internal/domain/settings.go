package domain

import (
	"fmt"
	"time"
)

const (
	DefaultGoalMinutes     = 480
	DefaultDayBoundaryHour = 4

	MinGoalMinutes  = 240
	MaxGoalMinutes  = 720
	GoalStepMinutes = 15

	// ActualCapMinutes bounds a day's actual sleep at goal + 240 so outliers cannot erase a week of debt.
	ActualCapMinutes = 240
)

// NotificationPrefs are stored with the profile; nothing in this module schedules them.
type NotificationPrefs struct {
	DailySummaryEnabled    bool  `json:"daily_summary_enabled"`
	DailyPreferredHour     int   `json:"daily_preferred_hour"`
	DailyPreferredMinute   int   `json:"daily_preferred_minute"`
	ThresholdAlertsEnabled bool  `json:"threshold_alerts_enabled"`
	ThresholdsMinutes      []int `json:"thresholds_minutes"`
}

// DefaultNotificationPrefs daily summary at 08:00, threshold alerts off.
func DefaultNotificationPrefs() NotificationPrefs {
	return NotificationPrefs{
		DailySummaryEnabled:  true,
		DailyPreferredHour:   8,
		DailyPreferredMinute: 0,
		ThresholdsMinutes:    []int{120, 300, 480},
	}
}

// UserSettings single-profile configuration row.
type UserSettings struct {
	GoalMinutes       int               `json:"goal_minutes"`
	DayBoundaryHour   int               `json:"day_boundary_hour"`
	ComparisonEnabled bool              `json:"comparison_enabled"`
	TimeZone          string            `json:"time_zone"` // IANA name
	NotificationPrefs NotificationPrefs `json:"notification_prefs"`
	LastSyncCursor    string            `json:"last_sync_cursor,omitempty"`
	LastSyncAt        *time.Time        `json:"last_sync_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// DefaultSettings returns the settings a fresh profile starts with.
func DefaultSettings(timeZone string) *UserSettings {
	now := time.Now().UTC()
	return &UserSettings{
		GoalMinutes:       DefaultGoalMinutes,
		DayBoundaryHour:   DefaultDayBoundaryHour,
		ComparisonEnabled: true,
		TimeZone:          timeZone,
		NotificationPrefs: DefaultNotificationPrefs(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Location resolves TimeZone; empty means UTC.
func (s *UserSettings) Location() (*time.Location, error) {
	if s.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %v", ErrInvalidSettings, s.TimeZone, err)
	}
	return loc, nil
}

// Clone returns a deep copy.
func (s *UserSettings) Clone() *UserSettings {
	if s == nil {
		return nil
	}
	c := *s
	c.NotificationPrefs.ThresholdsMinutes = append([]int(nil), s.NotificationPrefs.ThresholdsMinutes...)
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		c.LastSyncAt = &t
	}
	return &c
}

// ValidateGoal checks the goal against the range the settings form allows.
func ValidateGoal(minutes int) error {
	if minutes < MinGoalMinutes || minutes > MaxGoalMinutes {
		return fmt.Errorf("%w: goal_minutes must be between %d and %d, got %d",
			ErrInvalidSettings, MinGoalMinutes, MaxGoalMinutes, minutes)
	}
	if minutes%GoalStepMinutes != 0 {
		return fmt.Errorf("%w: goal_minutes must be a multiple of %d, got %d", ErrInvalidSettings, GoalStepMinutes, minutes)
	}
	return nil
}

// ValidateBoundaryHour checks 0..23.
func ValidateBoundaryHour(hour int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: day_boundary_hour must be between 0 and 23, got %d", ErrInvalidSettings, hour)
	}
	return nil
}

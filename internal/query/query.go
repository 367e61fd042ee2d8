// Package query reads committed summaries for presentation.
package query

import (
	"context"
	"fmt"
	"time"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/normalizer"
	"sleepdebt/internal/repository"
)

const (
	// DefaultWindowDays headline and details window.
	DefaultWindowDays = 14
	// MaxWindowDays upper bound for any query window.
	MaxWindowDays = 366
)

// Band colour band of a debt value.
type Band string

const (
	BandLow      Band = "low"      // 0-2h
	BandModerate Band = "moderate" // 2-5h
	BandHigh     Band = "high"
)

// BandFor classifies a debt in minutes.
func BandFor(minutes int) Band {
	switch {
	case minutes <= 120:
		return BandLow
	case minutes <= 300:
		return BandModerate
	default:
		return BandHigh
	}
}

// ChartPoint one day of the debt history chart.
type ChartPoint struct {
	DayID                 string    `json:"day_id"`
	Date                  time.Time `json:"date"`
	HasData               bool      `json:"has_data"`
	RollingDebtMinutes    int       `json:"rolling_debt_minutes"`
	CumulativeDebtMinutes int       `json:"cumulative_debt_minutes"`
}

// Today actual sleep vs goal for the current sleep day.
type Today struct {
	DayID         string    `json:"day_id"`
	Date          time.Time `json:"date"`
	HasData       bool      `json:"has_data"`
	ActualMinutes int       `json:"actual_minutes"`
	GoalMinutes   int       `json:"goal_minutes"`
	DeltaMinutes  int       `json:"delta_minutes"`
}

// DayRow one entry of the details list. Days without data have HasData false.
type DayRow struct {
	DayID                 string    `json:"day_id"`
	Date                  time.Time `json:"date"`
	HasData               bool      `json:"has_data"`
	ActualMinutes         int       `json:"actual_minutes"`
	DeltaMinutes          int       `json:"delta_minutes"`
	CumulativeDebtMinutes int       `json:"cumulative_debt_minutes"`
	SourceCount           int       `json:"source_count"`
}

// Overview headline state of the profile.
type Overview struct {
	DebtMinutes       int        `json:"debt_minutes"`
	Band              Band       `json:"band"`
	WindowDays        int        `json:"window_days"`
	GoalMinutes       int        `json:"goal_minutes"`
	DayBoundaryHour   int        `json:"day_boundary_hour"`
	ComparisonEnabled bool       `json:"comparison_enabled"`
	Today             Today      `json:"today"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}

// Service answers read queries from committed state. Every query reads settings
// and summaries from one snapshot.
type Service struct {
	viewer   repository.Viewer
	timeZone string
}

// NewService timeZone is used until settings are first stored.
func NewService(viewer repository.Viewer, timeZone string) *Service {
	return &Service{viewer: viewer, timeZone: timeZone}
}

// ValidateWindow rejects windows outside 1..MaxWindowDays. Zero means the default.
func ValidateWindow(windowDays int) error {
	if windowDays < 0 || windowDays > MaxWindowDays {
		return fmt.Errorf("%w: window must be between 1 and %d days, got %d",
			domain.ErrInvalidSettings, MaxWindowDays, windowDays)
	}
	return nil
}

func normalizeWindow(windowDays int) int {
	switch {
	case windowDays <= 0:
		return DefaultWindowDays
	case windowDays > MaxWindowDays:
		return MaxWindowDays
	default:
		return windowDays
	}
}

func (s *Service) settings(ctx context.Context, r repository.Reader) (*domain.UserSettings, *time.Location, error) {
	settings, err := r.GetSettings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings == nil {
		settings = domain.DefaultSettings(s.timeZone)
	}
	loc, err := settings.Location()
	if err != nil {
		return nil, nil, err
	}
	return settings, loc, nil
}

// window loads summaries for the days (today-span+1 .. today], keyed by date.
func window(ctx context.Context, r repository.Reader, settings *domain.UserSettings, loc *time.Location, span int, asOf time.Time) (time.Time, map[string]*domain.DailySummary, error) {
	today := normalizer.SleepDay(asOf, settings.DayBoundaryHour, loc)
	from := domain.AddDays(today, -(span - 1))
	list, err := r.ListSummaries(ctx, from, today)
	if err != nil {
		return today, nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	byDate := make(map[string]*domain.DailySummary, len(list))
	for _, sum := range list {
		byDate[sum.Date.Format("2006-01-02")] = sum
	}
	return today, byDate, nil
}

func deltaOn(byDate map[string]*domain.DailySummary, d time.Time) int {
	if sum, ok := byDate[d.Format("2006-01-02")]; ok && sum.HasData {
		return sum.DeltaMinutes
	}
	return 0
}

func clampDebt(total int) int {
	if total < 0 {
		return 0
	}
	return total
}

func rolling(byDate map[string]*domain.DailySummary, end time.Time, windowDays int) int {
	total := 0
	for i := 0; i < windowDays; i++ {
		total += deltaOn(byDate, domain.AddDays(end, -i))
	}
	return clampDebt(total)
}

// RollingDebt sum of deltas over days with data in the last windowDays days,
// clamped at zero.
func (s *Service) RollingDebt(ctx context.Context, windowDays int, asOf time.Time) (int, error) {
	windowDays = normalizeWindow(windowDays)
	var debt int
	err := s.viewer.View(ctx, func(r repository.Reader) error {
		settings, loc, err := s.settings(ctx, r)
		if err != nil {
			return err
		}
		today, byDate, err := window(ctx, r, settings, loc, windowDays, asOf)
		if err != nil {
			return err
		}
		debt = rolling(byDate, today, windowDays)
		return nil
	})
	return debt, err
}

// ChartSeries one point per day of the last windowDays days, oldest first. Each point
// carries the rolling debt of the same width ending that day.
func (s *Service) ChartSeries(ctx context.Context, windowDays int, asOf time.Time) ([]ChartPoint, error) {
	windowDays = normalizeWindow(windowDays)
	var points []ChartPoint
	err := s.viewer.View(ctx, func(r repository.Reader) error {
		settings, loc, err := s.settings(ctx, r)
		if err != nil {
			return err
		}
		span := 2*windowDays - 1
		today, byDate, err := window(ctx, r, settings, loc, span, asOf)
		if err != nil {
			return err
		}

		// prefix[i] = sum of deltas of the first i days of the span
		first := domain.AddDays(today, -(span - 1))
		prefix := make([]int, span+1)
		for i := 0; i < span; i++ {
			prefix[i+1] = prefix[i] + deltaOn(byDate, domain.AddDays(first, i))
		}

		points = make([]ChartPoint, 0, windowDays)
		for i := windowDays - 1; i < span; i++ {
			d := domain.AddDays(first, i)
			p := ChartPoint{
				DayID:              domain.FormatDayID(d, settings.DayBoundaryHour),
				Date:               d,
				RollingDebtMinutes: clampDebt(prefix[i+1] - prefix[i+1-windowDays]),
			}
			if sum, ok := byDate[d.Format("2006-01-02")]; ok {
				p.HasData = sum.HasData
				p.CumulativeDebtMinutes = sum.CumulativeDebtMinutes
			}
			points = append(points, p)
		}
		return nil
	})
	return points, err
}

// TodaySummary the current sleep day's actual vs goal.
func (s *Service) TodaySummary(ctx context.Context, asOf time.Time) (*Today, error) {
	var t *Today
	err := s.viewer.View(ctx, func(r repository.Reader) error {
		settings, loc, err := s.settings(ctx, r)
		if err != nil {
			return err
		}
		t, err = today(ctx, r, settings, loc, asOf)
		return err
	})
	return t, err
}

func today(ctx context.Context, r repository.Reader, settings *domain.UserSettings, loc *time.Location, asOf time.Time) (*Today, error) {
	date := normalizer.SleepDay(asOf, settings.DayBoundaryHour, loc)
	dayID := domain.FormatDayID(date, settings.DayBoundaryHour)
	t := &Today{DayID: dayID, Date: date, GoalMinutes: settings.GoalMinutes}

	sum, err := r.GetSummary(ctx, dayID)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if sum != nil && sum.HasData {
		t.HasData = true
		t.ActualMinutes = sum.ActualMinutes
		t.DeltaMinutes = sum.DeltaMinutes
	}
	return t, nil
}

// Days the last windowDays days, newest first.
func (s *Service) Days(ctx context.Context, windowDays int, asOf time.Time) ([]DayRow, error) {
	windowDays = normalizeWindow(windowDays)
	var rows []DayRow
	err := s.viewer.View(ctx, func(r repository.Reader) error {
		settings, loc, err := s.settings(ctx, r)
		if err != nil {
			return err
		}
		today, byDate, err := window(ctx, r, settings, loc, windowDays, asOf)
		if err != nil {
			return err
		}

		rows = make([]DayRow, 0, windowDays)
		for i := 0; i < windowDays; i++ {
			d := domain.AddDays(today, -i)
			row := DayRow{DayID: domain.FormatDayID(d, settings.DayBoundaryHour), Date: d}
			if sum, ok := byDate[d.Format("2006-01-02")]; ok && sum.HasData {
				row.HasData = true
				row.ActualMinutes = sum.ActualMinutes
				row.DeltaMinutes = sum.DeltaMinutes
				row.CumulativeDebtMinutes = sum.CumulativeDebtMinutes
				row.SourceCount = sum.SourceCount
			}
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

// Overview headline debt over windowDays with its band, today and last sync time.
func (s *Service) Overview(ctx context.Context, windowDays int, asOf time.Time) (*Overview, error) {
	windowDays = normalizeWindow(windowDays)
	var ov *Overview
	err := s.viewer.View(ctx, func(r repository.Reader) error {
		settings, loc, err := s.settings(ctx, r)
		if err != nil {
			return err
		}
		todayDate, byDate, err := window(ctx, r, settings, loc, windowDays, asOf)
		if err != nil {
			return err
		}
		debt := rolling(byDate, todayDate, windowDays)

		todayView, err := today(ctx, r, settings, loc, asOf)
		if err != nil {
			return err
		}
		ov = &Overview{
			DebtMinutes:       debt,
			Band:              BandFor(debt),
			WindowDays:        windowDays,
			GoalMinutes:       settings.GoalMinutes,
			DayBoundaryHour:   settings.DayBoundaryHour,
			ComparisonEnabled: settings.ComparisonEnabled,
			Today:             *todayView,
			LastSyncAt:        settings.LastSyncAt,
		}
		return nil
	})
	return ov, err
}

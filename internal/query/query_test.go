package query

import (
	"context"
	"testing"
	"time"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, deltas map[int]int) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	ctx := context.Background()
	err := store.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.SaveSettings(ctx, domain.DefaultSettings("UTC")); err != nil {
			return err
		}
		cum := 0
		for d := 1; d <= 31; d++ {
			delta, ok := deltas[d]
			if !ok {
				continue
			}
			cum += delta
			if cum < 0 {
				cum = 0
			}
			date := time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
			if err := tx.UpsertSummary(ctx, &domain.DailySummary{
				DayID:                 domain.FormatDayID(date, 4),
				Date:                  date,
				HasData:               true,
				ActualMinutes:         480 - delta,
				DeltaMinutes:          delta,
				CumulativeDebtMinutes: cum,
				DataQuality:           domain.DataQualityComplete,
				SourceCount:           1,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return store
}

// noon on May 20 falls in sleep day 2024-05-20 at boundary 4
var asOf = time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)

func TestRollingDebt_SumsWindowAndClamps(t *testing.T) {
	store := seed(t, map[int]int{5: 500, 14: 60, 18: 30, 20: -30})
	svc := NewService(store, "UTC")

	debt, err := svc.RollingDebt(context.Background(), 7, asOf)
	require.NoError(t, err)
	assert.Equal(t, 60, debt) // days 14..20

	debt, err = svc.RollingDebt(context.Background(), 2, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, debt)
}

func TestRollingDebt_BeforeBoundaryUsesPreviousDay(t *testing.T) {
	store := seed(t, map[int]int{19: 90, 20: 30})
	svc := NewService(store, "UTC")

	debt, err := svc.RollingDebt(context.Background(), 1, time.Date(2024, 5, 20, 3, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 90, debt)
}

func TestChartSeries(t *testing.T) {
	store := seed(t, map[int]int{17: 60, 18: 30, 20: 15})
	svc := NewService(store, "UTC")

	points, err := svc.ChartSeries(context.Background(), 3, asOf)
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.Equal(t, "2024-05-18@anchor4", points[0].DayID)
	assert.Equal(t, 90, points[0].RollingDebtMinutes) // 16..18
	assert.Equal(t, 90, points[0].CumulativeDebtMinutes)

	assert.False(t, points[1].HasData)
	assert.Equal(t, 90, points[1].RollingDebtMinutes) // 17..19

	assert.Equal(t, "2024-05-20@anchor4", points[2].DayID)
	assert.Equal(t, 45, points[2].RollingDebtMinutes) // 18..20
	assert.Equal(t, 105, points[2].CumulativeDebtMinutes)
}

func TestTodaySummary(t *testing.T) {
	store := seed(t, map[int]int{20: 45})
	svc := NewService(store, "UTC")

	today, err := svc.TodaySummary(context.Background(), asOf)
	require.NoError(t, err)
	assert.True(t, today.HasData)
	assert.Equal(t, 435, today.ActualMinutes)
	assert.Equal(t, 480, today.GoalMinutes)

	today, err = svc.TodaySummary(context.Background(), asOf.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, today.HasData)
	assert.Equal(t, "2024-05-21@anchor4", today.DayID)
}

func TestDays_NewestFirstWithGaps(t *testing.T) {
	store := seed(t, map[int]int{18: 60, 20: 15})
	svc := NewService(store, "UTC")

	rows, err := svc.Days(context.Background(), 3, asOf)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2024-05-20@anchor4", rows[0].DayID)
	assert.True(t, rows[0].HasData)
	assert.False(t, rows[1].HasData)
	assert.Equal(t, 60, rows[2].DeltaMinutes)
}

func TestOverview(t *testing.T) {
	store := seed(t, map[int]int{10: 100, 15: 100, 20: 0})
	svc := NewService(store, "UTC")

	ov, err := svc.Overview(context.Background(), 0, asOf)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowDays, ov.WindowDays)
	assert.Equal(t, 200, ov.DebtMinutes)
	assert.Equal(t, BandModerate, ov.Band)
	assert.True(t, ov.Today.HasData)
	assert.Equal(t, 480, ov.GoalMinutes)
}

func TestService_DefaultsWithoutStoredSettings(t *testing.T) {
	svc := NewService(repository.NewMemoryStore(), "UTC")
	debt, err := svc.RollingDebt(context.Background(), 14, asOf)
	require.NoError(t, err)
	assert.Zero(t, debt)
}

func TestBandFor(t *testing.T) {
	assert.Equal(t, BandLow, BandFor(0))
	assert.Equal(t, BandLow, BandFor(120))
	assert.Equal(t, BandModerate, BandFor(121))
	assert.Equal(t, BandModerate, BandFor(300))
	assert.Equal(t, BandHigh, BandFor(301))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "7h 30m", FormatMinutes(450))
	assert.Equal(t, "0h 0m", FormatMinutes(0))
	assert.Equal(t, "+1h 0m", FormatDelta(60))
	assert.Equal(t, "-0h 45m", FormatDelta(-45))
	assert.Equal(t, "+0h 0m", FormatDelta(0))
	assert.Equal(t, "deficit", DeltaState(5))
	assert.Equal(t, "surplus", DeltaState(-5))
	assert.Equal(t, "balanced", DeltaState(0))
}

func TestWindowBounds(t *testing.T) {
	store := seed(t, map[int]int{20: 30})
	svc := NewService(store, "UTC")
	ctx := context.Background()

	rows, err := svc.Days(ctx, 1<<50, asOf)
	require.NoError(t, err)
	assert.Len(t, rows, MaxWindowDays)

	points, err := svc.ChartSeries(ctx, 20000, asOf)
	require.NoError(t, err)
	assert.Len(t, points, MaxWindowDays)
	assert.Equal(t, 30, points[len(points)-1].RollingDebtMinutes)

	require.NoError(t, ValidateWindow(0))
	require.NoError(t, ValidateWindow(MaxWindowDays))
	assert.ErrorIs(t, ValidateWindow(MaxWindowDays+1), domain.ErrInvalidSettings)
	assert.ErrorIs(t, ValidateWindow(-1), domain.ErrInvalidSettings)
}

func TestChartSeries_MatchesPerDayRollingSum(t *testing.T) {
	deltas := map[int]int{1: 120, 3: -200, 4: 45, 8: 90, 9: -15, 12: 300, 15: -60, 17: 60, 18: 30, 20: 15}
	store := seed(t, deltas)
	svc := NewService(store, "UTC")
	ctx := context.Background()

	for _, w := range []int{1, 4, 7, 10} {
		points, err := svc.ChartSeries(ctx, w, asOf)
		require.NoError(t, err)
		require.Len(t, points, w)
		for _, p := range points {
			want, err := svc.RollingDebt(ctx, w, p.Date.Add(12*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, want, p.RollingDebtMinutes, "window %d ending %s", w, p.DayID)
		}
	}
}

type countingViewer struct {
	*repository.MemoryStore
	views int
}

func (c *countingViewer) View(ctx context.Context, fn func(r repository.Reader) error) error {
	c.views++
	return c.MemoryStore.View(ctx, fn)
}

func TestOverview_ReadsOneSnapshot(t *testing.T) {
	viewer := &countingViewer{MemoryStore: seed(t, map[int]int{20: 45})}
	svc := NewService(viewer, "UTC")

	ov, err := svc.Overview(context.Background(), 7, asOf)
	require.NoError(t, err)
	assert.Equal(t, 45, ov.DebtMinutes)
	assert.Equal(t, 1, viewer.views)
}

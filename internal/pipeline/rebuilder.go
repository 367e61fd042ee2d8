package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/normalizer"
	"sleepdebt/internal/repository"

	"go.uber.org/zap"
)

// Rebuilder recomputes the debt chain from the earliest dirty day forward.
type Rebuilder struct {
	aggregator *Aggregator
	logger     *zap.Logger
}

func NewRebuilder(aggregator *Aggregator, logger *zap.Logger) *Rebuilder {
	return &Rebuilder{aggregator: aggregator, logger: logger}
}

// RebuildStats what one chain walk did.
type RebuildStats struct {
	From      time.Time
	To        time.Time
	Written   int
	EmptyDays int
}

// Rebuild walks from the earliest dirty day through max(today, latest dirty day),
// re-aggregating every day and chaining cumulative debt over days with data.
// The chain is seeded from the newest stored summary before the earliest dirty day.
func (r *Rebuilder) Rebuild(ctx context.Context, tx repository.Tx, dirty []string, settings *domain.UserSettings, now time.Time) (RebuildStats, error) {
	if len(dirty) == 0 {
		return RebuildStats{}, nil
	}
	loc, err := settings.Location()
	if err != nil {
		return RebuildStats{}, err
	}

	dates := make([]time.Time, 0, len(dirty))
	for _, id := range dirty {
		d, _, err := domain.ParseDayID(id, loc)
		if err != nil {
			r.logger.Warn("Skipping malformed dirty day id", zap.String("day_id", id), zap.Error(err))
			continue
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return RebuildStats{}, nil
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	earliest, latest := dates[0], dates[len(dates)-1]

	end := normalizer.SleepDay(now, settings.DayBoundaryHour, loc)
	if latest.After(end) {
		end = latest
	}

	prev, err := tx.LatestSummaryBefore(ctx, earliest)
	if err != nil {
		return RebuildStats{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	previousDebt := 0
	if prev != nil {
		previousDebt = prev.CumulativeDebtMinutes
	}

	return r.walk(ctx, tx, earliest, end, previousDebt, settings)
}

// RebuildAll drops every summary and rebuilds the whole chain from the earliest
// episode with zero starting debt. Used after goal or boundary changes.
func (r *Rebuilder) RebuildAll(ctx context.Context, tx repository.Tx, settings *domain.UserSettings, now time.Time) (RebuildStats, error) {
	loc, err := settings.Location()
	if err != nil {
		return RebuildStats{}, err
	}
	if err := tx.DeleteAllSummaries(ctx); err != nil {
		return RebuildStats{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	first, err := tx.EarliestEpisode(ctx)
	if err != nil {
		return RebuildStats{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if first == nil {
		return RebuildStats{}, nil
	}
	start, _, err := domain.ParseDayID(first.AnchoredDayID, loc)
	if err != nil {
		return RebuildStats{}, err
	}
	end := normalizer.SleepDay(now, settings.DayBoundaryHour, loc)
	if start.After(end) {
		end = start
	}
	return r.walk(ctx, tx, start, end, 0, settings)
}

func (r *Rebuilder) walk(ctx context.Context, tx repository.Tx, from, to time.Time, previousDebt int, settings *domain.UserSettings) (RebuildStats, error) {
	stats := RebuildStats{From: from, To: to}
	for d := from; !d.After(to); d = domain.AddDays(d, 1) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		dayID := domain.FormatDayID(d, settings.DayBoundaryHour)
		summary, err := r.aggregator.Compute(ctx, tx, dayID, settings)
		if err != nil {
			return stats, err
		}
		if summary == nil {
			if err := tx.DeleteSummary(ctx, dayID); err != nil {
				return stats, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
			}
			stats.EmptyDays++
			continue
		}

		summary.CumulativeDebtMinutes = previousDebt + summary.DeltaMinutes
		if summary.CumulativeDebtMinutes < 0 {
			summary.CumulativeDebtMinutes = 0
		}
		if err := tx.UpsertSummary(ctx, summary); err != nil {
			return stats, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
		}
		previousDebt = summary.CumulativeDebtMinutes
		stats.Written++
	}

	r.logger.Debug("Debt chain rebuilt",
		zap.String("from", domain.FormatDayID(from, settings.DayBoundaryHour)),
		zap.String("to", domain.FormatDayID(to, settings.DayBoundaryHour)),
		zap.Int("written", stats.Written),
		zap.Int("empty_days", stats.EmptyDays),
	)
	return stats, nil
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/repository"
)

// Aggregator builds one day's summary from the episodes anchored to it.
// It never reads neighbouring days and never computes cumulative debt.
type Aggregator struct{}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Compute returns the summary for dayID without persisting it, or nil when the day
// has no episodes. CumulativeDebtMinutes carries the stored value, if any.
func (a *Aggregator) Compute(ctx context.Context, tx repository.Tx, dayID string, settings *domain.UserSettings) (*domain.DailySummary, error) {
	loc, err := settings.Location()
	if err != nil {
		return nil, err
	}
	date, _, err := domain.ParseDayID(dayID, loc)
	if err != nil {
		return nil, err
	}

	episodes, err := tx.EpisodesByDay(ctx, dayID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if len(episodes) == 0 {
		return nil, nil
	}

	var total time.Duration
	sources := map[string]struct{}{}
	for _, ep := range episodes {
		total += ep.Duration()
		sources[ep.SourceID] = struct{}{}
	}

	actual := int(total / time.Minute)
	if limit := settings.GoalMinutes + domain.ActualCapMinutes; actual > limit {
		actual = limit
	}

	summary := &domain.DailySummary{
		DayID:         dayID,
		Date:          date,
		HasData:       true,
		ActualMinutes: actual,
		DeltaMinutes:  settings.GoalMinutes - actual,
		DataQuality:   domain.DataQualityComplete,
		SourceCount:   len(sources),
	}

	stored, err := tx.GetSummary(ctx, dayID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if stored != nil {
		summary.CumulativeDebtMinutes = stored.CumulativeDebtMinutes
		summary.CreatedAt = stored.CreatedAt
	}
	return summary, nil
}

// AggregateDay recomputes and stores dayID's summary, deleting it when the day has
// no episodes. The stored cumulative debt is preserved.
func (a *Aggregator) AggregateDay(ctx context.Context, tx repository.Tx, dayID string, settings *domain.UserSettings) (*domain.DailySummary, error) {
	summary, err := a.Compute(ctx, tx, dayID, settings)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		if err := tx.DeleteSummary(ctx, dayID); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
		}
		return nil, nil
	}
	if err := tx.UpsertSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	return summary, nil
}

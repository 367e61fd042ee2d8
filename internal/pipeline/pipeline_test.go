package pipeline

import (
	"context"
	"testing"
	"time"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	t        *testing.T
	store    *repository.MemoryStore
	mutator  *Mutator
	rebuild  *Rebuilder
	settings *domain.UserSettings
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	settings := domain.DefaultSettings("UTC")
	return &harness{
		t:        t,
		store:    repository.NewMemoryStore(),
		mutator:  NewMutator(time.Hour, zap.NewNop()),
		rebuild:  NewRebuilder(NewAggregator(), zap.NewNop()),
		settings: settings,
		now:      time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
}

func (h *harness) apply(cs *domain.ChangeSet) ApplyResult {
	h.t.Helper()
	var res ApplyResult
	err := h.store.InTx(context.Background(), func(tx repository.Tx) error {
		var err error
		res, err = h.mutator.Apply(context.Background(), tx, cs, h.settings)
		if err != nil {
			return err
		}
		_, err = h.rebuild.Rebuild(context.Background(), tx, res.Dirty, h.settings, h.now)
		return err
	})
	require.NoError(h.t, err)
	return res
}

func (h *harness) rebuildAll() {
	h.t.Helper()
	err := h.store.InTx(context.Background(), func(tx repository.Tx) error {
		_, err := h.rebuild.RebuildAll(context.Background(), tx, h.settings, h.now)
		return err
	})
	require.NoError(h.t, err)
}

func (h *harness) summary(dayID string) *domain.DailySummary {
	h.t.Helper()
	s, err := h.store.GetSummary(context.Background(), dayID)
	require.NoError(h.t, err)
	return s
}

func (h *harness) allSummaries() []*domain.DailySummary {
	h.t.Helper()
	list, err := h.store.ListSummaries(context.Background(),
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(h.t, err)
	return list
}

func at(month time.Month, d, h, m int) time.Time {
	return time.Date(2024, month, d, h, m, 0, 0, time.UTC)
}

func asleep(id string, start, end time.Time) domain.RawInterval {
	return domain.RawInterval{ExternalID: id, Start: start, End: end, SourceID: "watch", Category: domain.CategoryAsleepCore}
}

// night returns a sleep of the given minutes ending at 07:00 on day d of May.
func night(id string, d, minutes int) domain.RawInterval {
	end := at(time.May, d, 7, 0)
	return asleep(id, end.Add(-time.Duration(minutes)*time.Minute), end)
}

func TestPipeline_OvernightSessionAnchorsToWakeDay(t *testing.T) {
	h := newHarness(t)
	res := h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		asleep("hk-1", at(time.May, 1, 23, 0), at(time.May, 2, 6, 30)),
	}})

	assert.Contains(t, res.Dirty, "2024-05-01@anchor4")
	assert.Contains(t, res.Dirty, "2024-05-02@anchor4")
	assert.Equal(t, 2, res.Inserted)

	assert.Nil(t, h.summary("2024-05-01@anchor4"))
	s := h.summary("2024-05-02@anchor4")
	require.NotNil(t, s)
	assert.Equal(t, 450, s.ActualMinutes)
	assert.Equal(t, 30, s.DeltaMinutes)
	assert.Equal(t, 30, s.CumulativeDebtMinutes)
	assert.Equal(t, 1, s.SourceCount)
	assert.Equal(t, domain.DataQualityComplete, s.DataQuality)
}

func TestPipeline_ReapplyingSameBatchIsIdempotent(t *testing.T) {
	h := newHarness(t)
	cs := &domain.ChangeSet{Added: []domain.RawInterval{
		asleep("hk-1", at(time.May, 1, 23, 0), at(time.May, 2, 6, 30)),
		night("hk-2", 3, 400),
	}}
	first := h.apply(cs)
	require.NotEmpty(t, first.Dirty)
	before := h.allSummaries()

	second := h.apply(cs)
	assert.Empty(t, second.Dirty)
	assert.Zero(t, second.Inserted)
	assert.Zero(t, second.Deleted)

	after := h.allSummaries()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].DayID, after[i].DayID)
		assert.Equal(t, before[i].CumulativeDebtMinutes, after[i].CumulativeDebtMinutes)
	}
}

func TestPipeline_ChainSkipsGapDays(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		night("d1", 1, 420), // delta +60
		night("d3", 3, 450), // delta +30
	}})

	assert.Equal(t, 60, h.summary("2024-05-01@anchor4").CumulativeDebtMinutes)
	assert.Nil(t, h.summary("2024-05-02@anchor4"))
	assert.Equal(t, 90, h.summary("2024-05-03@anchor4").CumulativeDebtMinutes)
}

func TestPipeline_CumulativeClampsAtZeroAndActualIsCapped(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		night("d1", 1, 420), // +60
		night("d2", 2, 900), // capped at 720, delta -240
		night("d3", 3, 450), // +30
	}})

	d2 := h.summary("2024-05-02@anchor4")
	require.NotNil(t, d2)
	assert.Equal(t, 720, d2.ActualMinutes)
	assert.Equal(t, -240, d2.DeltaMinutes)
	assert.Equal(t, 0, d2.CumulativeDebtMinutes)
	assert.Equal(t, 30, h.summary("2024-05-03@anchor4").CumulativeDebtMinutes)
}

func TestPipeline_EditRebuildsDownstreamChain(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		night("d1", 1, 420),
		night("d2", 2, 420),
		night("d3", 3, 420),
	}})
	require.Equal(t, 180, h.summary("2024-05-03@anchor4").CumulativeDebtMinutes)

	res := h.apply(&domain.ChangeSet{Added: []domain.RawInterval{night("d1", 1, 480)}})
	assert.Equal(t, []string{"2024-05-01@anchor4"}, res.Dirty)
	assert.Equal(t, 0, h.summary("2024-05-01@anchor4").CumulativeDebtMinutes)
	assert.Equal(t, 120, h.summary("2024-05-03@anchor4").CumulativeDebtMinutes)
}

func TestPipeline_DeleteRemovesEverySegment(t *testing.T) {
	h := newHarness(t)
	// 44 hours, one session, three segments
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		asleep("long", at(time.May, 1, 12, 0), at(time.May, 3, 8, 0)),
		night("other", 5, 480),
	}})
	require.NotNil(t, h.summary("2024-05-03@anchor4"))

	res := h.apply(&domain.ChangeSet{Deleted: []string{"long"}})
	assert.Equal(t, 3, res.Deleted)
	assert.Contains(t, res.Dirty, "2024-05-03@anchor4")
	assert.Nil(t, h.summary("2024-05-03@anchor4"))
	require.NotNil(t, h.summary("2024-05-05@anchor4"))

	err := h.store.InTx(context.Background(), func(tx repository.Tx) error {
		eps, err := tx.EpisodesByExternalIDs(context.Background(), []string{"long"})
		require.NoError(t, err)
		assert.Empty(t, eps)
		return nil
	})
	require.NoError(t, err)
}

func TestPipeline_DeleteAcrossDaysDirtiesEachDay(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		asleep("a", at(time.May, 1, 1, 0), at(time.May, 1, 3, 0)),    // day 04-30
		asleep("a2", at(time.May, 1, 12, 0), at(time.May, 1, 13, 0)), // nap, day 05-01
	}})

	res := h.apply(&domain.ChangeSet{Deleted: []string{"a", "a2"}})
	assert.Equal(t, []string{"2024-04-30@anchor4", "2024-05-01@anchor4"}, res.Dirty)
	assert.Empty(t, h.allSummaries())
}

func TestPipeline_FullResyncDropsMissingRecords(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{night("d1", 1, 420), night("d2", 2, 420)}})

	res := h.apply(&domain.ChangeSet{Added: []domain.RawInterval{night("d2", 2, 420)}, Full: true})
	assert.Equal(t, []string{"2024-05-01@anchor4"}, res.Dirty)
	assert.Nil(t, h.summary("2024-05-01@anchor4"))
	assert.Equal(t, 60, h.summary("2024-05-02@anchor4").CumulativeDebtMinutes)
}

func TestPipeline_NonAsleepAndMalformedRecords(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{night("d1", 1, 420)}})

	inBed := night("d1", 1, 420)
	inBed.Category = domain.CategoryInBed
	broken := asleep("bad", at(time.May, 2, 7, 0), at(time.May, 2, 6, 0))

	res := h.apply(&domain.ChangeSet{Added: []domain.RawInterval{inBed, broken}})
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, []string{"2024-05-01@anchor4"}, res.Dirty)
	assert.Nil(t, h.summary("2024-05-01@anchor4"))
}

func TestPipeline_RecordOrderDecidesAcrossCategories(t *testing.T) {
	h := newHarness(t)
	overnight := asleep("x", at(time.May, 1, 23, 0), at(time.May, 2, 6, 30))
	xInBed := overnight
	xInBed.Category = domain.CategoryInBed
	zInBed := night("z", 4, 300)
	zInBed.Category = domain.CategoryInBed
	broken := asleep("bad", at(time.May, 3, 7, 0), at(time.May, 3, 6, 0))

	res := h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		overnight, broken, night("y", 3, 400), xInBed, zInBed, night("z", 4, 300),
	}})
	assert.Equal(t, 1, res.Dropped)
	assert.Nil(t, h.summary("2024-05-02@anchor4"))
	assert.Equal(t, 400, h.summary("2024-05-03@anchor4").ActualMinutes)
	assert.Equal(t, 300, h.summary("2024-05-04@anchor4").ActualMinutes)
}

func TestPipeline_EmptyIncrementalBatchDirtiesNothing(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{night("d1", 1, 420)}})

	res := h.apply(&domain.ChangeSet{NewCursor: "c-2"})
	assert.Empty(t, res.Dirty)
	assert.Zero(t, res.Inserted)
	assert.NotNil(t, h.summary("2024-05-01@anchor4"))
}

func TestPipeline_SeedsFromLastSummaryBeyondAMonth(t *testing.T) {
	h := newHarness(t)
	h.now = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{night("early", 1, 300)}}) // +180

	late := asleep("late", time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 20, 7, 0, 0, 0, time.UTC))
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{late}}) // +60

	assert.Equal(t, 240, h.summary("2024-06-20@anchor4").CumulativeDebtMinutes)
}

func TestPipeline_GoalChangeKeepsDaySet(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		night("d1", 1, 420),
		night("d2", 2, 500),
		night("d4", 4, 390),
	}})
	before := h.allSummaries()

	h.settings.GoalMinutes = 420
	h.rebuildAll()
	after := h.allSummaries()

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].DayID, after[i].DayID)
		assert.Equal(t, before[i].DeltaMinutes-60, after[i].DeltaMinutes)
	}
	assert.Equal(t, 0, after[0].CumulativeDebtMinutes)
	assert.Equal(t, 30, after[2].CumulativeDebtMinutes)
}

func TestPipeline_BoundaryChangeResplits(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{
		asleep("hk-1", at(time.May, 1, 23, 0), at(time.May, 2, 6, 30)),
	}})

	h.settings.DayBoundaryHour = 8
	err := h.store.InTx(context.Background(), func(tx repository.Tx) error {
		n, err := h.mutator.Resplit(context.Background(), tx, h.settings)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = h.rebuild.RebuildAll(context.Background(), tx, h.settings, h.now)
		return err
	})
	require.NoError(t, err)

	list := h.allSummaries()
	require.Len(t, list, 1)
	assert.Equal(t, "2024-05-01@anchor8", list[0].DayID)
	assert.Equal(t, 450, list[0].ActualMinutes)
}

func TestAggregator_AggregateDayPreservesCumulative(t *testing.T) {
	h := newHarness(t)
	h.apply(&domain.ChangeSet{Added: []domain.RawInterval{night("d1", 1, 420), night("d2", 2, 420)}})

	err := h.store.InTx(context.Background(), func(tx repository.Tx) error {
		s, err := NewAggregator().AggregateDay(context.Background(), tx, "2024-05-02@anchor4", h.settings)
		require.NoError(t, err)
		assert.Equal(t, 120, s.CumulativeDebtMinutes)

		empty, err := NewAggregator().AggregateDay(context.Background(), tx, "2024-05-03@anchor4", h.settings)
		require.NoError(t, err)
		assert.Nil(t, empty)
		return nil
	})
	require.NoError(t, err)
}

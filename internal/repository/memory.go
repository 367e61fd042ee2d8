package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sleepdebt/internal/domain"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process when DB is disabled.
// A transaction works on a copy that replaces the live state on commit.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	settings  *domain.UserSettings
	episodes  map[string]*domain.SleepEpisode // id -> episode
	bySegment map[segmentKey]string           // (external id, segment index) -> id
	summaries map[string]*domain.DailySummary // day id -> summary
}

type segmentKey struct {
	externalID string
	index      int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

var _ Store = (*MemoryStore)(nil)
var _ Tx = (*memState)(nil)

func newMemState() *memState {
	return &memState{
		episodes:  map[string]*domain.SleepEpisode{},
		bySegment: map[segmentKey]string{},
		summaries: map[string]*domain.DailySummary{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	c.settings = s.settings.Clone()
	for id, ep := range s.episodes {
		cp := *ep
		c.episodes[id] = &cp
	}
	for k, id := range s.bySegment {
		c.bySegment[k] = id
	}
	for id, sum := range s.summaries {
		cp := *sum
		c.summaries[id] = &cp
	}
	return c
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

// View hands fn the committed state. Transactions replace the state instead of
// mutating it, so the snapshot stays consistent after the lock is released.
func (m *MemoryStore) View(_ context.Context, fn func(r Reader) error) error {
	m.mu.RLock()
	snapshot := m.state
	m.mu.RUnlock()
	return fn(snapshot)
}

func (m *MemoryStore) GetSettings(ctx context.Context) (*domain.UserSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetSettings(ctx)
}

func (m *MemoryStore) GetSummary(ctx context.Context, dayID string) (*domain.DailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.GetSummary(ctx, dayID)
}

func (m *MemoryStore) ListSummaries(ctx context.Context, from, to time.Time) ([]*domain.DailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.ListSummaries(ctx, from, to)
}

func (m *MemoryStore) LatestSummaryBefore(ctx context.Context, date time.Time) (*domain.DailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.LatestSummaryBefore(ctx, date)
}

// --- settings ---

func (s *memState) GetSettings(_ context.Context) (*domain.UserSettings, error) {
	return s.settings.Clone(), nil
}

func (s *memState) SaveSettings(_ context.Context, settings *domain.UserSettings) error {
	if settings == nil {
		return fmt.Errorf("settings is required")
	}
	s.settings = settings.Clone()
	return nil
}

// --- episodes ---

func (s *memState) collect(keep func(*domain.SleepEpisode) bool) []*domain.SleepEpisode {
	out := make([]*domain.SleepEpisode, 0)
	for _, ep := range s.episodes {
		if keep(ep) {
			cp := *ep
			out = append(out, &cp)
		}
	}
	sortEpisodes(out)
	return out
}

func sortEpisodes(eps []*domain.SleepEpisode) {
	sort.Slice(eps, func(i, j int) bool {
		a, b := eps[i], eps[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.ExternalID != b.ExternalID {
			return a.ExternalID < b.ExternalID
		}
		return a.SegmentIndex < b.SegmentIndex
	})
}

func (s *memState) AllEpisodes(_ context.Context) ([]*domain.SleepEpisode, error) {
	return s.collect(func(*domain.SleepEpisode) bool { return true }), nil
}

func (s *memState) EpisodesByExternalIDs(_ context.Context, externalIDs []string) ([]*domain.SleepEpisode, error) {
	set := toSet(externalIDs)
	return s.collect(func(ep *domain.SleepEpisode) bool {
		_, ok := set[ep.ExternalID]
		return ok
	}), nil
}

func (s *memState) EpisodesOverlapping(_ context.Context, from, to time.Time) ([]*domain.SleepEpisode, error) {
	return s.collect(func(ep *domain.SleepEpisode) bool {
		return ep.Start.Before(to) && ep.End.After(from)
	}), nil
}

func (s *memState) EpisodesByDay(_ context.Context, dayID string) ([]*domain.SleepEpisode, error) {
	return s.collect(func(ep *domain.SleepEpisode) bool { return ep.AnchoredDayID == dayID }), nil
}

func (s *memState) EarliestEpisode(ctx context.Context) (*domain.SleepEpisode, error) {
	all, _ := s.AllEpisodes(ctx)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (s *memState) ExternalIDs(_ context.Context) ([]string, error) {
	set := map[string]struct{}{}
	for _, ep := range s.episodes {
		set[ep.ExternalID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memState) InsertEpisodes(_ context.Context, episodes []*domain.SleepEpisode) error {
	for _, ep := range episodes {
		if !ep.End.After(ep.Start) {
			return fmt.Errorf("episode %s/%d: end must be after start", ep.ExternalID, ep.SegmentIndex)
		}
		key := segmentKey{ep.ExternalID, ep.SegmentIndex}
		if _, exists := s.bySegment[key]; exists {
			return fmt.Errorf("episode %s/%d already exists", ep.ExternalID, ep.SegmentIndex)
		}
		if ep.ID == "" {
			ep.ID = uuid.New().String()
		}
		if ep.CreatedAt.IsZero() {
			ep.CreatedAt = time.Now().UTC()
		}
		cp := *ep
		s.episodes[ep.ID] = &cp
		s.bySegment[key] = ep.ID
	}
	return nil
}

func (s *memState) DeleteEpisodesByExternalIDs(_ context.Context, externalIDs []string) ([]string, error) {
	set := toSet(externalIDs)
	days := map[string]struct{}{}
	for id, ep := range s.episodes {
		if _, ok := set[ep.ExternalID]; ok {
			days[ep.AnchoredDayID] = struct{}{}
			delete(s.episodes, id)
			delete(s.bySegment, segmentKey{ep.ExternalID, ep.SegmentIndex})
		}
	}
	out := make([]string, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memState) UpdateEpisodeDay(_ context.Context, episodeID, dayID string) error {
	ep, ok := s.episodes[episodeID]
	if !ok {
		return fmt.Errorf("episode %s not found", episodeID)
	}
	ep.AnchoredDayID = dayID
	return nil
}

// --- summaries ---

func (s *memState) GetSummary(_ context.Context, dayID string) (*domain.DailySummary, error) {
	sum, ok := s.summaries[dayID]
	if !ok {
		return nil, nil
	}
	cp := *sum
	return &cp, nil
}

func (s *memState) ListSummaries(_ context.Context, from, to time.Time) ([]*domain.DailySummary, error) {
	lo, hi := dateKey(from), dateKey(to)
	out := make([]*domain.DailySummary, 0)
	for _, sum := range s.summaries {
		k := dateKey(sum.Date)
		if k >= lo && k <= hi {
			cp := *sum
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return dateKey(out[i].Date) < dateKey(out[j].Date) })
	return out, nil
}

func (s *memState) LatestSummaryBefore(_ context.Context, date time.Time) (*domain.DailySummary, error) {
	limit := dateKey(date)
	var best *domain.DailySummary
	for _, sum := range s.summaries {
		k := dateKey(sum.Date)
		if k >= limit {
			continue
		}
		if best == nil || k > dateKey(best.Date) {
			best = sum
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *memState) UpsertSummary(_ context.Context, sum *domain.DailySummary) error {
	if sum == nil || sum.DayID == "" {
		return fmt.Errorf("summary day_id is required")
	}
	now := time.Now().UTC()
	cp := *sum
	if existing, ok := s.summaries[sum.DayID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.summaries[sum.DayID] = &cp
	return nil
}

func (s *memState) DeleteSummary(_ context.Context, dayID string) error {
	delete(s.summaries, dayID)
	return nil
}

func (s *memState) DeleteAllSummaries(_ context.Context) error {
	s.summaries = map[string]*domain.DailySummary{}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Package pipeline applies source changes to the episode store and keeps daily
// summaries and the cumulative debt chain consistent with it.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/normalizer"
	"sleepdebt/internal/repository"
	"sleepdebt/internal/session"

	"go.uber.org/zap"
)

// reanchorPad is how far the re-anchoring window extends past touched episodes.
const reanchorPad = 36 * time.Hour

// Mutator applies change sets to stored episodes.
type Mutator struct {
	gap    time.Duration
	logger *zap.Logger
}

func NewMutator(gap time.Duration, logger *zap.Logger) *Mutator {
	if gap <= 0 {
		gap = session.DefaultGap
	}
	return &Mutator{gap: gap, logger: logger}
}

// ApplyResult days whose summaries must be rebuilt, sorted.
type ApplyResult struct {
	Dirty    []string
	Dropped  int
	Inserted int
	Deleted  int
}

type span struct {
	start, end time.Time
}

type applyState struct {
	dirty map[string]struct{}
	spans []span
	res   ApplyResult
}

func (s *applyState) touch(eps []*domain.SleepEpisode) {
	for _, ep := range eps {
		s.dirty[ep.AnchoredDayID] = struct{}{}
		s.spans = append(s.spans, span{ep.Start, ep.End})
	}
}

// Apply writes cs into tx. Re-applying an identical change set dirties nothing.
func (m *Mutator) Apply(ctx context.Context, tx repository.Tx, cs *domain.ChangeSet, settings *domain.UserSettings) (ApplyResult, error) {
	loc, err := settings.Location()
	if err != nil {
		return ApplyResult{}, err
	}
	st := &applyState{dirty: map[string]struct{}{}}
	if cs.Empty() && !cs.Full {
		return st.res, nil
	}

	norm := normalizer.Normalize(normalizer.FilterAsleep(cs.Added), settings.DayBoundaryHour, loc)
	for _, iv := range norm.Dropped {
		m.logger.Warn("Dropping malformed interval",
			zap.String("external_id", iv.ExternalID),
			zap.Time("start", iv.Start),
			zap.Time("end", iv.End),
		)
	}
	st.res.Dropped = len(norm.Dropped)
	runs := segmentRuns(norm.Segments)

	// latest record per external id wins; non-asleep records remove stored segments
	incoming := map[string][]normalizer.Segment{}
	order := make([]string, 0)
	removals := map[string]struct{}{}
	for _, id := range cs.Deleted {
		removals[id] = struct{}{}
	}
	next := 0
	for _, iv := range cs.Added {
		if !iv.IsAsleep() {
			removals[iv.ExternalID] = struct{}{}
			delete(incoming, iv.ExternalID)
			continue
		}
		if !iv.Valid() {
			continue
		}
		if _, seen := incoming[iv.ExternalID]; !seen {
			order = append(order, iv.ExternalID)
		}
		delete(removals, iv.ExternalID)
		incoming[iv.ExternalID] = runs[next]
		next++
	}

	if cs.Full {
		stored, err := tx.ExternalIDs(ctx)
		if err != nil {
			return ApplyResult{}, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
		}
		for _, id := range stored {
			if _, ok := incoming[id]; !ok {
				removals[id] = struct{}{}
			}
		}
	}

	if err := m.remove(ctx, tx, keys(removals), st); err != nil {
		return ApplyResult{}, err
	}
	if err := m.upsert(ctx, tx, order, incoming, st); err != nil {
		return ApplyResult{}, err
	}
	if err := m.reanchorAround(ctx, tx, settings.DayBoundaryHour, loc, st); err != nil {
		return ApplyResult{}, err
	}

	st.res.Dirty = keys(st.dirty)
	return st.res, nil
}

// segmentRuns groups normalized segments back into one run per source record.
func segmentRuns(segments []normalizer.Segment) [][]normalizer.Segment {
	var runs [][]normalizer.Segment
	for i, seg := range segments {
		if seg.SegmentIndex == 0 {
			runs = append(runs, segments[i:i+1])
			continue
		}
		last := len(runs) - 1
		runs[last] = runs[last][:len(runs[last])+1]
	}
	return runs
}

func (m *Mutator) remove(ctx context.Context, tx repository.Tx, ids []string, st *applyState) error {
	if len(ids) == 0 {
		return nil
	}
	existing, err := tx.EpisodesByExternalIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if len(existing) == 0 {
		return nil
	}
	st.touch(existing)
	if _, err := tx.DeleteEpisodesByExternalIDs(ctx, ids); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	st.res.Deleted += len(existing)
	return nil
}

func (m *Mutator) upsert(ctx context.Context, tx repository.Tx, order []string, incoming map[string][]normalizer.Segment, st *applyState) error {
	ids := make([]string, 0, len(incoming))
	for _, id := range order {
		if _, ok := incoming[id]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	existing, err := tx.EpisodesByExternalIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	stored := map[string][]*domain.SleepEpisode{}
	for _, ep := range existing {
		stored[ep.ExternalID] = append(stored[ep.ExternalID], ep)
	}

	var replace []string
	var fresh []*domain.SleepEpisode
	for _, id := range ids {
		next := toEpisodes(incoming[id])
		if sameGeometry(stored[id], next) {
			continue
		}
		if old := stored[id]; len(old) > 0 {
			st.touch(old)
			replace = append(replace, id)
			st.res.Deleted += len(old)
		}
		st.touch(next)
		fresh = append(fresh, next...)
	}

	if len(replace) > 0 {
		if _, err := tx.DeleteEpisodesByExternalIDs(ctx, replace); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
		}
	}
	if len(fresh) > 0 {
		if err := tx.InsertEpisodes(ctx, fresh); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
		}
		st.res.Inserted += len(fresh)
	}
	return nil
}

// reanchorAround regroups sessions near every touched span. Each window is widened
// until no episode sits within one gap of its edges, so no session is cut.
func (m *Mutator) reanchorAround(ctx context.Context, tx repository.Tx, hour int, loc *time.Location, st *applyState) error {
	pad := reanchorPad
	if 2*m.gap > pad {
		pad = 2 * m.gap
	}
	for _, w := range mergeSpans(st.spans, pad) {
		from, to := w.start, w.end
		for {
			eps, err := tx.EpisodesOverlapping(ctx, from, to)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
			}
			if len(eps) == 0 {
				break
			}
			first, last := session.Bounds(eps)
			grew := false
			if first.Sub(from) < m.gap {
				from = first.Add(-pad)
				grew = true
			}
			if to.Sub(last) < m.gap {
				to = last.Add(pad)
				grew = true
			}
			if grew {
				continue
			}

			changes, dirty := session.Reanchor(eps, m.gap, hour, loc)
			for _, c := range changes {
				if err := tx.UpdateEpisodeDay(ctx, c.Episode.ID, c.Episode.AnchoredDayID); err != nil {
					return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
				}
			}
			for d := range dirty {
				st.dirty[d] = struct{}{}
			}
			break
		}
	}
	return nil
}

// Resplit re-normalizes every stored interval at the settings' boundary hour and
// re-anchors all sessions. The raw interval of an external id is recovered as the
// span of its contiguous segments.
func (m *Mutator) Resplit(ctx context.Context, tx repository.Tx, settings *domain.UserSettings) (int, error) {
	loc, err := settings.Location()
	if err != nil {
		return 0, err
	}
	all, err := tx.AllEpisodes(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if len(all) == 0 {
		return 0, nil
	}

	raw := map[string]*domain.RawInterval{}
	order := make([]string, 0)
	for _, ep := range all {
		iv, ok := raw[ep.ExternalID]
		if !ok {
			raw[ep.ExternalID] = &domain.RawInterval{
				ExternalID: ep.ExternalID,
				Start:      ep.Start,
				End:        ep.End,
				SourceID:   ep.SourceID,
				Category:   domain.CategoryAsleep,
			}
			order = append(order, ep.ExternalID)
			continue
		}
		if ep.Start.Before(iv.Start) {
			iv.Start = ep.Start
		}
		if ep.End.After(iv.End) {
			iv.End = ep.End
		}
	}

	if _, err := tx.DeleteEpisodesByExternalIDs(ctx, order); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	fresh := make([]*domain.SleepEpisode, 0, len(all))
	for _, id := range order {
		fresh = append(fresh, toEpisodes(normalizer.Split(*raw[id], settings.DayBoundaryHour, loc))...)
	}
	session.Reanchor(fresh, m.gap, settings.DayBoundaryHour, loc)
	if err := tx.InsertEpisodes(ctx, fresh); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	m.logger.Info("Re-split stored intervals",
		zap.Int("intervals", len(order)),
		zap.Int("episodes", len(fresh)),
		zap.Int("boundary_hour", settings.DayBoundaryHour),
	)
	return len(fresh), nil
}

func toEpisodes(segments []normalizer.Segment) []*domain.SleepEpisode {
	out := make([]*domain.SleepEpisode, 0, len(segments))
	for _, s := range segments {
		out = append(out, &domain.SleepEpisode{
			ExternalID:    s.ExternalID,
			SegmentIndex:  s.SegmentIndex,
			Start:         s.Start,
			End:           s.End,
			SourceID:      s.SourceID,
			AnchoredDayID: s.DayID,
		})
	}
	return out
}

// sameGeometry compares stored segments (any order) with freshly split ones.
func sameGeometry(stored, next []*domain.SleepEpisode) bool {
	if len(stored) != len(next) {
		return false
	}
	byIndex := make(map[int]*domain.SleepEpisode, len(stored))
	for _, ep := range stored {
		byIndex[ep.SegmentIndex] = ep
	}
	for _, ep := range next {
		old, ok := byIndex[ep.SegmentIndex]
		if !ok || !old.SameGeometry(ep) {
			return false
		}
	}
	return true
}

func mergeSpans(spans []span, pad time.Duration) []span {
	if len(spans) == 0 {
		return nil
	}
	padded := make([]span, len(spans))
	for i, s := range spans {
		padded[i] = span{s.start.Add(-pad), s.end.Add(pad)}
	}
	sort.Slice(padded, func(i, j int) bool { return padded[i].start.Before(padded[j].start) })

	out := []span{padded[0]}
	for _, s := range padded[1:] {
		cur := &out[len(out)-1]
		if s.start.After(cur.end) {
			out = append(out, s)
			continue
		}
		if s.end.After(cur.end) {
			cur.end = s.end
		}
	}
	return out
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

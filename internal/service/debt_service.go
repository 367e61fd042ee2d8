// Package service coordinates refresh and settings changes with the query layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sleepdebt/internal/cache"
	"sleepdebt/internal/domain"
	"sleepdebt/internal/export"
	"sleepdebt/internal/pipeline"
	"sleepdebt/internal/query"
	"sleepdebt/internal/repository"
	"sleepdebt/internal/source"

	"go.uber.org/zap"
)

const (
	defaultRecentEvents = 20
	maxRecentEvents     = 200
)

// Options tunables for DebtService. Zero values fall back to defaults.
type Options struct {
	TimeZone   string
	SessionGap time.Duration
	WindowDays int
	Cache      *cache.OverviewCache // nil disables overview caching
	Events     cache.EventPublisher // nil drops events
	Now        func() time.Time
}

// SyncStatus outcome of the latest refresh attempt.
type SyncStatus struct {
	InProgress    bool       `json:"in_progress"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	LastDirtyDays int        `json:"last_dirty_days"`
}

// DebtService serializes every write (refresh, goal, boundary) and answers queries
// from committed state.
type DebtService struct {
	store     repository.Store
	source    source.IntervalSource
	mutator   *pipeline.Mutator
	rebuilder *pipeline.Rebuilder
	query     *query.Service
	cache     *cache.OverviewCache
	events    cache.EventPublisher
	logger    *zap.Logger

	timeZone   string
	windowDays int
	now        func() time.Time

	mu sync.Mutex // one write at a time

	// generation counts committed writes; an overview computed across a bump is not cached
	generation atomic.Uint64

	statusMu sync.RWMutex
	status   SyncStatus
}

func NewDebtService(store repository.Store, src source.IntervalSource, opts Options, logger *zap.Logger) *DebtService {
	if opts.TimeZone == "" {
		opts.TimeZone = "UTC"
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = query.DefaultWindowDays
	}
	if opts.Events == nil {
		opts.Events = cache.NopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &DebtService{
		store:      store,
		source:     src,
		mutator:    pipeline.NewMutator(opts.SessionGap, logger),
		rebuilder:  pipeline.NewRebuilder(pipeline.NewAggregator(), logger),
		query:      query.NewService(store, opts.TimeZone),
		cache:      opts.Cache,
		events:     opts.Events,
		logger:     logger,
		timeZone:   opts.TimeZone,
		windowDays: opts.WindowDays,
		now:        opts.Now,
	}
}

// EnsureSettings stores the default profile on first start.
func (s *DebtService) EnsureSettings(ctx context.Context) (*domain.UserSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out *domain.UserSettings
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		settings, err := tx.GetSettings(ctx)
		if err != nil {
			return err
		}
		if settings == nil {
			settings = domain.DefaultSettings(s.timeZone)
			if err := tx.SaveSettings(ctx, settings); err != nil {
				return err
			}
			s.logger.Info("Created default settings", zap.String("time_zone", s.timeZone))
		}
		out = settings
		return nil
	})
	if err != nil {
		return nil, persistenceError(err)
	}
	return out, nil
}

// Settings stored settings, or the defaults when none are stored yet.
func (s *DebtService) Settings(ctx context.Context) (*domain.UserSettings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, persistenceError(err)
	}
	if settings == nil {
		settings = domain.DefaultSettings(s.timeZone)
	}
	return settings, nil
}

func (s *DebtService) settingsIn(ctx context.Context, tx repository.Tx) (*domain.UserSettings, error) {
	settings, err := tx.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = domain.DefaultSettings(s.timeZone)
	}
	return settings, nil
}

// Refresh pulls changes since the stored cursor, applies them and rebuilds the
// affected part of the debt chain in one transaction. It returns the dirty day ids.
// A rejected cursor is retried once as a full refetch.
func (s *DebtService) Refresh(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := s.now()
	s.setStatus(func(st *SyncStatus) {
		st.InProgress = true
		st.LastAttemptAt = &attempt
	})

	dirty, err := s.refresh(ctx, attempt)
	if err != nil {
		s.logger.Error("Refresh failed", zap.Error(err))
		s.setStatus(func(st *SyncStatus) {
			st.InProgress = false
			st.LastError = err.Error()
		})
		return nil, err
	}

	s.setStatus(func(st *SyncStatus) {
		st.InProgress = false
		st.LastError = ""
		st.LastSuccessAt = &attempt
		st.LastDirtyDays = len(dirty)
	})
	return dirty, nil
}

func (s *DebtService) refresh(ctx context.Context, now time.Time) ([]string, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}

	cursor := settings.LastSyncCursor
	cs, err := s.source.FetchChanges(ctx, cursor)
	if err != nil && errors.Is(err, domain.ErrInvalidCursor) && cursor != "" {
		s.logger.Warn("Sync cursor rejected, refetching full history", zap.Error(err))
		cs, err = s.source.FetchChanges(ctx, "")
		if err == nil {
			cs.Full = true
		}
	}
	if err != nil {
		return nil, err
	}

	var (
		res   pipeline.ApplyResult
		stats pipeline.RebuildStats
	)
	err = s.store.InTx(ctx, func(tx repository.Tx) error {
		current, err := s.settingsIn(ctx, tx)
		if err != nil {
			return err
		}
		if res, err = s.mutator.Apply(ctx, tx, cs, current); err != nil {
			return err
		}
		if stats, err = s.rebuilder.Rebuild(ctx, tx, res.Dirty, current, now); err != nil {
			return err
		}
		if cs.NewCursor != "" {
			current.LastSyncCursor = cs.NewCursor
		}
		current.LastSyncAt = &now
		current.UpdatedAt = now
		return tx.SaveSettings(ctx, current)
	})
	if err != nil {
		return nil, persistenceError(err)
	}

	s.logger.Info("Refresh complete",
		zap.Int("added", len(cs.Added)),
		zap.Int("deleted", len(cs.Deleted)),
		zap.Bool("full", cs.Full),
		zap.Int("dropped", res.Dropped),
		zap.Int("dirty_days", len(res.Dirty)),
		zap.Int("summaries_written", stats.Written),
	)
	s.afterWrite(ctx, cache.ChangeEvent{Kind: cache.EventRefresh, DirtyDays: res.Dirty, Written: stats.Written, At: now})
	return res.Dirty, nil
}

// UpdateGoal stores a new goal and rebuilds every summary.
func (s *DebtService) UpdateGoal(ctx context.Context, minutes int) error {
	if err := domain.ValidateGoal(minutes); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stats pipeline.RebuildStats
	changed := false
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		settings, err := s.settingsIn(ctx, tx)
		if err != nil {
			return err
		}
		if settings.GoalMinutes == minutes {
			return nil
		}
		changed = true
		settings.GoalMinutes = minutes
		settings.UpdatedAt = now
		if err := tx.SaveSettings(ctx, settings); err != nil {
			return err
		}
		stats, err = s.rebuilder.RebuildAll(ctx, tx, settings, now)
		return err
	})
	if err != nil {
		return persistenceError(err)
	}
	if !changed {
		return nil
	}

	s.logger.Info("Goal updated", zap.Int("goal_minutes", minutes), zap.Int("summaries_written", stats.Written))
	s.afterWrite(ctx, cache.ChangeEvent{Kind: cache.EventGoalChanged, Written: stats.Written, At: now})
	return nil
}

// UpdateDayBoundary stores a new boundary hour, re-splits every stored interval
// and rebuilds every summary.
func (s *DebtService) UpdateDayBoundary(ctx context.Context, hour int) error {
	if err := domain.ValidateBoundaryHour(hour); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var stats pipeline.RebuildStats
	changed := false
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		settings, err := s.settingsIn(ctx, tx)
		if err != nil {
			return err
		}
		if settings.DayBoundaryHour == hour {
			return nil
		}
		changed = true
		settings.DayBoundaryHour = hour
		settings.UpdatedAt = now
		if err := tx.SaveSettings(ctx, settings); err != nil {
			return err
		}
		if _, err := s.mutator.Resplit(ctx, tx, settings); err != nil {
			return err
		}
		stats, err = s.rebuilder.RebuildAll(ctx, tx, settings, now)
		return err
	})
	if err != nil {
		return persistenceError(err)
	}
	if !changed {
		return nil
	}

	s.logger.Info("Day boundary updated", zap.Int("day_boundary_hour", hour), zap.Int("summaries_written", stats.Written))
	s.afterWrite(ctx, cache.ChangeEvent{Kind: cache.EventBoundaryChanged, Written: stats.Written, At: now})
	return nil
}

// afterWrite runs after commit; failures here never undo the write.
func (s *DebtService) afterWrite(ctx context.Context, ev cache.ChangeEvent) {
	s.generation.Add(1)
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, s.windowDays); err != nil {
			s.logger.Warn("Failed to invalidate overview cache", zap.Error(err))
		}
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("Failed to publish change event", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

// Status latest refresh outcome.
func (s *DebtService) Status() SyncStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *DebtService) setStatus(fn func(*SyncStatus)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	fn(&s.status)
}

// ========== queries ==========

func (s *DebtService) window(windowDays int) int {
	if windowDays <= 0 {
		return s.windowDays
	}
	return windowDays
}

func (s *DebtService) RollingDebt(ctx context.Context, windowDays int) (int, error) {
	return s.query.RollingDebt(ctx, s.window(windowDays), s.now())
}

func (s *DebtService) ChartSeries(ctx context.Context, windowDays int) ([]query.ChartPoint, error) {
	return s.query.ChartSeries(ctx, s.window(windowDays), s.now())
}

func (s *DebtService) TodaySummary(ctx context.Context) (*query.Today, error) {
	return s.query.TodaySummary(ctx, s.now())
}

func (s *DebtService) Days(ctx context.Context, windowDays int) ([]query.DayRow, error) {
	return s.query.Days(ctx, s.window(windowDays), s.now())
}

// Overview served from the cache for the default window when possible.
func (s *DebtService) Overview(ctx context.Context, windowDays int) (*query.Overview, error) {
	windowDays = s.window(windowDays)
	now := s.now()
	cacheable := s.cache != nil && windowDays == s.windowDays

	if cacheable {
		today, err := s.query.TodaySummary(ctx, now)
		if err != nil {
			return nil, err
		}
		ov, err := s.cache.Get(ctx, windowDays, today.DayID)
		if err == nil {
			return ov, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Overview cache read failed", zap.Error(err))
		}
	}

	gen := s.generation.Load()
	ov, err := s.query.Overview(ctx, windowDays, now)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := s.cache.Set(ctx, windowDays, ov); err != nil {
			s.logger.Warn("Overview cache write failed", zap.Error(err))
		}
		// a write committed meanwhile; its invalidation may have run before our Set
		if s.generation.Load() != gen {
			if err := s.cache.Invalidate(ctx, windowDays); err != nil {
				s.logger.Warn("Failed to invalidate overview cache", zap.Error(err))
			}
		}
	}
	return ov, nil
}

// RecentEvents newest change events when the publisher keeps them.
func (s *DebtService) RecentEvents(ctx context.Context, limit int) ([]cache.ChangeEvent, error) {
	switch {
	case limit <= 0:
		limit = defaultRecentEvents
	case limit > maxRecentEvents:
		limit = maxRecentEvents
	}
	reader, ok := s.events.(cache.EventReader)
	if !ok {
		return []cache.ChangeEvent{}, nil
	}
	return reader.Recent(ctx, int64(limit))
}

// ExportDays XLSX workbook of the last windowDays days.
func (s *DebtService) ExportDays(ctx context.Context, windowDays int) ([]byte, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.Days(ctx, windowDays)
	if err != nil {
		return nil, err
	}
	return export.GenerateDaysExport(rows, settings.GoalMinutes)
}

func persistenceError(err error) error {
	if errors.Is(err, domain.ErrPersistenceFailure) || errors.Is(err, domain.ErrInvalidSettings) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
}

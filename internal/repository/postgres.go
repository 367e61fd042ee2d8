package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"sleepdebt/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// advisoryLockKey serializes write transactions across processes sharing the database.
const advisoryLockKey int64 = 0x51eeb0de

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore Store on lib/pq. Summary dates are kept as DATE and returned as
// midnight in loc.
type PostgresStore struct {
	pgOps
	db     *sql.DB
	logger *zap.Logger
}

type pgOps struct {
	q   querier
	loc *time.Location
}

func NewPostgresStore(db *sql.DB, loc *time.Location, logger *zap.Logger) *PostgresStore {
	if loc == nil {
		loc = time.UTC
	}
	return &PostgresStore{
		pgOps:  pgOps{q: db, loc: loc},
		db:     db,
		logger: logger,
	}
}

var _ Store = (*PostgresStore)(nil)
var _ Tx = (*pgOps)(nil)

// Migrate applies schema.sql; every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InTx runs fn inside one transaction holding the sleepdebt advisory lock.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", domain.ErrPersistenceFailure, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryLockKey); err != nil {
		return fmt.Errorf("%w: failed to acquire advisory lock: %v", domain.ErrPersistenceFailure, err)
	}

	if err := fn(&pgOps{q: tx, loc: s.loc}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("%w: failed to commit transaction: %v", domain.ErrPersistenceFailure, err)
	}
	return nil
}

// View runs fn in a read-only REPEATABLE READ transaction so every query sees
// the same snapshot.
func (s *PostgresStore) View(ctx context.Context, fn func(r Reader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("%w: failed to begin read transaction: %v", domain.ErrPersistenceFailure, err)
	}
	defer tx.Rollback()

	if err := fn(&pgOps{q: tx, loc: s.loc}); err != nil {
		return err
	}
	return tx.Commit()
}

// ========== settings ==========

func (o *pgOps) GetSettings(ctx context.Context) (*domain.UserSettings, error) {
	query := `
		SELECT
			goal_minutes,
			day_boundary_hour,
			comparison_enabled,
			time_zone,
			notification_prefs::text,
			COALESCE(last_sync_cursor, ''),
			last_sync_at,
			created_at,
			updated_at
		FROM sleepdebt_settings
		WHERE id = 1
	`
	var (
		s        domain.UserSettings
		prefs    string
		lastSync sql.NullTime
	)
	err := o.q.QueryRowContext(ctx, query).Scan(
		&s.GoalMinutes,
		&s.DayBoundaryHour,
		&s.ComparisonEnabled,
		&s.TimeZone,
		&prefs,
		&s.LastSyncCursor,
		&lastSync,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if prefs != "" {
		if err := json.Unmarshal([]byte(prefs), &s.NotificationPrefs); err != nil {
			return nil, fmt.Errorf("failed to decode notification_prefs: %w", err)
		}
	}
	if lastSync.Valid {
		t := lastSync.Time
		s.LastSyncAt = &t
	}
	return &s, nil
}

func (o *pgOps) SaveSettings(ctx context.Context, s *domain.UserSettings) error {
	if s == nil {
		return fmt.Errorf("settings is required")
	}
	prefs, err := json.Marshal(s.NotificationPrefs)
	if err != nil {
		return fmt.Errorf("failed to encode notification_prefs: %w", err)
	}
	var lastSync interface{}
	if s.LastSyncAt != nil {
		lastSync = *s.LastSyncAt
	}
	query := `
		INSERT INTO sleepdebt_settings (
			id,
			goal_minutes,
			day_boundary_hour,
			comparison_enabled,
			time_zone,
			notification_prefs,
			last_sync_cursor,
			last_sync_at,
			created_at,
			updated_at
		) VALUES (1, $1, $2, $3, $4, $5::jsonb, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			goal_minutes = EXCLUDED.goal_minutes,
			day_boundary_hour = EXCLUDED.day_boundary_hour,
			comparison_enabled = EXCLUDED.comparison_enabled,
			time_zone = EXCLUDED.time_zone,
			notification_prefs = EXCLUDED.notification_prefs,
			last_sync_cursor = EXCLUDED.last_sync_cursor,
			last_sync_at = EXCLUDED.last_sync_at,
			updated_at = NOW()
	`
	_, err = o.q.ExecContext(ctx, query,
		s.GoalMinutes, s.DayBoundaryHour, s.ComparisonEnabled, s.TimeZone,
		string(prefs), s.LastSyncCursor, lastSync)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// ========== episodes ==========

const episodeColumns = `
			id::text,
			external_id,
			segment_index,
			start_at,
			end_at,
			source_id,
			anchored_day_id,
			created_at
`

func (o *pgOps) queryEpisodes(ctx context.Context, where string, args ...any) ([]*domain.SleepEpisode, error) {
	query := `SELECT` + episodeColumns + `FROM sleep_episodes ` + where +
		` ORDER BY start_at, external_id, segment_index`
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query episodes: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.SleepEpisode, 0)
	for rows.Next() {
		var ep domain.SleepEpisode
		if err := rows.Scan(
			&ep.ID,
			&ep.ExternalID,
			&ep.SegmentIndex,
			&ep.Start,
			&ep.End,
			&ep.SourceID,
			&ep.AnchoredDayID,
			&ep.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		out = append(out, &ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate episodes: %w", err)
	}
	return out, nil
}

func (o *pgOps) AllEpisodes(ctx context.Context) ([]*domain.SleepEpisode, error) {
	return o.queryEpisodes(ctx, "")
}

func (o *pgOps) EpisodesByExternalIDs(ctx context.Context, externalIDs []string) ([]*domain.SleepEpisode, error) {
	if len(externalIDs) == 0 {
		return []*domain.SleepEpisode{}, nil
	}
	return o.queryEpisodes(ctx, "WHERE external_id = ANY($1)", pq.Array(externalIDs))
}

func (o *pgOps) EpisodesOverlapping(ctx context.Context, from, to time.Time) ([]*domain.SleepEpisode, error) {
	return o.queryEpisodes(ctx, "WHERE start_at < $2 AND end_at > $1", from, to)
}

func (o *pgOps) EpisodesByDay(ctx context.Context, dayID string) ([]*domain.SleepEpisode, error) {
	return o.queryEpisodes(ctx, "WHERE anchored_day_id = $1", dayID)
}

func (o *pgOps) EarliestEpisode(ctx context.Context) (*domain.SleepEpisode, error) {
	eps, err := o.queryEpisodes(ctx, "WHERE start_at = (SELECT MIN(start_at) FROM sleep_episodes)")
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, nil
	}
	return eps[0], nil
}

func (o *pgOps) ExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT DISTINCT external_id FROM sleep_episodes ORDER BY external_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list external ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan external id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (o *pgOps) InsertEpisodes(ctx context.Context, episodes []*domain.SleepEpisode) error {
	query := `
		INSERT INTO sleep_episodes (
			id,
			external_id,
			segment_index,
			start_at,
			end_at,
			source_id,
			anchored_day_id
		) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	for _, ep := range episodes {
		if ep.ID == "" {
			ep.ID = uuid.New().String()
		}
		err := o.q.QueryRowContext(ctx, query,
			ep.ID, ep.ExternalID, ep.SegmentIndex, ep.Start, ep.End, ep.SourceID, ep.AnchoredDayID,
		).Scan(&ep.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert episode %s/%d: %w", ep.ExternalID, ep.SegmentIndex, err)
		}
	}
	return nil
}

func (o *pgOps) DeleteEpisodesByExternalIDs(ctx context.Context, externalIDs []string) ([]string, error) {
	if len(externalIDs) == 0 {
		return []string{}, nil
	}
	query := `
		WITH deleted AS (
			DELETE FROM sleep_episodes
			WHERE external_id = ANY($1)
			RETURNING anchored_day_id
		)
		SELECT DISTINCT anchored_day_id FROM deleted ORDER BY anchored_day_id
	`
	rows, err := o.q.QueryContext(ctx, query, pq.Array(externalIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to delete episodes: %w", err)
	}
	defer rows.Close()

	days := make([]string, 0)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan deleted day id: %w", err)
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (o *pgOps) UpdateEpisodeDay(ctx context.Context, episodeID, dayID string) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE sleep_episodes SET anchored_day_id = $2 WHERE id = $1::uuid`, episodeID, dayID)
	if err != nil {
		return fmt.Errorf("failed to update episode day: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("episode %s not found", episodeID)
	}
	return nil
}

// ========== summaries ==========

const summaryColumns = `
			day_id,
			to_char(day_date, 'YYYY-MM-DD'),
			has_data,
			actual_minutes,
			delta_minutes,
			cumulative_debt_minutes,
			data_quality,
			source_count,
			created_at,
			updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func (o *pgOps) scanSummary(row rowScanner) (*domain.DailySummary, error) {
	var (
		s       domain.DailySummary
		date    string
		quality string
	)
	if err := row.Scan(
		&s.DayID,
		&date,
		&s.HasData,
		&s.ActualMinutes,
		&s.DeltaMinutes,
		&s.CumulativeDebtMinutes,
		&quality,
		&s.SourceCount,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d, err := time.ParseInLocation("2006-01-02", date, o.loc)
	if err != nil {
		return nil, fmt.Errorf("bad day_date %q: %w", date, err)
	}
	s.Date = d
	s.DataQuality = domain.DataQuality(quality)
	return &s, nil
}

func (o *pgOps) GetSummary(ctx context.Context, dayID string) (*domain.DailySummary, error) {
	row := o.q.QueryRowContext(ctx, `SELECT`+summaryColumns+`FROM daily_summaries WHERE day_id = $1`, dayID)
	s, err := o.scanSummary(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return s, nil
}

func (o *pgOps) ListSummaries(ctx context.Context, from, to time.Time) ([]*domain.DailySummary, error) {
	query := `SELECT` + summaryColumns + `FROM daily_summaries
		WHERE day_date >= $1::date AND day_date <= $2::date
		ORDER BY day_date`
	rows, err := o.q.QueryContext(ctx, query, dateKey(from), dateKey(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.DailySummary, 0)
	for rows.Next() {
		s, err := o.scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate summaries: %w", err)
	}
	return out, nil
}

func (o *pgOps) LatestSummaryBefore(ctx context.Context, date time.Time) (*domain.DailySummary, error) {
	query := `SELECT` + summaryColumns + `FROM daily_summaries
		WHERE day_date < $1::date
		ORDER BY day_date DESC
		LIMIT 1`
	s, err := o.scanSummary(o.q.QueryRowContext(ctx, query, dateKey(date)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get previous summary: %w", err)
	}
	return s, nil
}

func (o *pgOps) UpsertSummary(ctx context.Context, s *domain.DailySummary) error {
	if s == nil || s.DayID == "" {
		return fmt.Errorf("summary day_id is required")
	}
	query := `
		INSERT INTO daily_summaries (
			day_id,
			day_date,
			has_data,
			actual_minutes,
			delta_minutes,
			cumulative_debt_minutes,
			data_quality,
			source_count,
			created_at,
			updated_at
		) VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (day_id) DO UPDATE SET
			day_date = EXCLUDED.day_date,
			has_data = EXCLUDED.has_data,
			actual_minutes = EXCLUDED.actual_minutes,
			delta_minutes = EXCLUDED.delta_minutes,
			cumulative_debt_minutes = EXCLUDED.cumulative_debt_minutes,
			data_quality = EXCLUDED.data_quality,
			source_count = EXCLUDED.source_count,
			updated_at = NOW()
	`
	_, err := o.q.ExecContext(ctx, query,
		s.DayID, dateKey(s.Date), s.HasData, s.ActualMinutes, s.DeltaMinutes,
		s.CumulativeDebtMinutes, string(s.DataQuality), s.SourceCount)
	if err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", s.DayID, err)
	}
	return nil
}

func (o *pgOps) DeleteSummary(ctx context.Context, dayID string) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM daily_summaries WHERE day_id = $1`, dayID); err != nil {
		return fmt.Errorf("failed to delete summary %s: %w", dayID, err)
	}
	return nil
}

func (o *pgOps) DeleteAllSummaries(ctx context.Context) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM daily_summaries`); err != nil {
		return fmt.Errorf("failed to delete summaries: %w", err)
	}
	return nil
}

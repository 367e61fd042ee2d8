package repository

import (
	"context"
	"time"

	"sleepdebt/internal/domain"
)

// Reader read access to committed state. Lookups of absent rows return nil, nil.
type Reader interface {
	GetSettings(ctx context.Context) (*domain.UserSettings, error)
	GetSummary(ctx context.Context, dayID string) (*domain.DailySummary, error)
	// ListSummaries returns summaries whose date lies in [from, to], oldest first.
	ListSummaries(ctx context.Context, from, to time.Time) ([]*domain.DailySummary, error)
	// LatestSummaryBefore returns the newest summary dated strictly before date.
	LatestSummaryBefore(ctx context.Context, date time.Time) (*domain.DailySummary, error)
}

// Tx read/write view inside one transaction. Episode lists are ordered by
// start, external id, segment index. Returned values are copies.
type Tx interface {
	Reader

	SaveSettings(ctx context.Context, s *domain.UserSettings) error

	AllEpisodes(ctx context.Context) ([]*domain.SleepEpisode, error)
	EpisodesByExternalIDs(ctx context.Context, externalIDs []string) ([]*domain.SleepEpisode, error)
	// EpisodesOverlapping returns episodes with start < to and end > from.
	EpisodesOverlapping(ctx context.Context, from, to time.Time) ([]*domain.SleepEpisode, error)
	EpisodesByDay(ctx context.Context, dayID string) ([]*domain.SleepEpisode, error)
	// EarliestEpisode returns the episode with the smallest start, or nil.
	EarliestEpisode(ctx context.Context) (*domain.SleepEpisode, error)
	ExternalIDs(ctx context.Context) ([]string, error)
	// InsertEpisodes assigns ids to episodes that have none.
	InsertEpisodes(ctx context.Context, episodes []*domain.SleepEpisode) error
	// DeleteEpisodesByExternalIDs removes every segment and returns the day ids they were anchored to.
	DeleteEpisodesByExternalIDs(ctx context.Context, externalIDs []string) ([]string, error)
	UpdateEpisodeDay(ctx context.Context, episodeID, dayID string) error

	UpsertSummary(ctx context.Context, s *domain.DailySummary) error
	DeleteSummary(ctx context.Context, dayID string) error
	DeleteAllSummaries(ctx context.Context) error
}

// Viewer runs fn against one consistent snapshot of committed state.
type Viewer interface {
	View(ctx context.Context, fn func(r Reader) error) error
}

// Store committed state plus atomic write transactions.
// fn's changes are committed only when it returns nil.
type Store interface {
	Reader
	Viewer
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

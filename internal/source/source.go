// Package source fetches sleep interval changes from the health data source.
package source

import (
	"context"

	"sleepdebt/internal/domain"
)

// IntervalSource cursor-based change feed. An empty cursor requests the full
// history. Implementations return domain.ErrInvalidCursor when the cursor is
// rejected and domain.ErrSourceUnavailable on any other failure.
type IntervalSource interface {
	FetchChanges(ctx context.Context, cursor string) (*domain.ChangeSet, error)
}

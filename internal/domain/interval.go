package domain

import (
	"strings"
	"time"
)

// Sleep analysis categories as delivered by the health data source.
const (
	CategoryInBed             = "inBed"
	CategoryAwake             = "awake"
	CategoryAsleep            = "asleep"
	CategoryAsleepCore        = "asleepCore"
	CategoryAsleepDeep        = "asleepDeep"
	CategoryAsleepREM         = "asleepREM"
	CategoryAsleepUnspecified = "asleepUnspecified"
)

// RawInterval one sample from the health data source.
type RawInterval struct {
	ExternalID string    `json:"externalId"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	SourceID   string    `json:"sourceId"`
	Category   string    `json:"category"`
}

// IsAsleep reports whether the category is one of the asleep variants.
func (r RawInterval) IsAsleep() bool {
	return strings.HasPrefix(r.Category, CategoryAsleep)
}

// Valid reports End > Start.
func (r RawInterval) Valid() bool {
	return r.End.After(r.Start)
}

// ChangeSet one cursor-based fetch result.
// Full marks a fetch from an empty cursor: the batch is the complete history.
type ChangeSet struct {
	Added     []RawInterval `json:"added"`
	Deleted   []string      `json:"deleted"`
	NewCursor string        `json:"newCursor"`
	Full      bool          `json:"full"`
}

// Empty reports whether the change set carries no records.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Deleted) == 0
}

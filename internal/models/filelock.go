package models

import (
	"time"

	"github.com/google/uuid"
)

// Conflict severity and recommendation tiers (spec.md §4.7).
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// FileLock records the single holder of a file path. At most one lock per
// path is held at a time across the conflict monitor.
type FileLock struct {
	Path         string    `json:"path"`
	HoldingAgent uuid.UUID `json:"holding_agent_id"`
	TaskID       uuid.UUID `json:"task_id"`
	Branch       string    `json:"branch"`
	LockedAt     time.Time `json:"locked_at"`
}

// ConflictEvent is emitted when two agents register activity on the same path.
type ConflictEvent struct {
	Type           string    `json:"type"` // always "potential"
	Files          []string  `json:"files"`
	Agents         []uuid.UUID `json:"agents"`
	Severity       string    `json:"severity"`
	Recommendation string    `json:"recommendation"`
	OccurredAt     time.Time `json:"occurred_at"`
}

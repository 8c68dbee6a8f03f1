package models

import (
	"time"

	"github.com/google/uuid"
)

// Task type, priority, model preference, and lifecycle status enums.
const (
	TaskTypeCode     = "code"
	TaskTypeTest     = "test"
	TaskTypeReview   = "review"
	TaskTypeDoc      = "doc"
	TaskTypeSecurity = "security"

	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"

	ModelOpus   = "opus"
	ModelSonnet = "sonnet"

	TaskStatusPending   = "pending"
	TaskStatusAssigned  = "assigned"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// TaskContext is the typed context block every task carries: git branch,
// in-scope files, dependency task IDs, and optional repo/commit pointers.
//
// Optional fields are pointers rather than sentinel strings (no "unknown"
// base commit) per the per-field-optionality guidance in the design notes.
type TaskContext struct {
	Branch         string      `json:"branch"`
	Files          []string    `json:"files,omitempty"`
	Dependencies   []uuid.UUID `json:"dependencies,omitempty"`
	RepositoryURL  *string     `json:"repository_url,omitempty"`
	BaseCommitHash *string     `json:"base_commit_hash,omitempty"`
}

// Task is a single unit of coding work described by a prompt plus typed context.
type Task struct {
	ID              uuid.UUID   `json:"id"`
	Type            string      `json:"type"`
	Priority        string      `json:"priority"`
	Model           string      `json:"model,omitempty"`
	Prompt          string      `json:"prompt"`
	Context         TaskContext `json:"context"`
	MaxTokens       *int        `json:"max_tokens,omitempty"`
	TimeoutMinutes  int         `json:"timeout_minutes"`
	BudgetCents     int         `json:"budget_cents"`
	CreatedAt       time.Time   `json:"created_at"`
	ParentTaskID    *uuid.UUID  `json:"parent_task_id,omitempty"`
	AssignedAgentID *uuid.UUID  `json:"assigned_agent_id,omitempty"`
	Status          string      `json:"status"`
}

// HasDependency reports whether id appears directly in the task's dependency list.
func (t *Task) HasDependency(id uuid.UUID) bool {
	for _, d := range t.Context.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

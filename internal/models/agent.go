package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent status enum.
const (
	AgentStatusIdle         = "idle"
	AgentStatusInitializing = "initializing"
	AgentStatusRunning      = "running"
	AgentStatusCompleted    = "completed"
	AgentStatusFailed       = "failed"
	AgentStatusTerminated   = "terminated"
)

// TokenCounters tracks running input/output/cached token usage for a live agent.
type TokenCounters struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Cached int `json:"cached"`
}

// Agent is a worker process that executes exactly one task at a time.
type Agent struct {
	ID              uuid.UUID  `json:"id"`
	Status          string     `json:"status"`
	HeldTaskID      *uuid.UUID `json:"held_task_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	WorkingBranch   string     `json:"working_branch,omitempty"`
	Tokens          TokenCounters `json:"tokens"`
	AccumulatedCost int        `json:"accumulated_cost_cents"`
}

// Terminal reports whether the agent has reached a status from which it will
// never resume holding a task (used to gate file-lock release).
func (a *Agent) Terminal() bool {
	switch a.Status {
	case AgentStatusCompleted, AgentStatusFailed, AgentStatusTerminated:
		return true
	default:
		return false
	}
}

// AtCapacity reports whether the agent can take no further task. The current
// model holds at most one task, so maxConcurrent is not compared against a
// count: an agent is at capacity when it is not idle and holds a task.
func (a *Agent) AtCapacity(maxConcurrent int) bool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if a.Status != AgentStatusIdle && a.HeldTaskID != nil {
		return true
	}
	return false
}

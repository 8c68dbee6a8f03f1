package models

import (
	"github.com/google/uuid"
)

// Result status enum.
const (
	ResultStatusSuccess = "success"
	ResultStatusPartial = "partial"
	ResultStatusFailed  = "failed"
)

// File-change action enum.
const (
	FileActionAdd    = "add"
	FileActionModify = "modify"
	FileActionDelete = "delete"
)

// FileChange is one outputted file mutation.
type FileChange struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

// Result is keyed by task ID; one per task.
type Result struct {
	TaskID        uuid.UUID     `json:"task_id"`
	AgentID       uuid.UUID     `json:"agent_id"`
	Status        string        `json:"status"`
	Outputs       []FileChange  `json:"outputs,omitempty"`
	Summary       *string       `json:"summary,omitempty"`
	Tokens        TokenCounters `json:"tokens"`
	DurationMs    int64         `json:"duration_ms"`
	CostCents     int           `json:"cost_cents"`
	BaseCommit    *string       `json:"base_commit,omitempty"`
	ResultCommit  *string       `json:"result_commit,omitempty"`
	Conflicts     []string      `json:"conflicts,omitempty"`
	Error         *string       `json:"error,omitempty"`
}

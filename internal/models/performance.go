package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSuccessRate, DefaultAvgDurationMs, DefaultAvgCostCents, and
// DefaultSmoothingAlpha are the fresh-record defaults for a (agent, task
// type) pair that has never completed a task, per spec.md §3/§4.3.
const (
	DefaultSuccessRate    = 0.5
	DefaultAvgDurationMs  = 300000
	DefaultAvgCostCents   = 100
	DefaultSmoothingAlpha = 0.3
	DecayThreshold        = 24 * time.Hour
	DecayFactor           = 0.05
)

// PerformanceRecord is keyed by (agent ID, task type).
type PerformanceRecord struct {
	AgentID        uuid.UUID `json:"agent_id"`
	TaskType       string    `json:"task_type"`
	SuccessRate    float64   `json:"success_rate"`
	AvgDurationMs  float64   `json:"avg_duration_ms"`
	AvgCostCents   float64   `json:"avg_cost_cents"`
	CompletedCount int       `json:"completed_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// NewPerformanceRecord returns a fresh record at the documented defaults.
func NewPerformanceRecord(agentID uuid.UUID, taskType string, now time.Time) *PerformanceRecord {
	return &PerformanceRecord{
		AgentID:       agentID,
		TaskType:      taskType,
		SuccessRate:   DefaultSuccessRate,
		AvgDurationMs: DefaultAvgDurationMs,
		AvgCostCents:  DefaultAvgCostCents,
		LastUpdated:   now,
	}
}

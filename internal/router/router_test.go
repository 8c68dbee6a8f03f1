package router

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/models"
)

func TestRoute_NoIdleAgentsSpawnsNew(t *testing.T) {
	task := &models.Task{Type: models.TaskTypeCode, BudgetCents: 100}
	d := Route(task, nil)
	require.Nil(t, d.AgentID)
	require.Equal(t, 0.5, d.Confidence)
}

func TestRoute_ExperiencedAgentWinsCodeTask(t *testing.T) {
	now := time.Now()
	a1 := uuid.New()
	a2 := uuid.New()
	idle := []IdleAgent{
		{AgentID: a1, Record: &models.PerformanceRecord{
			SuccessRate: 0.9, AvgDurationMs: 60000, AvgCostCents: 50, CompletedCount: 30, LastUpdated: now,
		}},
		{AgentID: a2, Record: models.NewPerformanceRecord(a2, models.TaskTypeCode, now)},
	}

	d := Route(&models.Task{Type: models.TaskTypeCode, BudgetCents: 100}, idle)
	require.NotNil(t, d.AgentID)
	require.Equal(t, a1, *d.AgentID)
	require.GreaterOrEqual(t, d.Confidence, 0.8)
	require.Contains(t, d.Reason, "high success rate")
	require.Contains(t, d.Reason, "experienced")
}

func TestRoute_SecurityTaskAlwaysPicksOpus(t *testing.T) {
	now := time.Now()
	a1 := uuid.New()
	a2 := uuid.New()
	idle := []IdleAgent{
		{AgentID: a1, Record: models.NewPerformanceRecord(a1, models.TaskTypeSecurity, now)},
		{AgentID: a2, Record: models.NewPerformanceRecord(a2, models.TaskTypeSecurity, now)},
	}

	d := Route(&models.Task{Type: models.TaskTypeSecurity, BudgetCents: 100}, idle)
	require.Equal(t, models.ModelOpus, d.Model)
}

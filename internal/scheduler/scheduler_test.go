package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/graph"
	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/store/memory"
)

func noHistory(ctx context.Context, agentID uuid.UUID, taskType string) (*models.PerformanceRecord, error) {
	return nil, nil
}

func newTestScheduler() (*Scheduler, *memory.Store) {
	s := memory.New()
	g := graph.New(s)
	return New(s, g, noHistory, nil), s
}

func TestSchedule_AssignsReadyTaskToIdleAgent(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler()

	task := &models.Task{
		ID: uuid.New(), Type: models.TaskTypeCode, Priority: models.PriorityHigh,
		Status: models.TaskStatusPending, CreatedAt: time.Now(),
	}
	require.NoError(t, sched.RegisterTask(ctx, task))

	agent := uuid.New()
	decision, err := sched.Schedule(ctx, []AgentCapacity{{AgentID: agent, Status: models.AgentStatusIdle}})
	require.NoError(t, err)
	require.Len(t, decision.Assignments, 1)
	require.Equal(t, task.ID, decision.Assignments[0].TaskID)
	require.Empty(t, decision.Blocked)
}

func TestSchedule_BlocksTaskWithUnmetDependency(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler()

	dep := &models.Task{ID: uuid.New(), Type: models.TaskTypeCode, Priority: models.PriorityNormal, Status: models.TaskStatusPending, CreatedAt: time.Now()}
	require.NoError(t, sched.RegisterTask(ctx, dep))

	task := &models.Task{
		ID: uuid.New(), Type: models.TaskTypeCode, Priority: models.PriorityNormal,
		Status: models.TaskStatusPending, CreatedAt: time.Now(),
		Context: models.TaskContext{Dependencies: []uuid.UUID{dep.ID}},
	}
	require.NoError(t, sched.RegisterTask(ctx, task))

	agent := uuid.New()
	decision, err := sched.Schedule(ctx, []AgentCapacity{{AgentID: agent, Status: models.AgentStatusIdle}})
	require.NoError(t, err)
	require.Len(t, decision.Assignments, 1, "only the dependency-free task should be assigned")
	require.Equal(t, dep.ID, decision.Assignments[0].TaskID)
	require.Len(t, decision.Blocked, 1)
	require.Equal(t, task.ID, decision.Blocked[0].TaskID)
	require.Equal(t, []uuid.UUID{dep.ID}, decision.Blocked[0].UnmetDeps)
}

func TestCompleteTask_UnlocksDependent(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler()

	dep := &models.Task{ID: uuid.New(), Type: models.TaskTypeCode, Priority: models.PriorityNormal, Status: models.TaskStatusPending, CreatedAt: time.Now()}
	require.NoError(t, sched.RegisterTask(ctx, dep))

	task := &models.Task{
		ID: uuid.New(), Type: models.TaskTypeCode, Priority: models.PriorityNormal,
		Status: models.TaskStatusPending, CreatedAt: time.Now(),
		Context: models.TaskContext{Dependencies: []uuid.UUID{dep.ID}},
	}
	require.NoError(t, sched.RegisterTask(ctx, task))

	newlyReady, err := sched.CompleteTask(ctx, dep.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{task.ID}, newlyReady)
}

func TestRebalance_RevertsAndReassignsOrphanedTasks(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler()

	lost := uuid.New()
	replacement := uuid.New()

	task := &models.Task{
		ID: uuid.New(), Type: models.TaskTypeCode, Priority: models.PriorityNormal,
		Status: models.TaskStatusAssigned, AssignedAgentID: &lost, CreatedAt: time.Now(),
	}
	require.NoError(t, sched.RegisterTask(ctx, task))

	reassigned, err := sched.Rebalance(ctx, lost, []AgentCapacity{{AgentID: replacement, Status: models.AgentStatusIdle}})
	require.NoError(t, err)
	require.Len(t, reassigned, 1)
	require.Equal(t, task.ID, reassigned[0].TaskID)
	require.Equal(t, replacement, reassigned[0].AgentID)
}

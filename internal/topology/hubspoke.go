package topology

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/store"
)

// HubSpoke is the default topology: tasks are stored and enqueued, results
// flow straight back to the store and the agent record, with no
// agent-to-agent paths. Grounded on the teacher's jobs.Service.CreateJob /
// AssignAgent / MarkJobCompleted flow, stripped of escrow and capability
// matching (handled elsewhere in this domain by the budget guard and router).
type HubSpoke struct {
	Store     store.Store
	Scheduler *scheduler.Scheduler
}

// NewHubSpoke constructs a HubSpoke handler.
func NewHubSpoke(s store.Store, sched *scheduler.Scheduler) *HubSpoke {
	return &HubSpoke{Store: s, Scheduler: sched}
}

var _ Handler = (*HubSpoke)(nil)

// SubmitTask stores the task and registers its dependency edges, mirroring
// CreateJob's "persist, then let assignment happen later" shape.
func (h *HubSpoke) SubmitTask(ctx context.Context, t *models.Task) error {
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	return h.Scheduler.RegisterTask(ctx, t)
}

// OnTaskComplete writes the result, flips the task to completed, and clears
// the agent's held-task pointer, the topology-layer equivalent of
// MarkJobCompleted/MarkJobFailed without escrow release.
func (h *HubSpoke) OnTaskComplete(ctx context.Context, taskID uuid.UUID, result *models.Result) error {
	if err := h.Store.SetResult(ctx, result); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	task, err := h.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return fmt.Errorf("on task complete: %s not found", taskID)
	}

	agentID := task.AssignedAgentID
	if result.Status == models.ResultStatusFailed {
		task.Status = models.TaskStatusFailed
		if err := h.Store.SetTask(ctx, task); err != nil {
			return fmt.Errorf("mark task failed: %w", err)
		}
	} else {
		if _, err := h.Scheduler.CompleteTask(ctx, taskID); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
	}

	if agentID != nil {
		agent, err := h.Store.GetAgent(ctx, *agentID)
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}
		if agent != nil {
			agent.HeldTaskID = nil
			agent.Status = models.AgentStatusIdle
			if err := h.Store.SetAgent(ctx, agent); err != nil {
				return fmt.Errorf("update agent: %w", err)
			}
		}
	}

	return nil
}

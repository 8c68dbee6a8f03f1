package topology

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/store"
)

// DefaultMaxDepth and DefaultMaxSubTasksPerAgent are the hierarchy's fan-out
// limits (spec.md §4.6).
const (
	DefaultMaxDepth             = 3
	DefaultMaxSubTasksPerAgent  = 5
)

// hierarchyEntry tracks one task's place in the hierarchy.
type hierarchyEntry struct {
	ParentID *uuid.UUID
	Depth    int
	Children []uuid.UUID
}

// Hierarchical tracks parent-child edges and depth per task, rejecting
// sub-task creation that would exceed the configured depth or fan-out
// limits, and optionally aggregating sibling results on completion.
type Hierarchical struct {
	Store               store.Store
	Scheduler            *scheduler.Scheduler
	MaxDepth             int
	MaxSubTasksPerAgent  int
	// Aggregate, if set, is invoked once every sibling of a completed task's
	// parent has reached a terminal status.
	Aggregate func(ctx context.Context, parentID uuid.UUID, siblingResults []*models.Result) error

	entries map[uuid.UUID]*hierarchyEntry
}

// NewHierarchical constructs a Hierarchical handler with the spec's default limits.
func NewHierarchical(s store.Store, sched *scheduler.Scheduler) *Hierarchical {
	return &Hierarchical{
		Store:               s,
		Scheduler:            sched,
		MaxDepth:             DefaultMaxDepth,
		MaxSubTasksPerAgent:  DefaultMaxSubTasksPerAgent,
		entries:              make(map[uuid.UUID]*hierarchyEntry),
	}
}

var _ Handler = (*Hierarchical)(nil)

// SubmitTask registers a root task (depth 0, no parent).
func (h *Hierarchical) SubmitTask(ctx context.Context, t *models.Task) error {
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	if err := h.Scheduler.RegisterTask(ctx, t); err != nil {
		return err
	}
	h.entries[t.ID] = &hierarchyEntry{ParentID: t.ParentTaskID, Depth: 0}
	return nil
}

// CreateSubTask mints a fresh sub-task under parentID, rejecting the call if
// it would exceed maxDepth or the parent's maxSubTasksPerAgent fan-out.
func (h *Hierarchical) CreateSubTask(ctx context.Context, parentID uuid.UUID, child *models.Task) error {
	parent, ok := h.entries[parentID]
	if !ok {
		return fmt.Errorf("create sub-task: parent %s not tracked", parentID)
	}
	if parent.Depth+1 > h.maxDepth() {
		return ErrDepthExceeded
	}
	if len(parent.Children) >= h.maxFanOut() {
		return ErrFanOutExceeded
	}

	child.ID = uuid.New()
	child.ParentTaskID = &parentID
	if child.Status == "" {
		child.Status = models.TaskStatusPending
	}
	if err := h.Scheduler.RegisterTask(ctx, child); err != nil {
		return fmt.Errorf("register sub-task: %w", err)
	}

	parent.Children = append(parent.Children, child.ID)
	h.entries[child.ID] = &hierarchyEntry{ParentID: &parentID, Depth: parent.Depth + 1}
	return nil
}

// OnTaskComplete writes the result, completes the task, and checks whether
// every sibling under the same parent has reached a terminal status; if so
// and Aggregate is set, invokes it.
func (h *Hierarchical) OnTaskComplete(ctx context.Context, taskID uuid.UUID, result *models.Result) error {
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

	entry, ok := h.entries[taskID]
	if !ok || entry.ParentID == nil || h.Aggregate == nil {
		return nil
	}

	parent := h.entries[*entry.ParentID]
	if parent == nil {
		return nil
	}

	var siblingResults []*models.Result
	for _, siblingID := range parent.Children {
		sibling, err := h.Store.GetTask(ctx, siblingID)
		if err != nil {
			return fmt.Errorf("get sibling %s: %w", siblingID, err)
		}
		if sibling == nil || !isTerminal(sibling.Status) {
			return nil
		}
		res, err := h.Store.GetResult(ctx, siblingID)
		if err != nil {
			return fmt.Errorf("get sibling result %s: %w", siblingID, err)
		}
		if res != nil {
			siblingResults = append(siblingResults, res)
		}
	}

	return h.Aggregate(ctx, *entry.ParentID, siblingResults)
}

func (h *Hierarchical) maxDepth() int {
	if h.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return h.MaxDepth
}

func (h *Hierarchical) maxFanOut() int {
	if h.MaxSubTasksPerAgent <= 0 {
		return DefaultMaxSubTasksPerAgent
	}
	return h.MaxSubTasksPerAgent
}

func isTerminal(status string) bool {
	switch status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		return true
	default:
		return false
	}
}

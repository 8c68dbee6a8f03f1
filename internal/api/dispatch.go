package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/notify"
	"github.com/inaiurai/orchestrator/internal/provider"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/scoring"
)

// RunSchedulerTick is the periodic assignment loop cmd/orchestrator drives
// on a ticker (spec.md §4.5 step 1): snapshot idle/loaded agent capacity,
// let the scheduler decide, dispatch every resulting assignment.
func (s *Server) RunSchedulerTick(ctx context.Context) (*scheduler.Decision, error) {
	agents, err := s.Store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	capacity := make([]scheduler.AgentCapacity, 0, len(agents))
	for _, a := range agents {
		held := 0
		if a.HeldTaskID != nil {
			held = 1
		}
		capacity = append(capacity, scheduler.AgentCapacity{AgentID: a.ID, Status: a.Status, HeldCount: held})
	}

	decision, err := s.Scheduler.Schedule(ctx, capacity)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}

	for _, a := range decision.Assignments {
		task, err := s.Store.GetTask(ctx, a.TaskID)
		if err != nil || task == nil {
			s.Logger.Error("scheduler tick: assigned task missing", "task_id", a.TaskID, "error", err)
			continue
		}
		task.Model = a.Model
		if err := s.dispatch(ctx, task, a.AgentID); err != nil {
			s.Logger.Error("scheduler tick: dispatch failed", "task_id", a.TaskID, "agent_id", a.AgentID, "error", err)
		}
	}
	return decision, nil
}

// dispatch hands task to the execution provider and spawns the goroutine
// that awaits completion, mirroring the teacher's "dispatch asynchronously,
// don't block the API response" pattern in handlers.TaskHandler.CreateTask.
// The caller (RunSchedulerTick or handleExecuteOne/Batch) has already
// confirmed the task is ready and picked an agent via the router.
func (s *Server) dispatch(ctx context.Context, task *models.Task, agentID uuid.UUID) error {
	safe, potential := s.Conflict.CheckTaskAssignment(task.Context.Files, agentID)
	if !safe {
		s.Notify.Publish(notify.Event{
			Type: notify.EventConflictPotential, TaskID: task.ID.String(), AgentID: agentID.String(),
			Data: map[string]interface{}{"files": potential},
		})
	}

	task.Status = models.TaskStatusAssigned
	task.AssignedAgentID = &agentID
	if err := s.Store.SetTask(ctx, task); err != nil {
		return err
	}
	s.Notify.Publish(notify.Event{Type: notify.EventTaskAssigned, TaskID: task.ID.String(), AgentID: agentID.String()})

	agent := &models.Agent{ID: agentID, Status: models.AgentStatusInitializing, HeldTaskID: &task.ID, WorkingBranch: task.Context.Branch}
	if err := s.Store.SetAgent(ctx, agent); err != nil {
		return err
	}

	handle, err := s.Provider.ExecuteTask(ctx, task)
	if err != nil {
		return err
	}
	s.trackExecution(task.ID, handle.ExecutionID)

	task.Status = models.TaskStatusRunning
	if err := s.Store.SetTask(ctx, task); err != nil {
		return err
	}
	started := time.Now()
	agent.Status = models.AgentStatusRunning
	agent.StartedAt = &started
	if err := s.Store.SetAgent(ctx, agent); err != nil {
		return err
	}
	s.Notify.Publish(notify.Event{Type: notify.EventTaskStarted, TaskID: task.ID.String(), AgentID: agentID.String()})
	s.Conflict.RegisterFileActivity(agentID, task.ID, task.Context.Files, task.Context.Branch)

	go s.awaitCompletion(task.ID, handle.ExecutionID, agentID, time.Duration(task.TimeoutMinutes)*time.Minute)
	return nil
}

// awaitCompletion runs the completion pipeline spec.md §5 calls atomic in
// the sense that an observer sees all five outcomes or none: status flip,
// scoring update, conflict release, budget debit, broadcast. Run from a
// detached goroutine and a fresh background context since the originating
// request has already returned a response to its caller.
func (s *Server) awaitCompletion(taskID uuid.UUID, executionID string, agentID uuid.UUID, timeout time.Duration) {
	ctx := context.Background()
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	wait, err := s.Provider.WaitForCompletion(ctx, executionID, timeout)
	s.forgetExecution(taskID)

	task, terr := s.Store.GetTask(ctx, taskID)
	if terr != nil || task == nil {
		s.Logger.Error("awaitCompletion: task vanished", "task_id", taskID, "error", terr)
		return
	}

	result := wait.Result
	if err != nil {
		s.Logger.Error("waitForCompletion", "task_id", taskID, "error", err)
		errMsg := err.Error()
		result = &models.Result{TaskID: taskID, AgentID: agentID, Status: models.ResultStatusFailed, Error: &errMsg}
	}
	if result == nil {
		status := wait.Status
		if status == "" {
			status = provider.StatusTimeout
		}
		errMsg := "execution ended without a result: " + status
		result = &models.Result{TaskID: taskID, AgentID: agentID, Status: models.ResultStatusFailed, Error: &errMsg}
	}

	success := result.Status == models.ResultStatusSuccess
	rec, rerr := s.Store.GetPerformance(ctx, agentID, task.Type)
	if rerr != nil {
		s.Logger.Warn("get performance", "error", rerr)
	}
	if rec == nil {
		rec = models.NewPerformanceRecord(agentID, task.Type, time.Now())
	}
	scoring.UpdateOnResult(rec, success, float64(result.DurationMs), float64(result.CostCents), models.DefaultSmoothingAlpha, time.Now())
	if err := s.Store.SetPerformance(ctx, rec); err != nil {
		s.Logger.Warn("set performance", "error", err)
	}

	s.Conflict.ReleaseAgentLocks(agentID)

	if result.CostCents > 0 {
		state, berr := s.Budget.RecordSpend(ctx, result.CostCents)
		if berr != nil {
			s.Logger.Error("record spend", "error", berr)
		} else if state.IsPaused {
			s.Notify.Publish(notify.Event{Type: notify.EventBudgetPaused})
		}
	}

	// OnTaskComplete owns result persistence, the task status flip, and
	// resetting the agent back to idle (topology.HubSpoke.OnTaskComplete
	// and its hierarchical/mesh siblings).
	if err := s.Topology.OnTaskComplete(ctx, taskID, result); err != nil {
		s.Logger.Error("topology OnTaskComplete", "task_id", taskID, "error", err)
	}

	evtType := notify.EventTaskCompleted
	if !success {
		evtType = notify.EventTaskFailed
	}
	s.Notify.Publish(notify.Event{Type: evtType, TaskID: taskID.String(), AgentID: agentID.String()})
}

func (s *Server) trackExecution(taskID uuid.UUID, executionID string) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if s.executions == nil {
		s.executions = make(map[uuid.UUID]string)
	}
	s.executions[taskID] = executionID
}

func (s *Server) forgetExecution(taskID uuid.UUID) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	delete(s.executions, taskID)
}

func (s *Server) executionFor(taskID uuid.UUID) (string, bool) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	id, ok := s.executions[taskID]
	return id, ok
}

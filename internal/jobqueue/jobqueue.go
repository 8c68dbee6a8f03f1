// Package jobqueue carries the scheduler's deadline monitor and the
// postgres store's TTL sweep onto durable River jobs, so a process restart
// does not drop a pending deadline the way the teacher's in-process
// "go func(); time.Sleep(...)" would (spec.md §4.5's monitorDeadline,
// generalised off the teacher's internal/services/dispatcher.go). Grounded
// on the teacher's execution.ExecuteAgentWorker shape: one Args type per job
// kind, a river.WorkerDefaults-embedding worker, registered on the same
// river.Workers set the process constructs at startup.
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/store"
)

// DeadlineCheckArgs is the deadline check for one dispatched task (spec.md
// §4.5's per-task deadline). No code in this module inserts these jobs;
// DeadlineWorker acts only on jobs inserted into the River queue elsewhere.
type DeadlineCheckArgs struct {
	TaskID  uuid.UUID `json:"task_id"`
	AgentID uuid.UUID `json:"agent_id"`
}

func (DeadlineCheckArgs) Kind() string { return "task_deadline_check" }

// DeadlineWorker reverts a still-assigned or running task past its deadline
// back to pending and marks the holding agent terminated, the durable
// equivalent of dispatcher.go's monitorDeadline. It does not rebalance the
// agent's other tasks.
type DeadlineWorker struct {
	river.WorkerDefaults[DeadlineCheckArgs]
	Store     store.Store
	Scheduler *scheduler.Scheduler
}

func (w *DeadlineWorker) Work(ctx context.Context, job *river.Job[DeadlineCheckArgs]) error {
	task, err := w.Store.GetTask(ctx, job.Args.TaskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if task == nil || task.Status != models.TaskStatusRunning && task.Status != models.TaskStatusAssigned {
		// Already completed, failed, or cancelled before the deadline fired.
		return nil
	}

	task.Status = models.TaskStatusPending
	task.AssignedAgentID = nil
	if err := w.Store.SetTask(ctx, task); err != nil {
		return fmt.Errorf("revert timed-out task: %w", err)
	}

	agent, err := w.Store.GetAgent(ctx, job.Args.AgentID)
	if err != nil {
		return fmt.Errorf("get agent: %w", err)
	}
	if agent != nil {
		agent.Status = models.AgentStatusTerminated
		agent.HeldTaskID = nil
		if err := w.Store.SetAgent(ctx, agent); err != nil {
			return fmt.Errorf("terminate timed-out agent: %w", err)
		}
	}
	return nil
}

// TTLSweepArgs is the periodic job that deletes expired rows from the
// postgres backend, the durable analogue of the memory store's in-process
// min-heap sweep goroutine (spec.md §9's retention/TTL guarantee).
type TTLSweepArgs struct{}

func (TTLSweepArgs) Kind() string { return "ttl_sweep" }

// Sweeper is the narrow interface the sweep worker needs; pgstore.Store
// implements it directly.
type Sweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// TTLSweepWorker deletes rows past their TTL once per tick.
type TTLSweepWorker struct {
	river.WorkerDefaults[TTLSweepArgs]
	Store Sweeper
}

func (w *TTLSweepWorker) Work(ctx context.Context, _ *river.Job[TTLSweepArgs]) error {
	n, err := w.Store.SweepExpired(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("sweep expired rows: %w", err)
	}
	_ = n
	return nil
}

// TTLSweepPeriodicJob wires TTLSweepArgs onto a 1-hour River periodic
// schedule, matching the teacher's river.Config wiring shape in main.go.
func TTLSweepPeriodicJob() *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(time.Hour),
		func() (river.JobArgs, *river.InsertOpts) {
			return TTLSweepArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: false},
	)
}

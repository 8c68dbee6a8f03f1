// Package simulate implements provider.Provider as an in-process mock: no
// network calls, completion times pre-computed from task type
// (provider.MockCompletionDelay), for local development and tests.
package simulate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/errkind"
	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/provider"
)

type execution struct {
	task      *models.Task
	startedAt time.Time
	doneAt    time.Time
	cancelled bool
}

// Provider simulates task execution locally with a fixed per-type delay.
type Provider struct {
	mu   sync.Mutex
	runs map[string]*execution
}

// New constructs an empty mock provider.
func New() *Provider {
	return &Provider{runs: make(map[string]*execution)}
}

var _ provider.Provider = (*Provider)(nil)

func (p *Provider) ExecuteTask(ctx context.Context, task *models.Task) (provider.ExecutionHandle, error) {
	executionID := uuid.New().String()
	now := time.Now()
	delay := provider.MockCompletionDelay(task.Type)

	p.mu.Lock()
	p.runs[executionID] = &execution{task: task, startedAt: now, doneAt: now.Add(delay)}
	p.mu.Unlock()

	return provider.ExecutionHandle{ExecutionID: executionID, AgentID: uuid.New()}, nil
}

func (p *Provider) GetExecutionStatus(ctx context.Context, executionID string) (string, error) {
	p.mu.Lock()
	run, ok := p.runs[executionID]
	p.mu.Unlock()
	if !ok {
		// Gone from the run table (already waited-for and forgotten, or
		// never existed); spec.md §4.4 treats this as completed, not failed.
		return provider.StatusCompleted, nil
	}
	if run.cancelled {
		return provider.StatusFailed, nil
	}
	if time.Now().Before(run.doneAt) {
		return provider.StatusRunning, nil
	}
	return provider.StatusCompleted, nil
}

func (p *Provider) WaitForCompletion(ctx context.Context, executionID string, timeout time.Duration) (provider.WaitResult, error) {
	if timeout <= 0 {
		timeout = provider.DefaultWaitTimeout
	}

	p.mu.Lock()
	run, ok := p.runs[executionID]
	p.mu.Unlock()
	if !ok {
		// Gone from the run table; spec.md §4.4 treats this as completed,
		// not failed (§8's 404-during-poll boundary test).
		return provider.WaitResult{Status: provider.StatusCompleted}, nil
	}

	remaining := time.Until(run.doneAt)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > timeout {
		remaining = timeout
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return provider.WaitResult{Status: provider.StatusTimeout}, nil
	case <-timer.C:
	}

	p.mu.Lock()
	cancelled := run.cancelled
	p.mu.Unlock()
	if cancelled {
		return provider.WaitResult{Status: provider.StatusFailed}, nil
	}

	if remaining >= timeout && time.Now().Before(run.doneAt) {
		return provider.WaitResult{Status: provider.StatusTimeout}, nil
	}

	var agentID uuid.UUID
	if run.task.AssignedAgentID != nil {
		agentID = *run.task.AssignedAgentID
	}
	result := &models.Result{
		TaskID:     run.task.ID,
		AgentID:    agentID,
		Status:     models.ResultStatusSuccess,
		Tokens:     models.TokenCounters{Input: 800, Output: 200},
		DurationMs: time.Since(run.startedAt).Milliseconds(),
		CostCents:  10,
	}

	p.mu.Lock()
	delete(p.runs, executionID)
	p.mu.Unlock()

	return provider.WaitResult{Status: provider.StatusCompleted, Result: result}, nil
}

func (p *Provider) CancelExecution(ctx context.Context, executionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[executionID]
	if !ok {
		return errkind.New(errkind.NotFoundAtProvider, "execution not found", nil)
	}
	run.cancelled = true
	delete(p.runs, executionID)
	return nil
}

func (p *Provider) GetActiveJobCount(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.runs), nil
}

func (p *Provider) GetActiveJobs(ctx context.Context) ([]provider.ActiveJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.ActiveJob, 0, len(p.runs))
	for id, run := range p.runs {
		out = append(out, provider.ActiveJob{ExecutionID: id, TaskID: run.task.ID, StartTime: run.startedAt})
	}
	return out, nil
}

// Package provider defines the execution-provider abstraction of
// spec.md §4.4: launch, monitor, and cancel worker processes via a
// backend-specific API. Concrete implementations live in provider/cloudmachines,
// provider/cloudjobs, and provider/simulate; selection between them happens
// once at process start from configuration (spec.md §9 "Dynamic provider
// selection" — modelled as a switch on the configured provider mode in
// cmd/orchestrator).
package provider

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
)

// Execution status enum (spec.md §4.4).
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// Resource tier enum and specs (spec.md §4.4).
const (
	TierLight    = "light"
	TierStandard = "standard"
	TierHeavy    = "heavy"
)

// TierSpec is the {CPU, memory} pair for a resource tier.
type TierSpec struct {
	CPU      int
	MemoryGB int
}

// TierSpecs maps each tier to its resource pair.
var TierSpecs = map[string]TierSpec{
	TierLight:    {CPU: 1, MemoryGB: 1},
	TierStandard: {CPU: 2, MemoryGB: 2},
	TierHeavy:    {CPU: 4, MemoryGB: 4},
}

// DefaultWaitTimeout is waitForCompletion's default timeout (spec.md §4.4).
const DefaultWaitTimeout = 30 * time.Minute

// ExecutionHandle is returned by ExecuteTask.
type ExecutionHandle struct {
	ExecutionID string
	AgentID     uuid.UUID
}

// ActiveJob is one entry from GetActiveJobs.
type ActiveJob struct {
	ExecutionID string
	TaskID      uuid.UUID
	StartTime   time.Time
}

// WaitResult is waitForCompletion's outcome.
type WaitResult struct {
	Status string // completed | failed | timeout
	Result *models.Result
}

// Provider is the execution-provider capability set every concrete backend
// implements (spec.md §4.4's operation table).
type Provider interface {
	ExecuteTask(ctx context.Context, task *models.Task) (ExecutionHandle, error)
	GetExecutionStatus(ctx context.Context, executionID string) (string, error)
	WaitForCompletion(ctx context.Context, executionID string, timeout time.Duration) (WaitResult, error)
	CancelExecution(ctx context.Context, executionID string) error
	GetActiveJobCount(ctx context.Context) (int, error)
	GetActiveJobs(ctx context.Context) ([]ActiveJob, error)
}

// ResourceTier maps a task to a resource tier by the rules of spec.md §4.4.
func ResourceTier(task *models.Task) string {
	if task.Type == models.TaskTypeSecurity {
		return TierHeavy
	}
	if task.Model == models.ModelOpus && task.Type == models.TaskTypeCode {
		return TierHeavy
	}
	if task.Type == models.TaskTypeDoc {
		return TierLight
	}
	if task.Type == models.TaskTypeReview && len(task.Context.Files) < 3 {
		return TierLight
	}
	return TierStandard
}

// AgentIDFromTask derives the spawn-time agent ID convention: the task ID's
// first 8 characters (spec.md §4.4/§6 — for traceability only, callers must
// not parse the result).
func AgentIDFromTask(taskID uuid.UUID) string {
	return taskID.String()[:8]
}

// WorkerEnv is the environment variable set the core injects when spawning a
// worker (spec.md §4.4/§6's provider environment contract).
type WorkerEnv struct {
	TaskID            string
	TaskJSON          string
	AgentID           string
	Model             string
	LLMProviderAPIKey string
	SourceControlToken string // optional, may be empty
	// QueueBindingVars are zeroed so the worker runs in stdout mode instead
	// of consuming from an external queue (spec.md §4.4).
	QueueBindingVars map[string]string
}

// BuildWorkerEnv assembles the env-var set for a spawn call.
func BuildWorkerEnv(task *models.Task, taskJSON, model, llmAPIKey, scToken string) WorkerEnv {
	return WorkerEnv{
		TaskID:             task.ID.String(),
		TaskJSON:           taskJSON,
		AgentID:            AgentIDFromTask(task.ID),
		Model:              model,
		LLMProviderAPIKey:  llmAPIKey,
		SourceControlToken: scToken,
		QueueBindingVars: map[string]string{
			"QUEUE_URL":    "",
			"QUEUE_TOPIC":  "",
			"QUEUE_REGION": "",
		},
	}
}

// ToEnviron flattens WorkerEnv into a process environment slice, the shape
// exec.Cmd.Env or a cloud API's env-var payload expects.
func (w WorkerEnv) ToEnviron() []string {
	out := []string{
		"TASK_ID=" + w.TaskID,
		"TASK_JSON=" + w.TaskJSON,
		"AGENT_ID=" + w.AgentID,
		"MODEL=" + w.Model,
		"LLM_API_KEY=" + w.LLMProviderAPIKey,
	}
	if w.SourceControlToken != "" {
		out = append(out, "SCM_TOKEN="+w.SourceControlToken)
	}
	for k, v := range w.QueueBindingVars {
		out = append(out, k+"="+v)
	}
	return out
}

// MockCompletionDelay returns the mock provider's pre-computed completion
// time for a task type (spec.md §4.4).
func MockCompletionDelay(taskType string) time.Duration {
	switch taskType {
	case models.TaskTypeDoc:
		return 2 * time.Second
	case models.TaskTypeTest:
		return 5 * time.Second
	case models.TaskTypeSecurity:
		return 8 * time.Second
	default:
		return 3 * time.Second
	}
}

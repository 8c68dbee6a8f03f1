// Package store abstracts the persistent and in-memory state-store
// implementations behind a single operation set (spec.md §4.1). Callers
// depend only on the Store interface here; concrete backends live in
// store/memory and store/pgstore.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
)

// TTLs applied by the durable backend (spec.md §4.1/§6). The memory backend
// enforces the same task, result and agent TTLs, each counted from the key's
// latest write (see DESIGN.md open-question resolution); it does not expire
// dependency edges.
const (
	TaskTTL     = 7 * 24 * time.Hour
	ResultTTL   = 7 * 24 * time.Hour
	AgentTTL    = 24 * time.Hour
	DepEdgeTTL  = 7 * 24 * time.Hour
)

// TaskFilter narrows List calls; zero values mean "no filter".
type TaskFilter struct {
	Status   string
	Type     string
	Priority string
	Offset   int
	Limit    int
	// NewestFirst honours insertion order when true (spec.md §4.1 guarantee).
	NewestFirst bool
}

// Store is the full operation set a scheduler, router, budget guard, and
// request boundary may use. All operations are asynchronous by virtue of
// taking a context; a durable backend may block on network I/O, an
// in-memory one returns promptly.
type Store interface {
	// Tasks
	SetTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)

	// Results
	SetResult(ctx context.Context, r *models.Result) error
	GetResult(ctx context.Context, taskID uuid.UUID) (*models.Result, error)

	// Agents
	SetAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) error
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	CountActiveAgents(ctx context.Context) (int, error)

	// Budget
	GetBudget(ctx context.Context) (*models.BudgetState, error)
	SetBudget(ctx context.Context, b *models.BudgetState) error
	// IncrementSpend atomically adds amountCents to daily and weekly
	// counters and returns the resulting state. This is the only path that
	// may mutate the counters (spec.md §5 shared-resource policy).
	IncrementSpend(ctx context.Context, amountCents int) (*models.BudgetState, error)
	ResetDaily(ctx context.Context) error
	ResetWeekly(ctx context.Context) error

	// Dependency edges
	AddDependencyEdge(ctx context.Context, taskID, dependsOnID uuid.UUID) error
	RemoveDependencyEdge(ctx context.Context, taskID, dependsOnID uuid.UUID) error
	GetDependencies(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error)
	GetDependents(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error)
	GetDependencyChain(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error)
	// AllDependenciesCompleted is the predicate the graph uses for readiness.
	AllDependenciesCompleted(ctx context.Context, taskID uuid.UUID) (bool, error)

	// GetAPIKeyByHash looks up an API key record by its SHA-256 hash for the
	// X-API-Key auth surface (spec.md §6). Returns (nil, nil) when absent.
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// Performance records, keyed by (agent, task type) — the scheduler's
	// PerformanceLookup and the completion handler's scoring update both
	// read/write through here (spec.md §4.3).
	GetPerformance(ctx context.Context, agentID uuid.UUID, taskType string) (*models.PerformanceRecord, error)
	SetPerformance(ctx context.Context, rec *models.PerformanceRecord) error

	// Ping is a liveness/health check.
	Ping(ctx context.Context) error
}

// ErrNotFound names the "absent" case for callers that want to distinguish
// it from a genuine I/O failure. Neither backend in this module returns it:
// Get operations return (nil, nil) per spec.md §4.1's "null result, not an
// error" guarantee, and deleting an absent key returns nil.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "store: not found" }

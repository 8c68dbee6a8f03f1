// Package scheduler composes the graph, store, router, and scoring
// subsystems into the scheduling decision procedure of spec.md §4.5.
// Grounded on the teacher's internal/services/dispatcher.go: its
// find-worker/dispatch/monitor-deadline/fallback shape becomes schedule,
// the assignment loop, the deadline monitor, and rebalancing respectively,
// generalised from a single webhook POST to the provider abstraction.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/inaiurai/orchestrator/internal/graph"
	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/router"
	"github.com/inaiurai/orchestrator/internal/store"
)

// DefaultMaxConcurrentPerAgent is the per-agent task cap used when the
// scheduler is not configured otherwise (spec.md §4.5 step 3).
const DefaultMaxConcurrentPerAgent = 1

// AgentCapacity is the scheduler's view of one agent's current load.
type AgentCapacity struct {
	AgentID   uuid.UUID
	Status    string
	HeldCount int
}

// Assignment is one scheduling decision: a task handed to an agent.
type Assignment struct {
	TaskID  uuid.UUID
	AgentID uuid.UUID
	Model   string
	Score   float64
	Reason  string
}

// Deferred is a ready task that could not be placed this round.
type Deferred struct {
	TaskID uuid.UUID
	Reason string
}

// Blocked is a pending task whose dependencies are not yet satisfied.
type Blocked struct {
	TaskID       uuid.UUID
	UnmetDeps    []uuid.UUID
}

// Decision is schedule's three-way output (spec.md §4.5).
type Decision struct {
	Assignments []Assignment
	Deferred    []Deferred
	Blocked     []Blocked
}

// PerformanceLookup resolves the performance record an idle agent has
// accumulated for a task type; nil means "no history yet".
type PerformanceLookup func(ctx context.Context, agentID uuid.UUID, taskType string) (*models.PerformanceRecord, error)

// Scheduler ties the graph, store, router decision procedure, and a
// performance lookup together.
type Scheduler struct {
	Store             store.Store
	Graph             *graph.Graph
	Performance       PerformanceLookup
	MaxConcurrent     int
	Logger            *slog.Logger

	rebalanceGroup singleflight.Group
}

// New constructs a Scheduler with the spec's default per-agent capacity.
func New(s store.Store, g *graph.Graph, perf PerformanceLookup, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		Store:         s,
		Graph:         g,
		Performance:   perf,
		MaxConcurrent: DefaultMaxConcurrentPerAgent,
		Logger:        logger,
	}
}

// RegisterTask stores t and wires its declared dependency edges into the
// graph (spec.md §4.5 registerTask).
func (s *Scheduler) RegisterTask(ctx context.Context, t *models.Task) error {
	if err := s.Store.SetTask(ctx, t); err != nil {
		return fmt.Errorf("store task: %w", err)
	}
	for _, dep := range t.Context.Dependencies {
		if err := s.Graph.AddDependency(ctx, t.ID, dep); err != nil {
			return fmt.Errorf("add dependency %s -> %s: %w", t.ID, dep, err)
		}
	}
	return nil
}

// Schedule implements spec.md §4.5's algorithm steps 1-6.
func (s *Scheduler) Schedule(ctx context.Context, available []AgentCapacity) (*Decision, error) {
	readyTasks, err := s.Graph.GetReadyTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("get ready tasks: %w", err)
	}

	ready := make([]*models.Task, 0, len(readyTasks))
	readySet := make(map[uuid.UUID]struct{}, len(readyTasks))
	for _, t := range readyTasks {
		if t.Status == models.TaskStatusPending {
			ready = append(ready, t)
			readySet[t.ID] = struct{}{}
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		pi, pj := priorityRank(ready[i].Priority), priorityRank(ready[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})

	capacity := make(map[uuid.UUID]int, len(available))
	pool := make([]uuid.UUID, 0, len(available))
	for _, a := range available {
		max := s.maxConcurrent()
		if a.Status != models.AgentStatusIdle && a.HeldCount >= max {
			continue
		}
		capacity[a.AgentID] = max - a.HeldCount
		pool = append(pool, a.AgentID)
	}

	decision := &Decision{}

	for _, task := range ready {
		idle := make([]router.IdleAgent, 0, len(pool))
		for _, agentID := range pool {
			if capacity[agentID] <= 0 {
				continue
			}
			rec, err := s.Performance(ctx, agentID, task.Type)
			if err != nil {
				return nil, fmt.Errorf("performance lookup %s: %w", agentID, err)
			}
			idle = append(idle, router.IdleAgent{AgentID: agentID, Record: rec})
		}

		d := router.Route(task, idle)
		if d.AgentID == nil {
			decision.Deferred = append(decision.Deferred, Deferred{TaskID: task.ID, Reason: "no suitable agent"})
			continue
		}

		decision.Assignments = append(decision.Assignments, Assignment{
			TaskID:  task.ID,
			AgentID: *d.AgentID,
			Model:   d.Model,
			Score:   d.Confidence,
			Reason:  d.Reason,
		})

		capacity[*d.AgentID]--
		if capacity[*d.AgentID] <= 0 {
			pool = removeID(pool, *d.AgentID)
		}
	}

	pendingAll, err := s.Store.ListTasks(ctx, store.TaskFilter{Status: models.TaskStatusPending})
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}
	for _, t := range pendingAll {
		if _, isReady := readySet[t.ID]; isReady {
			continue
		}
		deps, err := s.Store.GetDependencies(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("get dependencies %s: %w", t.ID, err)
		}
		unmet := make([]uuid.UUID, 0, len(deps))
		for _, dep := range deps {
			depTask, err := s.Store.GetTask(ctx, dep)
			if err != nil {
				return nil, fmt.Errorf("get dependency task %s: %w", dep, err)
			}
			if depTask == nil || depTask.Status != models.TaskStatusCompleted {
				unmet = append(unmet, dep)
			}
		}
		decision.Blocked = append(decision.Blocked, Blocked{TaskID: t.ID, UnmetDeps: unmet})
	}

	return decision, nil
}

// CompleteTask marks taskID completed, then re-evaluates every dependent
// task for newly-satisfied readiness (spec.md §4.5's completion handler).
func (s *Scheduler) CompleteTask(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	task, err := s.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("complete task: %s not found", taskID)
	}
	task.Status = models.TaskStatusCompleted
	if err := s.Store.SetTask(ctx, task); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	dependents, err := s.Store.GetDependents(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get dependents: %w", err)
	}

	newlyReady := make([]uuid.UUID, 0, len(dependents))
	for _, depID := range dependents {
		ok, err := s.Store.AllDependenciesCompleted(ctx, depID)
		if err != nil {
			return nil, fmt.Errorf("check readiness %s: %w", depID, err)
		}
		if ok {
			newlyReady = append(newlyReady, depID)
		}
	}
	return newlyReady, nil
}

// Reassignment is one successful re-route performed by Rebalance.
type Reassignment struct {
	TaskID  uuid.UUID
	AgentID uuid.UUID
}

// Rebalance reverts every task held by unavailableAgent to pending and
// re-routes it over the remaining agents (spec.md §4.5's rebalancing rule).
// Concurrent calls for the same agent are deduplicated with a singleflight
// group; the held tasks are reverted to pending concurrently via errgroup.
func (s *Scheduler) Rebalance(ctx context.Context, unavailableAgent uuid.UUID, remaining []AgentCapacity) ([]Reassignment, error) {
	v, err, _ := s.rebalanceGroup.Do(unavailableAgent.String(), func() (interface{}, error) {
		return s.rebalance(ctx, unavailableAgent, remaining)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Reassignment), nil
}

func (s *Scheduler) rebalance(ctx context.Context, unavailableAgent uuid.UUID, remaining []AgentCapacity) ([]Reassignment, error) {
	held, err := s.Store.ListTasks(ctx, store.TaskFilter{Status: models.TaskStatusAssigned})
	if err != nil {
		return nil, fmt.Errorf("list assigned tasks: %w", err)
	}

	var orphaned []*models.Task
	for _, t := range held {
		if t.AssignedAgentID != nil && *t.AssignedAgentID == unavailableAgent {
			orphaned = append(orphaned, t)
		}
	}
	if len(orphaned) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range orphaned {
		t := t
		g.Go(func() error {
			t.Status = models.TaskStatusPending
			t.AssignedAgentID = nil
			return s.Store.SetTask(gctx, t)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("revert orphaned tasks: %w", err)
	}

	decision, err := s.Schedule(ctx, remaining)
	if err != nil {
		return nil, fmt.Errorf("reschedule after rebalance: %w", err)
	}

	orphanSet := make(map[uuid.UUID]struct{}, len(orphaned))
	for _, t := range orphaned {
		orphanSet[t.ID] = struct{}{}
	}

	var reassigned []Reassignment
	for _, a := range decision.Assignments {
		if _, ok := orphanSet[a.TaskID]; ok {
			reassigned = append(reassigned, Reassignment{TaskID: a.TaskID, AgentID: a.AgentID})
		}
	}

	if s.Logger != nil {
		s.Logger.Warn("rebalanced tasks after agent became unavailable",
			"agent_id", unavailableAgent, "orphaned", len(orphaned), "reassigned", len(reassigned))
	}

	return reassigned, nil
}

func (s *Scheduler) maxConcurrent() int {
	if s.MaxConcurrent <= 0 {
		return DefaultMaxConcurrentPerAgent
	}
	return s.MaxConcurrent
}

func priorityRank(p string) int {
	switch p {
	case models.PriorityHigh:
		return 0
	case models.PriorityNormal:
		return 1
	case models.PriorityLow:
		return 2
	default:
		return 1
	}
}

func removeID(ids []uuid.UUID, target uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

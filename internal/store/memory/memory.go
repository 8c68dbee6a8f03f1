// Package memory implements store.Store entirely in process memory, one
// mutex per key space (tasks, results, agents, budget, dependency edges,
// API keys, performance records) per the single-owner-per-key-space guidance in
// spec.md §9. Suitable for the simulate/dev deployment profile.
package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/store"
)

type expiryItem struct {
	expiresAt time.Time
	keySpace  string
	key       string
}

type expiryHeap []expiryItem

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryItem)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Store is the in-memory backend. Each map is guarded by its own
// mutex so one key space's contention never blocks another.
type Store struct {
	tasksMu sync.RWMutex
	tasks   map[uuid.UUID]*models.Task
	taskOrder []uuid.UUID // insertion order, oldest first

	resultsMu sync.RWMutex
	results   map[uuid.UUID]*models.Result

	agentsMu sync.RWMutex
	agents   map[uuid.UUID]*models.Agent

	budgetMu sync.Mutex
	budget   *models.BudgetState

	depsMu   sync.RWMutex
	forward  map[uuid.UUID]map[uuid.UUID]bool // taskID -> set of dependsOn
	reverse  map[uuid.UUID]map[uuid.UUID]bool // taskID -> set of dependents

	apiKeysMu sync.RWMutex
	apiKeys   map[string]*models.APIKey // key hash -> record

	perfMu sync.RWMutex
	perf   map[string]*models.PerformanceRecord // "agentID:taskType" -> record

	expiryMu sync.Mutex
	expiry   expiryHeap
}

func perfKey(agentID uuid.UUID, taskType string) string {
	return agentID.String() + ":" + taskType
}

// New returns an empty in-memory store with a zero-valued budget state.
func New() *Store {
	return &Store{
		tasks:   make(map[uuid.UUID]*models.Task),
		results: make(map[uuid.UUID]*models.Result),
		agents:  make(map[uuid.UUID]*models.Agent),
		forward: make(map[uuid.UUID]map[uuid.UUID]bool),
		reverse: make(map[uuid.UUID]map[uuid.UUID]bool),
		apiKeys: make(map[string]*models.APIKey),
		perf:    make(map[string]*models.PerformanceRecord),
		budget:  &models.BudgetState{LastUpdated: time.Now()},
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) trackExpiry(keySpace, key string, ttl time.Duration) {
	s.expiryMu.Lock()
	defer s.expiryMu.Unlock()
	heap.Push(&s.expiry, expiryItem{expiresAt: time.Now().Add(ttl), keySpace: keySpace, key: key})
}

// Sweep evicts every key whose TTL has elapsed. Intended to be called
// periodically by a background goroutine owned by cmd/orchestrator.
func (s *Store) Sweep(now time.Time) {
	s.expiryMu.Lock()
	var due []expiryItem
	for s.expiry.Len() > 0 && s.expiry[0].expiresAt.Before(now) {
		item := heap.Pop(&s.expiry).(expiryItem)
		// A later write pushed a later expiry for the same key; that one wins.
		rewritten := false
		for _, later := range s.expiry {
			if later.keySpace == item.keySpace && later.key == item.key {
				rewritten = true
				break
			}
		}
		if !rewritten {
			due = append(due, item)
		}
	}
	s.expiryMu.Unlock()

	for _, item := range due {
		id, err := uuid.Parse(item.key)
		if err != nil {
			continue
		}
		switch item.keySpace {
		case "task":
			s.tasksMu.Lock()
			delete(s.tasks, id)
			s.tasksMu.Unlock()
		case "result":
			s.resultsMu.Lock()
			delete(s.results, id)
			s.resultsMu.Unlock()
		case "agent":
			s.agentsMu.Lock()
			delete(s.agents, id)
			s.agentsMu.Unlock()
		}
	}
}

func cloneTask(t *models.Task) *models.Task {
	cp := *t
	cp.Context.Files = append([]string(nil), t.Context.Files...)
	cp.Context.Dependencies = append([]uuid.UUID(nil), t.Context.Dependencies...)
	return &cp
}

func (s *Store) SetTask(_ context.Context, t *models.Task) error {
	s.tasksMu.Lock()
	if _, exists := s.tasks[t.ID]; !exists {
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	s.tasks[t.ID] = cloneTask(t)
	s.tasksMu.Unlock()
	s.trackExpiry("task", t.ID.String(), store.TaskTTL)
	return nil
}

func (s *Store) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (s *Store) DeleteTask(_ context.Context, id uuid.UUID) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return nil
	}
	delete(s.tasks, id)
	for i, tid := range s.taskOrder {
		if tid == id {
			s.taskOrder = append(s.taskOrder[:i], s.taskOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListTasks(_ context.Context, filter store.TaskFilter) ([]*models.Task, error) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()

	order := make([]uuid.UUID, len(s.taskOrder))
	copy(order, s.taskOrder)
	if filter.NewestFirst {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}

	var out []*models.Task
	for _, id := range order {
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			continue
		}
		out = append(out, cloneTask(t))
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) SetResult(_ context.Context, r *models.Result) error {
	s.resultsMu.Lock()
	cp := *r
	s.results[r.TaskID] = &cp
	s.resultsMu.Unlock()
	s.trackExpiry("result", r.TaskID.String(), store.ResultTTL)
	return nil
}

func (s *Store) GetResult(_ context.Context, taskID uuid.UUID) (*models.Result, error) {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()
	r, ok := s.results[taskID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *Store) SetAgent(_ context.Context, a *models.Agent) error {
	s.agentsMu.Lock()
	cp := *a
	s.agents[a.ID] = &cp
	s.agentsMu.Unlock()
	s.trackExpiry("agent", a.ID.String(), store.AgentTTL)
	return nil
}

func (s *Store) GetAgent(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *Store) DeleteAgent(_ context.Context, id uuid.UUID) error {
	s.agentsMu.Lock()
	defer s.agentsMu.Unlock()
	delete(s.agents, id)
	return nil
}

func (s *Store) ListAgents(_ context.Context) ([]*models.Agent, error) {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	out := make([]*models.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CountActiveAgents(_ context.Context) (int, error) {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	n := 0
	for _, a := range s.agents {
		if a.Status == models.AgentStatusRunning || a.Status == models.AgentStatusInitializing {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetBudget(_ context.Context) (*models.BudgetState, error) {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()
	cp := *s.budget
	return &cp, nil
}

func (s *Store) SetBudget(_ context.Context, b *models.BudgetState) error {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()
	cp := *b
	s.budget = &cp
	return nil
}

func (s *Store) IncrementSpend(_ context.Context, amountCents int) (*models.BudgetState, error) {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()
	s.budget.DailyUsed += amountCents
	s.budget.WeeklyUsed += amountCents
	s.budget.LastUpdated = time.Now()
	if s.budget.Config.DailyCapCents > 0 && s.budget.DailyUsed >= s.budget.Config.DailyCapCents {
		s.budget.IsPaused = true
	}
	cp := *s.budget
	return &cp, nil
}

func (s *Store) ResetDaily(_ context.Context) error {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()
	s.budget.DailyUsed = 0
	s.budget.IsPaused = false
	s.budget.LastUpdated = time.Now()
	return nil
}

func (s *Store) ResetWeekly(_ context.Context) error {
	s.budgetMu.Lock()
	defer s.budgetMu.Unlock()
	s.budget.WeeklyUsed = 0
	s.budget.LastUpdated = time.Now()
	return nil
}

func (s *Store) AddDependencyEdge(_ context.Context, taskID, dependsOnID uuid.UUID) error {
	s.depsMu.Lock()
	defer s.depsMu.Unlock()
	if s.forward[taskID] == nil {
		s.forward[taskID] = make(map[uuid.UUID]bool)
	}
	s.forward[taskID][dependsOnID] = true
	if s.reverse[dependsOnID] == nil {
		s.reverse[dependsOnID] = make(map[uuid.UUID]bool)
	}
	s.reverse[dependsOnID][taskID] = true
	return nil
}

func (s *Store) RemoveDependencyEdge(_ context.Context, taskID, dependsOnID uuid.UUID) error {
	s.depsMu.Lock()
	defer s.depsMu.Unlock()
	delete(s.forward[taskID], dependsOnID)
	delete(s.reverse[dependsOnID], taskID)
	return nil
}

func (s *Store) GetDependencies(_ context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	s.depsMu.RLock()
	defer s.depsMu.RUnlock()
	var out []uuid.UUID
	for dep := range s.forward[taskID] {
		out = append(out, dep)
	}
	return out, nil
}

func (s *Store) GetDependents(_ context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	s.depsMu.RLock()
	defer s.depsMu.RUnlock()
	var out []uuid.UUID
	for dep := range s.reverse[taskID] {
		out = append(out, dep)
	}
	return out, nil
}

func (s *Store) GetDependencyChain(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	s.depsMu.RLock()
	defer s.depsMu.RUnlock()

	seen := map[uuid.UUID]bool{taskID: true}
	var out []uuid.UUID
	stack := []uuid.UUID{taskID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for dep := range s.forward[cur] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			stack = append(stack, dep)
		}
	}
	return out, nil
}

func (s *Store) AllDependenciesCompleted(ctx context.Context, taskID uuid.UUID) (bool, error) {
	s.depsMu.RLock()
	deps := make([]uuid.UUID, 0, len(s.forward[taskID]))
	for dep := range s.forward[taskID] {
		deps = append(deps, dep)
	}
	s.depsMu.RUnlock()

	for _, dep := range deps {
		t, err := s.GetTask(ctx, dep)
		if err != nil {
			return false, err
		}
		if t == nil || t.Status != models.TaskStatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// SetAPIKey seeds or updates an API key record, keyed by its hash. There is
// no corresponding request-boundary operation: issuance is an external
// collaborator (spec.md §1), so this exists for deployment-time seeding and
// tests only.
func (s *Store) SetAPIKey(hash string, k *models.APIKey) {
	s.apiKeysMu.Lock()
	defer s.apiKeysMu.Unlock()
	s.apiKeys[hash] = k
}

func (s *Store) GetAPIKeyByHash(_ context.Context, hash string) (*models.APIKey, error) {
	s.apiKeysMu.RLock()
	defer s.apiKeysMu.RUnlock()
	return s.apiKeys[hash], nil
}

func (s *Store) GetPerformance(_ context.Context, agentID uuid.UUID, taskType string) (*models.PerformanceRecord, error) {
	s.perfMu.RLock()
	defer s.perfMu.RUnlock()
	return s.perf[perfKey(agentID, taskType)], nil
}

func (s *Store) SetPerformance(_ context.Context, rec *models.PerformanceRecord) error {
	s.perfMu.Lock()
	defer s.perfMu.Unlock()
	s.perf[perfKey(rec.AgentID, rec.TaskType)] = rec
	return nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

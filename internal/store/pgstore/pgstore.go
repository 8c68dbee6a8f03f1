// Package pgstore implements store.Store durably on PostgreSQL via
// jackc/pgx/v5, following the query style of the teacher's
// internal/repository/*_repo.go files: a thin struct wrapping a pgxpool.Pool,
// explicit SQL, no ORM. Tables stand in for the persisted-state key layout
// of spec.md §6 (task:<id>, result:<id>, agent:<id>, budget, dep:forward:<id>,
// dep:reverse:<id>) — each "key" is a primary-key row rather than a literal
// string, since a relational store is the teacher's idiom.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/store"
)

// Store is the pgx-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a pgstore.Store over an already-connected pool. Schema
// creation is the caller's responsibility (cmd/orchestrator runs migrations
// at startup, the same place the teacher runs River's).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

func (s *Store) SetTask(ctx context.Context, t *models.Task) error {
	ctxJSON, err := json.Marshal(t.Context)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO orc_tasks (id, type, priority, model, prompt, context, max_tokens, timeout_minutes, budget_cents, created_at, parent_task_id, assigned_agent_id, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type, priority = EXCLUDED.priority, model = EXCLUDED.model,
			prompt = EXCLUDED.prompt, context = EXCLUDED.context, max_tokens = EXCLUDED.max_tokens,
			timeout_minutes = EXCLUDED.timeout_minutes, budget_cents = EXCLUDED.budget_cents,
			parent_task_id = EXCLUDED.parent_task_id, assigned_agent_id = EXCLUDED.assigned_agent_id,
			status = EXCLUDED.status, expires_at = EXCLUDED.expires_at
	`, t.ID, t.Type, t.Priority, t.Model, t.Prompt, ctxJSON, t.MaxTokens, t.TimeoutMinutes, t.BudgetCents,
		t.CreatedAt, t.ParentTaskID, t.AssignedAgentID, t.Status, time.Now().Add(store.TaskTTL))
	return err
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var t models.Task
	var ctxJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, priority, model, prompt, context, max_tokens, timeout_minutes, budget_cents, created_at, parent_task_id, assigned_agent_id, status
		FROM orc_tasks WHERE id = $1 AND expires_at > now()
	`, id).Scan(&t.ID, &t.Type, &t.Priority, &t.Model, &t.Prompt, &ctxJSON, &t.MaxTokens, &t.TimeoutMinutes, &t.BudgetCents, &t.CreatedAt, &t.ParentTaskID, &t.AssignedAgentID, &t.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(ctxJSON, &t.Context); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM orc_tasks WHERE id = $1", id)
	return err
}

func (s *Store) ListTasks(ctx context.Context, filter store.TaskFilter) ([]*models.Task, error) {
	order := "ASC"
	if filter.NewestFirst {
		order = "DESC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, priority, model, prompt, context, max_tokens, timeout_minutes, budget_cents, created_at, parent_task_id, assigned_agent_id, status
		FROM orc_tasks
		WHERE expires_at > now()
		  AND ($1 = '' OR status = $1)
		  AND ($2 = '' OR type = $2)
		  AND ($3 = '' OR priority = $3)
		ORDER BY created_at `+order+`
		OFFSET $4 LIMIT $5
	`, filter.Status, filter.Type, filter.Priority, filter.Offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		var t models.Task
		var ctxJSON []byte
		if err := rows.Scan(&t.ID, &t.Type, &t.Priority, &t.Model, &t.Prompt, &ctxJSON, &t.MaxTokens, &t.TimeoutMinutes, &t.BudgetCents, &t.CreatedAt, &t.ParentTaskID, &t.AssignedAgentID, &t.Status); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(ctxJSON, &t.Context); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *Store) SetResult(ctx context.Context, r *models.Result) error {
	outputsJSON, err := json.Marshal(r.Outputs)
	if err != nil {
		return err
	}
	tokensJSON, err := json.Marshal(r.Tokens)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO orc_results (task_id, agent_id, status, outputs, summary, tokens, duration_ms, cost_cents, base_commit, result_commit, conflicts, error, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (task_id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id, status = EXCLUDED.status, outputs = EXCLUDED.outputs,
			summary = EXCLUDED.summary, tokens = EXCLUDED.tokens, duration_ms = EXCLUDED.duration_ms,
			cost_cents = EXCLUDED.cost_cents, base_commit = EXCLUDED.base_commit,
			result_commit = EXCLUDED.result_commit, conflicts = EXCLUDED.conflicts, error = EXCLUDED.error,
			expires_at = EXCLUDED.expires_at
	`, r.TaskID, r.AgentID, r.Status, outputsJSON, r.Summary, tokensJSON, r.DurationMs, r.CostCents,
		r.BaseCommit, r.ResultCommit, r.Conflicts, r.Error, time.Now().Add(store.ResultTTL))
	return err
}

func (s *Store) GetResult(ctx context.Context, taskID uuid.UUID) (*models.Result, error) {
	var r models.Result
	var outputsJSON, tokensJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT task_id, agent_id, status, outputs, summary, tokens, duration_ms, cost_cents, base_commit, result_commit, conflicts, error
		FROM orc_results WHERE task_id = $1 AND expires_at > now()
	`, taskID).Scan(&r.TaskID, &r.AgentID, &r.Status, &outputsJSON, &r.Summary, &tokensJSON, &r.DurationMs, &r.CostCents, &r.BaseCommit, &r.ResultCommit, &r.Conflicts, &r.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(outputsJSON, &r.Outputs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tokensJSON, &r.Tokens); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) SetAgent(ctx context.Context, a *models.Agent) error {
	tokensJSON, err := json.Marshal(a.Tokens)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO orc_agents (id, status, held_task_id, started_at, completed_at, working_branch, tokens, accumulated_cost_cents, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, held_task_id = EXCLUDED.held_task_id, started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at, working_branch = EXCLUDED.working_branch,
			tokens = EXCLUDED.tokens, accumulated_cost_cents = EXCLUDED.accumulated_cost_cents,
			expires_at = EXCLUDED.expires_at
	`, a.ID, a.Status, a.HeldTaskID, a.StartedAt, a.CompletedAt, a.WorkingBranch, tokensJSON, a.AccumulatedCost, time.Now().Add(store.AgentTTL))
	return err
}

func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	var a models.Agent
	var tokensJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, status, held_task_id, started_at, completed_at, working_branch, tokens, accumulated_cost_cents
		FROM orc_agents WHERE id = $1 AND expires_at > now()
	`, id).Scan(&a.ID, &a.Status, &a.HeldTaskID, &a.StartedAt, &a.CompletedAt, &a.WorkingBranch, &tokensJSON, &a.AccumulatedCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tokensJSON, &a.Tokens); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM orc_agents WHERE id = $1", id)
	return err
}

func (s *Store) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, held_task_id, started_at, completed_at, working_branch, tokens, accumulated_cost_cents
		FROM orc_agents WHERE expires_at > now()
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Agent
	for rows.Next() {
		var a models.Agent
		var tokensJSON []byte
		if err := rows.Scan(&a.ID, &a.Status, &a.HeldTaskID, &a.StartedAt, &a.CompletedAt, &a.WorkingBranch, &tokensJSON, &a.AccumulatedCost); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(tokensJSON, &a.Tokens); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) CountActiveAgents(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM orc_agents
		WHERE expires_at > now() AND status IN ($1, $2)
	`, models.AgentStatusRunning, models.AgentStatusInitializing).Scan(&n)
	return n, err
}

func (s *Store) GetBudget(ctx context.Context) (*models.BudgetState, error) {
	var b models.BudgetState
	err := s.pool.QueryRow(ctx, `
		SELECT per_task_cap_cents, daily_cap_cents, weekly_cap_cents, alert_threshold_percent, pause_threshold_percent,
		       daily_used_cents, weekly_used_cents, is_paused, last_updated
		FROM orc_budget WHERE id = 1
	`).Scan(&b.Config.PerTaskCapCents, &b.Config.DailyCapCents, &b.Config.WeeklyCapCents,
		&b.Config.AlertThresholdPercent, &b.Config.PauseThresholdPercent,
		&b.DailyUsed, &b.WeeklyUsed, &b.IsPaused, &b.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return &models.BudgetState{LastUpdated: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) SetBudget(ctx context.Context, b *models.BudgetState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orc_budget (id, per_task_cap_cents, daily_cap_cents, weekly_cap_cents, alert_threshold_percent, pause_threshold_percent, daily_used_cents, weekly_used_cents, is_paused, last_updated)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			per_task_cap_cents = EXCLUDED.per_task_cap_cents, daily_cap_cents = EXCLUDED.daily_cap_cents,
			weekly_cap_cents = EXCLUDED.weekly_cap_cents, alert_threshold_percent = EXCLUDED.alert_threshold_percent,
			pause_threshold_percent = EXCLUDED.pause_threshold_percent, daily_used_cents = EXCLUDED.daily_used_cents,
			weekly_used_cents = EXCLUDED.weekly_used_cents, is_paused = EXCLUDED.is_paused, last_updated = EXCLUDED.last_updated
	`, b.Config.PerTaskCapCents, b.Config.DailyCapCents, b.Config.WeeklyCapCents, b.Config.AlertThresholdPercent,
		b.Config.PauseThresholdPercent, b.DailyUsed, b.WeeklyUsed, b.IsPaused, b.LastUpdated)
	return err
}

// IncrementSpend locks the single budget row (SELECT ... FOR UPDATE) the same
// way the teacher's escrow service locks an account row, then atomically
// bumps both counters within the same transaction.
func (s *Store) IncrementSpend(ctx context.Context, amountCents int) (*models.BudgetState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var b models.BudgetState
	err = tx.QueryRow(ctx, `
		SELECT per_task_cap_cents, daily_cap_cents, weekly_cap_cents, alert_threshold_percent, pause_threshold_percent,
		       daily_used_cents, weekly_used_cents, is_paused
		FROM orc_budget WHERE id = 1 FOR UPDATE
	`).Scan(&b.Config.PerTaskCapCents, &b.Config.DailyCapCents, &b.Config.WeeklyCapCents,
		&b.Config.AlertThresholdPercent, &b.Config.PauseThresholdPercent,
		&b.DailyUsed, &b.WeeklyUsed, &b.IsPaused)
	if errors.Is(err, pgx.ErrNoRows) {
		b = models.BudgetState{}
	} else if err != nil {
		return nil, err
	}

	b.DailyUsed += amountCents
	b.WeeklyUsed += amountCents
	b.LastUpdated = time.Now()
	if b.Config.DailyCapCents > 0 && b.DailyUsed >= b.Config.DailyCapCents {
		b.IsPaused = true
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orc_budget (id, per_task_cap_cents, daily_cap_cents, weekly_cap_cents, alert_threshold_percent, pause_threshold_percent, daily_used_cents, weekly_used_cents, is_paused, last_updated)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET daily_used_cents = EXCLUDED.daily_used_cents, weekly_used_cents = EXCLUDED.weekly_used_cents,
			is_paused = EXCLUDED.is_paused, last_updated = EXCLUDED.last_updated
	`, b.Config.PerTaskCapCents, b.Config.DailyCapCents, b.Config.WeeklyCapCents, b.Config.AlertThresholdPercent,
		b.Config.PauseThresholdPercent, b.DailyUsed, b.WeeklyUsed, b.IsPaused, b.LastUpdated)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO orc_spend_ledger (entry_type, amount_cents, daily_after_cents, weekly_after_cents, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, models.SpendEntryTaskCost, amountCents, b.DailyUsed, b.WeeklyUsed, b.LastUpdated); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ResetDaily(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE orc_budget SET daily_used_cents = 0, is_paused = false, last_updated = now() WHERE id = 1`)
	return err
}

func (s *Store) ResetWeekly(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE orc_budget SET weekly_used_cents = 0, last_updated = now() WHERE id = 1`)
	return err
}

func (s *Store) AddDependencyEdge(ctx context.Context, taskID, dependsOnID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orc_dependency_edges (task_id, depends_on_id, expires_at)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING
	`, taskID, dependsOnID, time.Now().Add(store.DepEdgeTTL))
	return err
}

func (s *Store) RemoveDependencyEdge(ctx context.Context, taskID, dependsOnID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM orc_dependency_edges WHERE task_id = $1 AND depends_on_id = $2`, taskID, dependsOnID)
	return err
}

func (s *Store) GetDependencies(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, `SELECT depends_on_id FROM orc_dependency_edges WHERE task_id = $1 AND expires_at > now()`, taskID)
}

func (s *Store) GetDependents(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	return s.queryIDs(ctx, `SELECT task_id FROM orc_dependency_edges WHERE depends_on_id = $1 AND expires_at > now()`, taskID)
}

func (s *Store) queryIDs(ctx context.Context, sql string, arg uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetDependencyChain performs an iterative (non-recursive) traversal of the
// forward edges using an explicit stack, per the graph-traversal-depth design
// note (spec.md §9), rather than a recursive CTE or client-side recursion.
func (s *Store) GetDependencyChain(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]bool{taskID: true}
	var out []uuid.UUID
	stack := []uuid.UUID{taskID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		deps, err := s.GetDependencies(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, dep := range deps {
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
	deps, err := s.GetDependencies(ctx, taskID)
	if err != nil {
		return false, err
	}
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

// GetAPIKeyByHash looks up an active or inactive orc_api_keys row by its
// hash. Issuance (INSERT) is out of scope for the core (spec.md §1); rows
// are seeded by an external collaborator.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	var k models.APIKey
	err := s.pool.QueryRow(ctx, `
		SELECT id, key_prefix, scopes, is_active, created_at
		FROM orc_api_keys WHERE key_hash = $1
	`, hash).Scan(&k.ID, &k.KeyPrefix, &k.Scopes, &k.IsActive, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	k.KeyHash = hash
	return &k, nil
}

// GetPerformance looks up the (agent, task type) performance row.
func (s *Store) GetPerformance(ctx context.Context, agentID uuid.UUID, taskType string) (*models.PerformanceRecord, error) {
	var rec models.PerformanceRecord
	err := s.pool.QueryRow(ctx, `
		SELECT agent_id, task_type, success_rate, avg_duration_ms, avg_cost_cents, completed_count, last_updated
		FROM orc_performance WHERE agent_id = $1 AND task_type = $2
	`, agentID, taskType).Scan(&rec.AgentID, &rec.TaskType, &rec.SuccessRate, &rec.AvgDurationMs, &rec.AvgCostCents, &rec.CompletedCount, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetPerformance upserts a performance row after a scoring update.
func (s *Store) SetPerformance(ctx context.Context, rec *models.PerformanceRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orc_performance (agent_id, task_type, success_rate, avg_duration_ms, avg_cost_cents, completed_count, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (agent_id, task_type) DO UPDATE SET
			success_rate = EXCLUDED.success_rate, avg_duration_ms = EXCLUDED.avg_duration_ms,
			avg_cost_cents = EXCLUDED.avg_cost_cents, completed_count = EXCLUDED.completed_count,
			last_updated = EXCLUDED.last_updated
	`, rec.AgentID, rec.TaskType, rec.SuccessRate, rec.AvgDurationMs, rec.AvgCostCents, rec.CompletedCount, rec.LastUpdated)
	return err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SweepExpired deletes every row past its expires_at across the four
// TTL-bearing tables, the durable-backend analogue of the memory store's
// in-process Sweep (spec.md §9's retention/TTL guarantee; jobqueue.TTLSweepWorker
// calls this from a periodic River job rather than an in-process ticker).
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for _, table := range []string{"orc_tasks", "orc_results", "orc_agents", "orc_dependency_edges"} {
		tag, err := s.pool.Exec(ctx, "DELETE FROM "+table+" WHERE expires_at <= $1", now)
		if err != nil {
			return total, err
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}

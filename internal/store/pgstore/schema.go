package pgstore

import "context"

// schemaDDL creates the pgstore tables if absent. Run once at startup by
// cmd/orchestrator/main.go, the same place the teacher applies its schema.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS orc_tasks (
	id uuid PRIMARY KEY,
	type text NOT NULL,
	priority text NOT NULL,
	model text NOT NULL DEFAULT '',
	prompt text NOT NULL,
	context jsonb NOT NULL,
	max_tokens int,
	timeout_minutes int NOT NULL,
	budget_cents int NOT NULL,
	created_at timestamptz NOT NULL,
	parent_task_id uuid,
	assigned_agent_id uuid,
	status text NOT NULL,
	expires_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS orc_tasks_status_idx ON orc_tasks (status);
CREATE INDEX IF NOT EXISTS orc_tasks_created_at_idx ON orc_tasks (created_at);

CREATE TABLE IF NOT EXISTS orc_results (
	task_id uuid PRIMARY KEY,
	agent_id uuid NOT NULL,
	status text NOT NULL,
	outputs jsonb,
	summary text,
	tokens jsonb NOT NULL,
	duration_ms bigint NOT NULL,
	cost_cents int NOT NULL,
	base_commit text,
	result_commit text,
	conflicts text[],
	error text,
	expires_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS orc_agents (
	id uuid PRIMARY KEY,
	status text NOT NULL,
	held_task_id uuid,
	started_at timestamptz,
	completed_at timestamptz,
	working_branch text NOT NULL DEFAULT '',
	tokens jsonb NOT NULL,
	accumulated_cost_cents int NOT NULL DEFAULT 0,
	expires_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS orc_agents_status_idx ON orc_agents (status);

CREATE TABLE IF NOT EXISTS orc_budget (
	id int PRIMARY KEY DEFAULT 1,
	per_task_cap_cents int NOT NULL DEFAULT 0,
	daily_cap_cents int NOT NULL DEFAULT 0,
	weekly_cap_cents int NOT NULL DEFAULT 0,
	alert_threshold_percent double precision NOT NULL DEFAULT 0,
	pause_threshold_percent double precision NOT NULL DEFAULT 0,
	daily_used_cents int NOT NULL DEFAULT 0,
	weekly_used_cents int NOT NULL DEFAULT 0,
	is_paused boolean NOT NULL DEFAULT false,
	last_updated timestamptz NOT NULL DEFAULT now(),
	CHECK (id = 1)
);

CREATE TABLE IF NOT EXISTS orc_spend_ledger (
	id bigserial PRIMARY KEY,
	entry_type text NOT NULL,
	amount_cents int NOT NULL,
	daily_after_cents int NOT NULL,
	weekly_after_cents int NOT NULL,
	created_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS orc_dependency_edges (
	task_id uuid NOT NULL,
	depends_on_id uuid NOT NULL,
	expires_at timestamptz NOT NULL,
	PRIMARY KEY (task_id, depends_on_id)
);
CREATE INDEX IF NOT EXISTS orc_dependency_edges_reverse_idx ON orc_dependency_edges (depends_on_id);

CREATE TABLE IF NOT EXISTS orc_api_keys (
	id uuid PRIMARY KEY,
	key_hash text UNIQUE NOT NULL,
	key_prefix text NOT NULL,
	scopes text[],
	is_active boolean NOT NULL DEFAULT true,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orc_performance (
	agent_id uuid NOT NULL,
	task_type text NOT NULL,
	success_rate double precision NOT NULL,
	avg_duration_ms double precision NOT NULL,
	avg_cost_cents double precision NOT NULL,
	completed_count int NOT NULL DEFAULT 0,
	last_updated timestamptz NOT NULL,
	PRIMARY KEY (agent_id, task_type)
);

CREATE TABLE IF NOT EXISTS orc_file_locks (
	path text PRIMARY KEY,
	holding_agent_id uuid NOT NULL,
	task_id uuid NOT NULL,
	branch text NOT NULL,
	locked_at timestamptz NOT NULL
);
`

// Migrate applies schemaDDL. Idempotent: safe to call on every startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	return err
}

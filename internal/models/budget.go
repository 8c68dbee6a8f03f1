package models

import "time"

// BudgetConfig is the operator-set spend policy. A single process-wide
// instance; defaults match the scenario in spec.md §8.3.
type BudgetConfig struct {
	PerTaskCapCents       int     `json:"per_task_cap_cents"`
	DailyCapCents         int     `json:"daily_cap_cents"`
	WeeklyCapCents        int     `json:"weekly_cap_cents"`
	AlertThresholdPercent float64 `json:"alert_threshold_percent"`
	PauseThresholdPercent float64 `json:"pause_threshold_percent"`
}

// BudgetState is the single process-wide budget instance: config plus
// mutable counters.
type BudgetState struct {
	Config      BudgetConfig `json:"config"`
	DailyUsed   int          `json:"daily_used_cents"`
	WeeklyUsed  int          `json:"weekly_used_cents"`
	IsPaused    bool         `json:"is_paused"`
	LastUpdated time.Time    `json:"last_updated"`
}

// Spend ledger entry kinds, used for the budget guard's audit trail — the
// same double-entry-bookkeeping idiom the teacher applies to credits, here
// recording a running log of what debited the daily/weekly counters.
const (
	SpendEntryTaskCost   = "task_cost"
	SpendEntryResetDaily = "reset_daily"
	SpendEntryResetWeekly = "reset_weekly"
)

// SpendLedgerEntry records one mutation of the budget counters.
type SpendLedgerEntry struct {
	ID         int64     `json:"id"`
	EntryType  string    `json:"entry_type"`
	AmountCents int      `json:"amount_cents"`
	DailyAfter  int      `json:"daily_after_cents"`
	WeeklyAfter int      `json:"weekly_after_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

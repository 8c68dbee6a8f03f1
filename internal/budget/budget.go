// Package budget implements the budget guard of spec.md §4.8: daily/weekly
// spend counters debited atomically through the store, a pause flag once the
// daily cap is reached, and an alert emitted once usage crosses a threshold.
// Grounded on the teacher's internal/services/escrow.go double-entry
// bookkeeping: where escrow locks an account row with GetByIDForUpdate
// inside a pgx transaction and appends a credit_ledger row, the guard's
// postgres-backed store does the equivalent row-locked increment
// (store.Store.IncrementSpend) and appends a spend-ledger entry, both inside
// one transaction (see internal/store/pgstore.IncrementSpend).
package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/store"
)

// ErrBudgetPaused is returned by the submission entry point while the guard
// is paused (spec.md §4.8's "budget paused" error).
var ErrBudgetPaused = errors.New("budget paused")

// AlertFunc emits a budget-warning notification; wired to the notification
// bus's Publish method by the caller that constructs the Guard, keeping this
// package free of a direct dependency on internal/notify (spec.md's
// event-hub-back-references design note: pass the bus in, don't import it).
type AlertFunc func(ctx context.Context, state *models.BudgetState)

// Guard enforces the per-task cap at submission time and the daily/weekly
// caps after each completed result.
type Guard struct {
	Store store.Store
	Alert AlertFunc
}

// New constructs a Guard. alert may be nil if no notification bus is wired.
func New(s store.Store, alert AlertFunc) *Guard {
	return &Guard{Store: s, Alert: alert}
}

// CheckSubmission enforces the per-task cap and the pause flag before a new
// task is admitted.
func (g *Guard) CheckSubmission(ctx context.Context, taskBudgetCents int) error {
	state, err := g.Store.GetBudget(ctx)
	if err != nil {
		return fmt.Errorf("get budget: %w", err)
	}
	if state == nil {
		return nil
	}
	if state.IsPaused {
		return ErrBudgetPaused
	}
	if state.Config.PerTaskCapCents > 0 && taskBudgetCents > state.Config.PerTaskCapCents {
		return fmt.Errorf("task budget %d cents exceeds per-task cap %d cents", taskBudgetCents, state.Config.PerTaskCapCents)
	}
	return nil
}

// RecordSpend debits the daily/weekly counters by costCents, pausing new
// work once the daily cap is reached and firing Alert once usage crosses the
// alert threshold (spec.md §4.8).
func (g *Guard) RecordSpend(ctx context.Context, costCents int) (*models.BudgetState, error) {
	state, err := g.Store.IncrementSpend(ctx, costCents)
	if err != nil {
		return nil, fmt.Errorf("increment spend: %w", err)
	}

	changed := false
	if state.Config.DailyCapCents > 0 && state.DailyUsed >= state.Config.DailyCapCents && !state.IsPaused {
		state.IsPaused = true
		changed = true
	}

	alerted := g.crossedAlertThreshold(state)
	if changed {
		if err := g.Store.SetBudget(ctx, state); err != nil {
			return nil, fmt.Errorf("set paused budget: %w", err)
		}
	}
	if alerted && g.Alert != nil {
		g.Alert(ctx, state)
	}

	return state, nil
}

// crossedAlertThreshold reports whether either counter is at or past its
// alert threshold percentage of its cap.
func (g *Guard) crossedAlertThreshold(state *models.BudgetState) bool {
	pct := state.Config.AlertThresholdPercent
	if pct <= 0 {
		return false
	}
	if state.Config.DailyCapCents > 0 && float64(state.DailyUsed) >= pct*float64(state.Config.DailyCapCents) {
		return true
	}
	if state.Config.WeeklyCapCents > 0 && float64(state.WeeklyUsed) >= pct*float64(state.Config.WeeklyCapCents) {
		return true
	}
	return false
}

// ResetDaily resets the daily counter; intended to be invoked by an external
// timer (e.g. local midnight), per spec.md §4.8 — the guard itself holds no
// wall-clock opinion.
func (g *Guard) ResetDaily(ctx context.Context) error {
	if err := g.Store.ResetDaily(ctx); err != nil {
		return fmt.Errorf("reset daily: %w", err)
	}
	return g.unpauseIfBelowCap(ctx)
}

// ResetWeekly resets the weekly counter; invoked by an external timer
// (e.g. Sunday midnight).
func (g *Guard) ResetWeekly(ctx context.Context) error {
	return g.Store.ResetWeekly(ctx)
}

// unpauseIfBelowCap clears the pause flag once a reset brings daily usage
// back under the cap.
func (g *Guard) unpauseIfBelowCap(ctx context.Context) error {
	state, err := g.Store.GetBudget(ctx)
	if err != nil {
		return fmt.Errorf("get budget: %w", err)
	}
	if state == nil || !state.IsPaused {
		return nil
	}
	if state.Config.DailyCapCents <= 0 || state.DailyUsed < state.Config.DailyCapCents {
		state.IsPaused = false
		return g.Store.SetBudget(ctx, state)
	}
	return nil
}

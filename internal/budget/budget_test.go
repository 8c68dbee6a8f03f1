package budget

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/store/memory"
)

func newGuard(t *testing.T, cfg models.BudgetConfig) (*Guard, *[]*models.BudgetState) {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.SetBudget(context.Background(), &models.BudgetState{Config: cfg}))

	var alerts []*models.BudgetState
	g := New(s, func(ctx context.Context, state *models.BudgetState) {
		alerts = append(alerts, state)
	})
	return g, &alerts
}

func TestCheckSubmission_RejectsOverPerTaskCap(t *testing.T) {
	g, _ := newGuard(t, models.BudgetConfig{PerTaskCapCents: 500})
	require.NoError(t, g.CheckSubmission(context.Background(), 400))
	require.Error(t, g.CheckSubmission(context.Background(), 600))
}

func TestRecordSpend_PausesAtDailyCap(t *testing.T) {
	g, _ := newGuard(t, models.BudgetConfig{DailyCapCents: 1000})

	state, err := g.RecordSpend(context.Background(), 400)
	require.NoError(t, err)
	require.False(t, state.IsPaused)

	state, err = g.RecordSpend(context.Background(), 700)
	require.NoError(t, err)
	require.True(t, state.IsPaused)

	require.ErrorIs(t, g.CheckSubmission(context.Background(), 1), ErrBudgetPaused)
}

func TestRecordSpend_FiresAlertPastThreshold(t *testing.T) {
	g, alerts := newGuard(t, models.BudgetConfig{DailyCapCents: 1000, AlertThresholdPercent: 0.8})

	_, err := g.RecordSpend(context.Background(), 500)
	require.NoError(t, err)
	require.Empty(t, *alerts)

	_, err = g.RecordSpend(context.Background(), 400)
	require.NoError(t, err)
	require.Len(t, *alerts, 1)
}

func TestResetDaily_ClearsPauseOnceBelowCap(t *testing.T) {
	g, _ := newGuard(t, models.BudgetConfig{DailyCapCents: 1000})

	_, err := g.RecordSpend(context.Background(), 1200)
	require.NoError(t, err)

	require.NoError(t, g.ResetDaily(context.Background()))
	require.NoError(t, g.CheckSubmission(context.Background(), 100))
}

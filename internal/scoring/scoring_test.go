package scoring

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/models"
)

func TestUpdateOnResult_SuccessRateMatchesEWMAFormula(t *testing.T) {
	now := time.Now()
	rec := models.NewPerformanceRecord(uuid.New(), models.TaskTypeCode, now)
	prevSuccess := rec.SuccessRate

	UpdateOnResult(rec, true, 60000, 50, models.DefaultSmoothingAlpha, now.Add(time.Minute))

	want := models.DefaultSmoothingAlpha*1 + (1-models.DefaultSmoothingAlpha)*prevSuccess
	require.InDelta(t, want, rec.SuccessRate, 1e-9)
	require.Equal(t, 1, rec.CompletedCount)
}

func TestCompositeScore_ExperiencedHighSuccessBeatsDefaultRecord(t *testing.T) {
	now := time.Now()
	a1 := &models.PerformanceRecord{
		SuccessRate: 0.9, AvgDurationMs: 60000, AvgCostCents: 50, CompletedCount: 30, LastUpdated: now,
	}
	a2 := models.NewPerformanceRecord(uuid.New(), models.TaskTypeCode, now)

	s1 := CompositeScore(a1)
	s2 := CompositeScore(a2)

	require.Greater(t, s1, s2)
	require.GreaterOrEqual(t, s1, 0.8)
}

func TestDecay_OnlyAppliesPastThreshold(t *testing.T) {
	now := time.Now()
	rec := &models.PerformanceRecord{SuccessRate: 0.9, LastUpdated: now}

	Decay(rec, now.Add(time.Hour))
	require.Equal(t, 0.9, rec.SuccessRate, "decay should not apply before the 24h threshold")

	Decay(rec, now.Add(25*time.Hour))
	require.InDelta(t, 0.9+(0.5-0.9)*models.DecayFactor, rec.SuccessRate, 1e-9)
}

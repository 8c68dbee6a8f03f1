// Package scoring implements the EWMA agent-performance tracking and
// composite scoring formula of spec.md §4.3. Pure arithmetic, grounded on
// the teacher's internal/services/matching.go weighted-score shape — the one
// subsystem the teacher itself implements with stdlib math rather than a
// third-party dependency, so no library is dropped by following it here.
package scoring

import (
	"math"
	"time"

	"github.com/inaiurai/orchestrator/internal/models"
)

// Weights for the composite score (spec.md §4.3).
const (
	WeightSuccess = 0.5
	WeightSpeed   = 0.25
	WeightCost    = 0.25

	speedFloorMs = 10_000
	speedCeilMs  = 3_600_000
	costFloor    = 1
	costCeil     = 1000

	experienceBonusCap   = 0.2
	experienceBonusDivisor = 500.0
)

// clamp restricts x to [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// UpdateOnResult applies the EWMA update for a completed result: success rate,
// average duration, and average cost each drift toward the new observation by
// alpha; completion count increments; last-updated is recorded.
func UpdateOnResult(rec *models.PerformanceRecord, success bool, durationMs float64, costCents float64, alpha float64, now time.Time) {
	if alpha <= 0 || alpha >= 1 {
		alpha = models.DefaultSmoothingAlpha
	}
	x := 0.0
	if success {
		x = 1.0
	}
	rec.SuccessRate = alpha*x + (1-alpha)*rec.SuccessRate
	rec.AvgDurationMs = alpha*durationMs + (1-alpha)*rec.AvgDurationMs
	rec.AvgCostCents = alpha*costCents + (1-alpha)*rec.AvgCostCents
	rec.CompletedCount++
	rec.LastUpdated = now
}

// Decay drifts a stale record's success rate 5% toward the neutral 0.5 value
// if it has not been updated within the threshold window.
func Decay(rec *models.PerformanceRecord, now time.Time) {
	if now.Sub(rec.LastUpdated) < models.DecayThreshold {
		return
	}
	rec.SuccessRate += (0.5 - rec.SuccessRate) * models.DecayFactor
	rec.LastUpdated = now
}

// CompositeScore computes the composite score for a performance record
// (one agent on one task type), per spec.md §4.3's formula, then applies the experience bonus.
func CompositeScore(rec *models.PerformanceRecord) float64 {
	speedNorm := 1 - clamp((rec.AvgDurationMs-speedFloorMs)/(speedCeilMs-speedFloorMs), 0, 1)
	costNorm := 1 - clamp((rec.AvgCostCents-costFloor)/(costCeil-costFloor), 0, 1)
	base := WeightSuccess*rec.SuccessRate + WeightSpeed*speedNorm + WeightCost*costNorm
	bonus := 1 + math.Min(experienceBonusCap, float64(rec.CompletedCount)/experienceBonusDivisor)
	return base * bonus
}

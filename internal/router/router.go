// Package router implements the agent-routing decision procedure of
// spec.md §4.3: given a task and the current set of idle agents, choose an
// agent (or recommend spawning a fresh one) and a model. Grounded on the
// teacher's internal/services/matching.go scoreAndSort/routing-preference
// shape, generalised from capability pricing to the scoring package's
// composite score. The teacher used this package name for HTTP
// sub-multiplexing; that role now lives in internal/api, freeing the name
// for the component spec.md itself calls the "router".
package router

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/scoring"
)

// IdleAgent pairs an idle agent with its performance record for the task's type.
type IdleAgent struct {
	AgentID uuid.UUID
	Record  *models.PerformanceRecord // nil means a fresh (default) record
}

// Decision is the router's output: an agent choice (nil means "spawn new"),
// a model choice, a confidence in [0,1], and a human-readable reason.
type Decision struct {
	AgentID    *uuid.UUID
	Model      string
	Confidence float64
	Reason     string
}

const (
	highBudgetCentsThreshold = 500
	lowSuccessRateThreshold  = 0.6
	minCompletionsForLowRate = 5
)

// Route implements the decision procedure of spec.md §4.3 steps 1-4.
func Route(task *models.Task, idle []IdleAgent) Decision {
	if len(idle) == 0 {
		return Decision{
			AgentID:    nil,
			Model:      selectModel(task, nil),
			Confidence: 0.5,
			Reason:     "no idle agents available, spawn new",
		}
	}

	best, bestScore := pickBest(idle)
	bestRec := recordOrDefault(best.Record)
	model := selectModel(task, bestRec)
	confidence := computeConfidence(bestScore, bestRec)
	reason := buildReason(bestRec)

	agentID := best.AgentID
	return Decision{
		AgentID:    &agentID,
		Model:      model,
		Confidence: confidence,
		Reason:     reason,
	}
}

// pickBest scores every idle agent and returns the winner, applying the
// tie-break rule: higher completion count, then earliest last-updated.
func pickBest(idle []IdleAgent) (IdleAgent, float64) {
	best := idle[0]
	bestScore := scoring.CompositeScore(recordOrDefault(best.Record))

	for _, cand := range idle[1:] {
		rec := recordOrDefault(cand.Record)
		score := scoring.CompositeScore(rec)
		curBest := recordOrDefault(best.Record)

		switch {
		case score > bestScore:
			best, bestScore = cand, score
		case score == bestScore:
			if rec.CompletedCount > curBest.CompletedCount {
				best, bestScore = cand, score
			} else if rec.CompletedCount == curBest.CompletedCount && rec.LastUpdated.Before(curBest.LastUpdated) {
				best, bestScore = cand, score
			}
		}
	}
	return best, bestScore
}

func recordOrDefault(rec *models.PerformanceRecord) *models.PerformanceRecord {
	if rec != nil {
		return rec
	}
	return models.NewPerformanceRecord(uuid.Nil, "", time.Now())
}

// selectModel implements spec.md §4.3 step 3.
func selectModel(task *models.Task, rec *models.PerformanceRecord) string {
	if task.Model != "" {
		return task.Model
	}
	if task.Type == models.TaskTypeSecurity || task.Type == models.TaskTypeReview {
		return models.ModelOpus
	}
	if task.BudgetCents >= highBudgetCentsThreshold {
		return models.ModelOpus
	}
	if rec != nil && rec.SuccessRate < lowSuccessRateThreshold && rec.CompletedCount >= minCompletionsForLowRate {
		return models.ModelOpus
	}
	return models.ModelSonnet
}

// computeConfidence implements spec.md §4.3 step 4.
func computeConfidence(score float64, rec *models.PerformanceRecord) float64 {
	confidence := math.Min(1, score)
	switch {
	case rec.CompletedCount < 5:
		confidence *= 0.6
	case rec.CompletedCount < 20:
		confidence *= 0.8
	}
	if rec.SuccessRate > 0.3 && rec.SuccessRate < 0.7 {
		confidence *= 0.8
	}
	return math.Round(confidence*100) / 100
}

func buildReason(rec *models.PerformanceRecord) string {
	if rec.CompletedCount == 0 {
		return "no history, default scoring applied"
	}
	reason := ""
	if rec.SuccessRate >= 0.8 {
		reason += "high success rate"
	}
	if rec.CompletedCount >= 20 {
		if reason != "" {
			reason += ", "
		}
		reason += "experienced"
	}
	if reason == "" {
		reason = "best available composite score"
	}
	return reason
}

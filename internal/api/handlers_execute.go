package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/budget"
	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/router"
)

// pickAgent chooses an agent for task from the store's current idle pool,
// falling back to spawning a fresh agent ID when the router recommends it
// (spec.md §4.3 step 4's "no suitable match" branch).
func (s *Server) pickAgent(ctx context.Context, task *models.Task, excluded map[uuid.UUID]struct{}) (uuid.UUID, error) {
	agents, err := s.Store.ListAgents(ctx)
	if err != nil {
		return uuid.UUID{}, err
	}

	idle := make([]router.IdleAgent, 0, len(agents))
	for _, a := range agents {
		if a.Status != models.AgentStatusIdle {
			continue
		}
		if _, skip := excluded[a.ID]; skip {
			continue
		}
		rec, err := s.Store.GetPerformance(ctx, a.ID, task.Type)
		if err != nil {
			return uuid.UUID{}, err
		}
		idle = append(idle, router.IdleAgent{AgentID: a.ID, Record: rec})
	}

	decision := router.Route(task, idle)
	if decision.AgentID != nil {
		task.Model = decision.Model
		return *decision.AgentID, nil
	}
	task.Model = decision.Model
	return uuid.New(), nil
}

// handleExecuteOne force-dispatches a single pending task outside the
// periodic scheduling loop, for callers that want immediate placement
// (spec.md §4.10's POST /execute/{taskId}).
func (s *Server) handleExecuteOne(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("taskId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	task, err := s.Store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if task == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if task.Status != models.TaskStatusPending {
		writeError(w, http.StatusConflict, "task is not pending")
		return
	}

	ready, err := s.Store.AllDependenciesCompleted(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ready {
		writeError(w, http.StatusConflict, "task has unmet dependencies")
		return
	}

	if err := s.Budget.CheckSubmission(r.Context(), task.BudgetCents); err != nil {
		writeBudgetErr(w, err)
		return
	}

	agentID, err := s.pickAgent(r.Context(), task, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := s.dispatch(r.Context(), task, agentID); err != nil {
		writeError(w, http.StatusBadGateway, "dispatch failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"taskId":  id.String(),
		"agentId": agentID.String(),
		"status":  task.Status,
	})
}

// handleExecuteBatch force-dispatches every currently ready pending task,
// one agent per task, stopping early if the budget guard pauses mid-batch
// (spec.md §4.10's POST /execute/batch).
func (s *Server) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	ready, err := s.Graph.GetReadyTasks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type outcome struct {
		TaskID  string `json:"taskId"`
		AgentID string `json:"agentId,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	results := make([]outcome, 0, len(ready))
	taken := make(map[uuid.UUID]struct{}, len(ready))

	for _, task := range ready {
		if task.Status != models.TaskStatusPending {
			continue
		}
		if err := s.Budget.CheckSubmission(r.Context(), task.BudgetCents); err != nil {
			results = append(results, outcome{TaskID: task.ID.String(), Error: err.Error()})
			if errors.Is(err, budget.ErrBudgetPaused) {
				break
			}
			continue
		}
		agentID, err := s.pickAgent(r.Context(), task, taken)
		if err != nil {
			results = append(results, outcome{TaskID: task.ID.String(), Error: err.Error()})
			continue
		}
		if err := s.dispatch(r.Context(), task, agentID); err != nil {
			results = append(results, outcome{TaskID: task.ID.String(), Error: err.Error()})
			continue
		}
		taken[agentID] = struct{}{}
		results = append(results, outcome{TaskID: task.ID.String(), AgentID: agentID.String()})
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"dispatched": results})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/notify"
	"github.com/inaiurai/orchestrator/internal/schema"
	"github.com/inaiurai/orchestrator/internal/store"
)

// taskSubmission mirrors the wire shape of one task inside a POST /tasks
// envelope (spec.md §6); it is decoded once for schema validation and once
// more into models.Task so the two concerns (wire format, domain model)
// stay independent, the same separation the teacher keeps between its
// createTaskRequest and models.Task.
type taskSubmission struct {
	Type           string          `json:"type"`
	Priority       string          `json:"priority"`
	Model          string          `json:"model"`
	Prompt         string          `json:"prompt"`
	Context        taskContextWire `json:"context"`
	MaxTokens      *int            `json:"maxTokens"`
	TimeoutMinutes int             `json:"timeoutMinutes"`
	BudgetCents    int             `json:"budgetCents"`
	ParentTaskID   *string         `json:"parentTaskId"`
}

type taskContextWire struct {
	Branch         string   `json:"branch"`
	Files          []string `json:"files"`
	Dependencies   []string `json:"dependencies"`
	RepositoryURL  *string  `json:"repositoryUrl"`
	BaseCommit     *string  `json:"baseCommit"`
}

type taskEnvelope struct {
	Tasks []taskSubmission `json:"tasks"`
}

// --- POST /tasks ---

func (s *Server) handleCreateTasks(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if details, err := s.Validator.ValidateEnvelope(body); err != nil {
		if errors.Is(err, schema.ErrValidation) {
			writeValidationError(w, details)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var env taskEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	estimated := 0
	for _, t := range env.Tasks {
		cents := defaultInt(t.BudgetCents, 100)
		if err := s.Budget.CheckSubmission(r.Context(), cents); err != nil {
			writeBudgetErr(w, err)
			return
		}
		estimated += cents
	}

	taskIDs := make([]string, 0, len(env.Tasks))
	now := time.Now()
	for _, sub := range env.Tasks {
		task, err := toModelTask(sub, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.Topology.SubmitTask(r.Context(), task); err != nil {
			s.Logger.Error("submit task", "error", err, "task_id", task.ID)
			writeError(w, http.StatusInternalServerError, "failed to submit task")
			return
		}
		taskIDs = append(taskIDs, task.ID.String())
		s.Notify.Publish(notify.Event{Type: notify.EventTaskCreated, TaskID: task.ID.String(), At: now})
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"taskIds":            taskIDs,
		"estimatedCostCents": estimated,
	})
}

func toModelTask(sub taskSubmission, now time.Time) (*models.Task, error) {
	deps := make([]uuid.UUID, 0, len(sub.Context.Dependencies))
	for _, d := range sub.Context.Dependencies {
		id, err := uuid.Parse(d)
		if err != nil {
			return nil, errors.New("invalid dependency task id")
		}
		deps = append(deps, id)
	}

	var parent *uuid.UUID
	if sub.ParentTaskID != nil {
		id, err := uuid.Parse(*sub.ParentTaskID)
		if err != nil {
			return nil, errors.New("invalid parentTaskId")
		}
		parent = &id
	}

	priority := sub.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	model := sub.Model
	if model == "" {
		model = models.ModelSonnet
	}

	return &models.Task{
		ID:       uuid.New(),
		Type:     sub.Type,
		Priority: priority,
		Model:    model,
		Prompt:   sub.Prompt,
		Context: models.TaskContext{
			Branch:         sub.Context.Branch,
			Files:          sub.Context.Files,
			Dependencies:   deps,
			RepositoryURL:  sub.Context.RepositoryURL,
			BaseCommitHash: sub.Context.BaseCommit,
		},
		MaxTokens:      sub.MaxTokens,
		TimeoutMinutes: defaultInt(sub.TimeoutMinutes, 30),
		BudgetCents:    defaultInt(sub.BudgetCents, 100),
		CreatedAt:      now,
		ParentTaskID:   parent,
		Status:         models.TaskStatusPending,
	}, nil
}

func atoiDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

// --- GET /tasks/{id} ---

type taskWithResult struct {
	*models.Task
	Result *models.Result `json:"result,omitempty"`
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
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
	result, err := s.Store.GetResult(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, taskWithResult{Task: task, Result: result})
}

// --- GET /tasks ---

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		Status:      q.Get("status"),
		Type:        q.Get("type"),
		Priority:    q.Get("priority"),
		Offset:      atoiDefault(q.Get("offset"), 0),
		Limit:       atoiDefault(q.Get("limit"), 0),
		NewestFirst: true,
	}
	tasks, err := s.Store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// --- POST /tasks/{id}/cancel ---

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
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

	wasDispatched := task.Status == models.TaskStatusAssigned || task.Status == models.TaskStatusRunning
	task.Status = models.TaskStatusCancelled
	if err := s.Store.SetTask(r.Context(), task); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if wasDispatched && s.Provider != nil {
		if executionID, ok := s.executionFor(id); ok {
			go func() {
				if err := s.Provider.CancelExecution(context.Background(), executionID); err != nil {
					s.Logger.Warn("cancel execution best-effort failed", "task_id", id, "error", err)
				}
			}()
		}
	}
	if task.AssignedAgentID != nil {
		s.Conflict.ReleaseAgentLocks(*task.AssignedAgentID)
	}
	s.Notify.Publish(notify.Event{Type: notify.EventTaskFailed, TaskID: id.String(), Data: map[string]string{"reason": "cancelled"}})

	writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": task.Status})
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/auth"
	"github.com/inaiurai/orchestrator/internal/budget"
	"github.com/inaiurai/orchestrator/internal/conflict"
	"github.com/inaiurai/orchestrator/internal/graph"
	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/notify"
	"github.com/inaiurai/orchestrator/internal/provider/simulate"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/schema"
	"github.com/inaiurai/orchestrator/internal/store/memory"
	"github.com/inaiurai/orchestrator/internal/topology"
)

const testSecret = "unit-test-secret-unit-test-secret"

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	st := memory.New()
	g := graph.New(st)
	sched := scheduler.New(st, g, st.GetPerformance, nil)
	hub := topology.NewHubSpoke(st, sched)
	val, err := schema.NewValidator()
	require.NoError(t, err)

	s := NewServer()
	s.Store = st
	s.Graph = g
	s.Scheduler = sched
	s.Topology = hub
	s.Budget = budget.New(st, nil)
	s.Conflict = conflict.New()
	s.Notify = notify.NewHub(slog.Default())
	s.Provider = simulate.New()
	s.Validator = val
	s.Auth = auth.New([]byte(testSecret), auth.StoreKeyLookup{Store: st})
	s.Logger = slog.Default()
	s.Mode = "simulate"
	s.StartedAt = time.Now()

	token, err := auth.IssueBearer([]byte(testSecret), "test-subject", nil, time.Hour)
	require.NoError(t, err)
	return s, token
}

func submitBody() []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"tasks": []map[string]interface{}{
			{
				"type":     models.TaskTypeDoc,
				"priority": models.PriorityNormal,
				"prompt":   "write a README",
				"context": map[string]interface{}{
					"branch": "main",
					"files":  []string{"README.md"},
				},
			},
		},
	})
	return body
}

func TestHandleCreateTasks_ValidSubmissionReturns202(t *testing.T) {
	s, token := newTestServer(t)
	mux := s.NewMux()

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(submitBody()))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		TaskIds            []string `json:"taskIds"`
		EstimatedCostCents int      `json:"estimatedCostCents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.TaskIds, 1)
}

func TestHandleCreateTasks_MissingAuthRejectedWith401(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.NewMux()

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(submitBody()))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleCreateTasks_SchemaRejectionReturns400WithDetails(t *testing.T) {
	s, token := newTestServer(t)
	mux := s.NewMux()

	badBody, _ := json.Marshal(map[string]interface{}{
		"tasks": []map[string]interface{}{
			{"type": "not-a-real-type", "priority": models.PriorityNormal, "prompt": "x"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(badBody))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error   string                 `json:"error"`
		Details []schema.FieldError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Details)
}

func TestHandleCreateTasks_BudgetPausedReturns412(t *testing.T) {
	s, token := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.Store.SetBudget(ctx, &models.BudgetState{IsPaused: true}))

	mux := s.NewMux()
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(submitBody()))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestHandleGetTask_RoundTripsSubmittedTask(t *testing.T) {
	s, token := newTestServer(t)
	mux := s.NewMux()

	createReq := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(submitBody()))
	createReq.Header.Set("Authorization", "Bearer "+token)
	createRec := httptest.NewRecorder()
	mux.ServeHTTP(createRec, createReq)

	var created struct {
		TaskIds []string `json:"taskIds"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	require.Len(t, created.TaskIds, 1)

	getReq := httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskIds[0], nil)
	getReq.Header.Set("Authorization", "Bearer "+token)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)

	require.Equal(t, http.StatusOK, getRec.Code)

	var fetched taskWithResult
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &fetched))
	require.Equal(t, created.TaskIds[0], fetched.ID.String())
	require.Equal(t, models.TaskStatusPending, fetched.Status)
}

func TestHandleCancelTask_PendingTaskBecomesCancelled(t *testing.T) {
	s, token := newTestServer(t)
	mux := s.NewMux()

	createRec := httptest.NewRecorder()
	createReq := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(submitBody()))
	createReq.Header.Set("Authorization", "Bearer "+token)
	mux.ServeHTTP(createRec, createReq)

	var created struct {
		TaskIds []string `json:"taskIds"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	cancelReq := httptest.NewRequest(http.MethodPost, "/tasks/"+created.TaskIds[0]+"/cancel", nil)
	cancelReq.Header.Set("Authorization", "Bearer "+token)
	cancelRec := httptest.NewRecorder()
	mux.ServeHTTP(cancelRec, cancelReq)

	require.Equal(t, http.StatusOK, cancelRec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskIds[0], nil)
	getReq.Header.Set("Authorization", "Bearer "+token)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)

	var fetched taskWithResult
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &fetched))
	require.Equal(t, models.TaskStatusCancelled, fetched.Status)
}

func TestHandleListAgents_EmptyPoolReturnsEmptyList(t *testing.T) {
	s, token := newTestServer(t)
	mux := s.NewMux()

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Agents       []agentRollup `json:"agents"`
		ActiveAgents int           `json:"activeAgents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Agents)
	require.Equal(t, 0, resp.ActiveAgents)
}

func TestHandleGetBudget_ProjectsIdleBudget(t *testing.T) {
	s, token := newTestServer(t)
	mux := s.NewMux()

	req := httptest.NewRequest(http.MethodGet, "/budget", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ActiveAgents       int `json:"activeAgents"`
		ProjectedCostCents int `json:"projectedCostCents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.ActiveAgents)
	require.Equal(t, 0, resp.ProjectedCostCents)
}

func TestHandleHealth_UnauthenticatedReturns200(t *testing.T) {
	s, _ := newTestServer(t)
	mux := s.NewMux()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string `json:"status"`
		Mode   string `json:"mode"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "simulate", resp.Mode)
}

func TestHandleExecuteOne_DispatchesReadyTaskToFreshAgent(t *testing.T) {
	s, token := newTestServer(t)
	mux := s.NewMux()

	createRec := httptest.NewRecorder()
	createReq := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(submitBody()))
	createReq.Header.Set("Authorization", "Bearer "+token)
	mux.ServeHTTP(createRec, createReq)

	var created struct {
		TaskIds []string `json:"taskIds"`
	}
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	execReq := httptest.NewRequest(http.MethodPost, "/execute/"+created.TaskIds[0], nil)
	execReq.Header.Set("Authorization", "Bearer "+token)
	execRec := httptest.NewRecorder()
	mux.ServeHTTP(execRec, execReq)

	require.Equal(t, http.StatusAccepted, execRec.Code)

	var resp struct {
		TaskID  string `json:"taskId"`
		AgentID string `json:"agentId"`
		Status  string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(execRec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AgentID)
	require.Equal(t, models.TaskStatusRunning, resp.Status)

	taskID, err := uuid.Parse(created.TaskIds[0])
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := s.Store.GetTask(context.Background(), taskID)
		require.NoError(t, err)
		return task.Status == models.TaskStatusCompleted
	}, 10*time.Second, 50*time.Millisecond)
}

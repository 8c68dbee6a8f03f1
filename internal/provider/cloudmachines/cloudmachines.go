// Package cloudmachines implements provider.Provider against a REST
// machine-lifecycle API (create/status/stop), grounded on the teacher's
// internal/execution/worker.go webhook-call shape (net/http.Client with a
// fixed timeout, JSON request/response bodies, status-code-based error
// classification).
package cloudmachines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/errkind"
	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/provider"
)

// Provider calls a cloud machine-lifecycle API: POST to create a machine
// running the worker image, GET to poll status, POST to stop.
// WaitForCompletion polls the status GET every 2 seconds; it makes no
// blocking-wait request.
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breakers   *provider.BreakerRegistry
	retryCfg   provider.RetryConfig

	mu     sync.Mutex
	active map[string]provider.ActiveJob // executionID -> job
}

const providerType = "cloudmachines"

// New constructs a Provider against baseURL, authenticating with apiKey.
func New(baseURL, apiKey string) *Provider {
	return &Provider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breakers:   provider.NewBreakerRegistry(),
		retryCfg:   provider.DefaultRetryConfig(),
		active:     make(map[string]provider.ActiveJob),
	}
}

var _ provider.Provider = (*Provider)(nil)

type createMachineRequest struct {
	Image   string            `json:"image"`
	CPU     int               `json:"cpu"`
	Memory  int               `json:"memory_gb"`
	Env     map[string]string `json:"env"`
	Timeout int               `json:"timeout_minutes"`
}

type createMachineResponse struct {
	ExecutionID string `json:"execution_id"`
}

type statusResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (p *Provider) ExecuteTask(ctx context.Context, task *models.Task) (provider.ExecutionHandle, error) {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return provider.ExecutionHandle{}, errkind.New(errkind.Validation, "marshal task", err)
	}

	tier := provider.ResourceTier(task)
	spec := provider.TierSpecs[tier]
	env := provider.BuildWorkerEnv(task, string(taskJSON), task.Model, p.apiKey, "")

	reqBody := createMachineRequest{
		Image:   "inaiurai/agent-worker:latest",
		CPU:     spec.CPU,
		Memory:  spec.MemoryGB,
		Env:     envMap(env),
		Timeout: task.TimeoutMinutes,
	}

	resp, err := provider.CallWithRetry(ctx, p.breakers, providerType, p.retryCfg, func() (createMachineResponse, error) {
		return p.doCreate(ctx, reqBody)
	})
	if err != nil {
		return provider.ExecutionHandle{}, errkind.New(errkind.Transient, "create machine", err)
	}

	agentID := uuid.New()
	p.mu.Lock()
	p.active[resp.ExecutionID] = provider.ActiveJob{ExecutionID: resp.ExecutionID, TaskID: task.ID, StartTime: time.Now()}
	p.mu.Unlock()

	return provider.ExecutionHandle{ExecutionID: resp.ExecutionID, AgentID: agentID}, nil
}

func (p *Provider) doCreate(ctx context.Context, body createMachineRequest) (createMachineResponse, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return createMachineResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/machines", bytes.NewReader(buf))
	if err != nil {
		return createMachineResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return createMachineResponse{}, fmt.Errorf("network error creating machine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return createMachineResponse{}, fmt.Errorf("create machine returned status %d", resp.StatusCode)
	}

	var out createMachineResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return createMachineResponse{}, fmt.Errorf("invalid JSON from create machine: %w", err)
	}
	return out, nil
}

func (p *Provider) GetExecutionStatus(ctx context.Context, executionID string) (string, error) {
	resp, err := p.fetchStatus(ctx, executionID)
	if err != nil {
		if errkind.Classify(err) == errkind.NotFoundAtProvider {
			p.forget(executionID)
			return provider.StatusCompleted, nil
		}
		return "", err
	}
	return resp.Status, nil
}

func (p *Provider) fetchStatus(ctx context.Context, executionID string) (statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/machines/"+executionID, nil)
	if err != nil {
		return statusResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return statusResponse{}, fmt.Errorf("network error fetching status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := errkind.FromHTTPStatus(resp.StatusCode)
		if kind == errkind.NotFoundAtProvider {
			return statusResponse{}, errkind.New(errkind.NotFoundAtProvider, "execution not found", nil)
		}
		return statusResponse{}, errkind.New(kind, fmt.Sprintf("status fetch returned %d", resp.StatusCode), nil)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return statusResponse{}, fmt.Errorf("invalid JSON from status fetch: %w", err)
	}
	return out, nil
}

func (p *Provider) WaitForCompletion(ctx context.Context, executionID string, timeout time.Duration) (provider.WaitResult, error) {
	if timeout <= 0 {
		timeout = provider.DefaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		resp, err := p.fetchStatus(waitCtx, executionID)
		if err != nil {
			if errkind.Classify(err) == errkind.NotFoundAtProvider {
				// The provider has already forgotten this execution by the
				// time we polled; spec.md §4.4 treats that as a completed
				// run, not a failure (§8's 404-during-poll boundary test).
				p.forget(executionID)
				return provider.WaitResult{Status: provider.StatusCompleted}, nil
			}
		} else {
			switch resp.Status {
			case provider.StatusCompleted:
				var result models.Result
				if len(resp.Result) > 0 {
					if err := json.Unmarshal(resp.Result, &result); err != nil {
						return provider.WaitResult{}, fmt.Errorf("decode result: %w", err)
					}
				}
				p.forget(executionID)
				return provider.WaitResult{Status: provider.StatusCompleted, Result: &result}, nil
			case provider.StatusFailed:
				p.forget(executionID)
				return provider.WaitResult{Status: provider.StatusFailed}, nil
			}
		}

		select {
		case <-waitCtx.Done():
			return provider.WaitResult{Status: provider.StatusTimeout}, nil
		case <-ticker.C:
		}
	}
}

func (p *Provider) CancelExecution(ctx context.Context, executionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/machines/"+executionID+"/stop", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("network error stopping machine: %w", err)
	}
	defer resp.Body.Close()

	p.forget(executionID)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("stop machine returned %d", resp.StatusCode)
	}
	return nil
}

func (p *Provider) GetActiveJobCount(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active), nil
}

func (p *Provider) GetActiveJobs(ctx context.Context) ([]provider.ActiveJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.ActiveJob, 0, len(p.active))
	for _, j := range p.active {
		out = append(out, j)
	}
	return out, nil
}

func (p *Provider) forget(executionID string) {
	p.mu.Lock()
	delete(p.active, executionID)
	p.mu.Unlock()
}

func envMap(w provider.WorkerEnv) map[string]string {
	m := map[string]string{
		"TASK_ID":  w.TaskID,
		"TASK_JSON": w.TaskJSON,
		"AGENT_ID": w.AgentID,
		"MODEL":    w.Model,
		"LLM_API_KEY": w.LLMProviderAPIKey,
	}
	if w.SourceControlToken != "" {
		m["SCM_TOKEN"] = w.SourceControlToken
	}
	for k, v := range w.QueueBindingVars {
		m[k] = v
	}
	return m
}

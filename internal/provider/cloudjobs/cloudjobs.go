// Package cloudjobs implements provider.Provider against a job-template
// invocation API: a worker run is started by naming a template and polled
// for status, with no server-side blocking wait and no reliable cancel.
// Grounded on the same teacher webhook-call shape as cloudmachines
// (internal/execution/worker.go), trimmed to the narrower job-template
// contract.
package cloudjobs

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

const providerType = "cloudjobs"

// Provider invokes a named job template per task and polls for completion.
type Provider struct {
	baseURL      string
	apiKey       string
	templateName string
	httpClient   *http.Client
	breakers     *provider.BreakerRegistry
	retryCfg     provider.RetryConfig

	mu     sync.Mutex
	active map[string]provider.ActiveJob
}

// New constructs a Provider invoking templateName against baseURL.
func New(baseURL, apiKey, templateName string) *Provider {
	return &Provider{
		baseURL:      baseURL,
		apiKey:       apiKey,
		templateName: templateName,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		breakers:     provider.NewBreakerRegistry(),
		retryCfg:     provider.DefaultRetryConfig(),
		active:       make(map[string]provider.ActiveJob),
	}
}

var _ provider.Provider = (*Provider)(nil)

type runJobRequest struct {
	Template string            `json:"template"`
	Env      map[string]string `json:"env"`
}

type runJobResponse struct {
	ExecutionID string `json:"execution_id"`
}

type jobStatusResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (p *Provider) ExecuteTask(ctx context.Context, task *models.Task) (provider.ExecutionHandle, error) {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return provider.ExecutionHandle{}, errkind.New(errkind.Validation, "marshal task", err)
	}
	env := provider.BuildWorkerEnv(task, string(taskJSON), task.Model, p.apiKey, "")

	resp, err := provider.CallWithRetry(ctx, p.breakers, providerType, p.retryCfg, func() (runJobResponse, error) {
		return p.doRun(ctx, env)
	})
	if err != nil {
		return provider.ExecutionHandle{}, errkind.New(errkind.Transient, "run job", err)
	}

	agentID := uuid.New()
	p.mu.Lock()
	p.active[resp.ExecutionID] = provider.ActiveJob{ExecutionID: resp.ExecutionID, TaskID: task.ID, StartTime: time.Now()}
	p.mu.Unlock()

	return provider.ExecutionHandle{ExecutionID: resp.ExecutionID, AgentID: agentID}, nil
}

func (p *Provider) doRun(ctx context.Context, env provider.WorkerEnv) (runJobResponse, error) {
	body := runJobRequest{Template: p.templateName, Env: toMap(env)}
	buf, err := json.Marshal(body)
	if err != nil {
		return runJobResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/jobs/run", bytes.NewReader(buf))
	if err != nil {
		return runJobResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return runJobResponse{}, fmt.Errorf("network error running job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return runJobResponse{}, fmt.Errorf("run job returned status %d", resp.StatusCode)
	}

	var out runJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return runJobResponse{}, fmt.Errorf("invalid JSON from run job: %w", err)
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

func (p *Provider) fetchStatus(ctx context.Context, executionID string) (jobStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/jobs/"+executionID, nil)
	if err != nil {
		return jobStatusResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return jobStatusResponse{}, fmt.Errorf("network error fetching job status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := errkind.FromHTTPStatus(resp.StatusCode)
		if kind == errkind.NotFoundAtProvider {
			return jobStatusResponse{}, errkind.New(errkind.NotFoundAtProvider, "job not found", nil)
		}
		return jobStatusResponse{}, errkind.New(kind, fmt.Sprintf("job status fetch returned %d", resp.StatusCode), nil)
	}

	var out jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return jobStatusResponse{}, fmt.Errorf("invalid JSON from job status: %w", err)
	}
	return out, nil
}

// WaitForCompletion polls client-side every 3 seconds, as cloudmachines
// does every 2; neither provider makes a blocking-wait request.
func (p *Provider) WaitForCompletion(ctx context.Context, executionID string, timeout time.Duration) (provider.WaitResult, error) {
	if timeout <= 0 {
		timeout = provider.DefaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		resp, err := p.fetchStatus(waitCtx, executionID)
		if err == nil {
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
		} else if errkind.Classify(err) == errkind.NotFoundAtProvider {
			// Gone from the provider by the time we polled; spec.md §4.4
			// treats that as completed, not failed (§8's boundary test).
			p.forget(executionID)
			return provider.WaitResult{Status: provider.StatusCompleted}, nil
		}

		select {
		case <-waitCtx.Done():
			return provider.WaitResult{Status: provider.StatusTimeout}, nil
		case <-ticker.C:
		}
	}
}

// CancelExecution is best-effort: job-template runs have no dedicated stop
// endpoint, so this only removes the run from local tracking.
func (p *Provider) CancelExecution(ctx context.Context, executionID string) error {
	p.forget(executionID)
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

func toMap(w provider.WorkerEnv) map[string]string {
	m := map[string]string{
		"TASK_ID":     w.TaskID,
		"TASK_JSON":   w.TaskJSON,
		"AGENT_ID":    w.AgentID,
		"MODEL":       w.Model,
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

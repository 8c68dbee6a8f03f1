package api

import (
	"net/http"
	"time"

	"github.com/inaiurai/orchestrator/internal/store"
)

// handleHealth serves the single unauthenticated route (spec.md §4.10):
// liveness plus mode, queue depth, and active-agent/active-job counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	pingErr := s.Store.Ping(r.Context())
	if pingErr != nil {
		status = http.StatusServiceUnavailable
	}

	pending, _ := s.Store.ListTasks(r.Context(), store.TaskFilter{Status: "pending"})
	active, _ := s.Store.CountActiveAgents(r.Context())

	activeJobs := 0
	if s.Provider != nil {
		activeJobs, _ = s.Provider.GetActiveJobCount(r.Context())
	}

	resp := map[string]interface{}{
		"status":       "ok",
		"mode":         s.Mode,
		"uptimeSeconds": int(time.Since(s.StartedAt).Seconds()),
		"queueDepth":   len(pending),
		"activeAgents": active,
		"activeJobs":   activeJobs,
	}
	if pingErr != nil {
		resp["status"] = "degraded"
		resp["error"] = pingErr.Error()
	}
	writeJSON(w, status, resp)
}

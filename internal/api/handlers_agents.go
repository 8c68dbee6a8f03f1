package api

import "net/http"

// agentRollup is one agent plus the rollup fields GET /agents reports
// alongside the raw record (spec.md §4.10).
type agentRollup struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	HeldTaskID      *string `json:"held_task_id,omitempty"`
	AccumulatedCost int     `json:"accumulated_cost_cents"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Store.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	active, err := s.Store.CountActiveAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	rollups := make([]agentRollup, 0, len(agents))
	for _, a := range agents {
		rollup := agentRollup{ID: a.ID.String(), Status: a.Status, AccumulatedCost: a.AccumulatedCost}
		if a.HeldTaskID != nil {
			held := a.HeldTaskID.String()
			rollup.HeldTaskID = &held
		}
		rollups = append(rollups, rollup)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents":       rollups,
		"activeAgents": active,
	})
}

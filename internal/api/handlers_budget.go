package api

import "net/http"

// activeAgentProjectionCost is the per-agent cost-cents figure spec.md
// §4.10's GET /budget projection adds per currently active agent: "a
// projection equal to dailyUsed + activeAgents · 150".
const activeAgentProjectionCost = 150

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	state, err := s.Store.GetBudget(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	active, err := s.Store.CountActiveAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := map[string]interface{}{
		"activeAgents": active,
	}
	if state != nil {
		resp["state"] = state
		resp["projectedCostCents"] = state.DailyUsed + active*activeAgentProjectionCost
	}
	writeJSON(w, http.StatusOK, resp)
}

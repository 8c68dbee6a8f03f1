package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/inaiurai/orchestrator/internal/budget"
	"github.com/inaiurai/orchestrator/internal/schema"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeValidationError renders the {error, details[]} shape spec.md §6
// requires for a schema rejection.
func writeValidationError(w http.ResponseWriter, details []schema.FieldError) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":   "validation failed",
		"details": details,
	})
}

// writeBudgetErr renders a budget-guard rejection as 412 Precondition
// Failed, the paused case with a fixed message, any other submission
// rejection with its own text.
func writeBudgetErr(w http.ResponseWriter, err error) {
	if errors.Is(err, budget.ErrBudgetPaused) {
		writeError(w, http.StatusPreconditionFailed, "budget paused")
		return
	}
	writeError(w, http.StatusPreconditionFailed, err.Error())
}

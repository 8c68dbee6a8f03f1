package models

import "github.com/google/uuid"

// DependencyEdge is a pair (taskID, dependsOnTaskID). The graph maintains
// both forward (task -> its dependencies) and reverse (task -> its
// dependents) adjacency derived from the set of edges.
type DependencyEdge struct {
	TaskID       uuid.UUID `json:"task_id"`
	DependsOnID  uuid.UUID `json:"depends_on_id"`
}

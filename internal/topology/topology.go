// Package topology implements the three interchangeable orchestration
// topologies of spec.md §4.6: hub-and-spoke, hierarchical, and mesh. Each
// sits between task submission and the scheduler behind the shared Handler
// interface.
package topology

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
)

// ErrDepthExceeded is returned when a sub-task would exceed maxDepth.
var ErrDepthExceeded = errors.New("topology: max depth exceeded")

// ErrFanOutExceeded is returned when a parent already has maxSubTasksPerAgent children.
var ErrFanOutExceeded = errors.New("topology: max sub-tasks per agent exceeded")

// ErrPeerTimeout is returned when a mesh request's response never arrives
// within peerTimeoutMs.
var ErrPeerTimeout = errors.New("topology: peer response timeout")

// Handler is the shape every topology implementation presents to the
// request boundary and the scheduler.
type Handler interface {
	SubmitTask(ctx context.Context, t *models.Task) error
	OnTaskComplete(ctx context.Context, taskID uuid.UUID, result *models.Result) error
}

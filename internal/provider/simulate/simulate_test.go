package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/provider"
)

func TestWaitForCompletion_DocTaskCompletesWithinExpectedWindow(t *testing.T) {
	p := New()
	task := &models.Task{ID: uuid.New(), Type: models.TaskTypeDoc}

	handle, err := p.ExecuteTask(context.Background(), task)
	require.NoError(t, err)

	count, err := p.GetActiveJobCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	start := time.Now()
	result, err := p.WaitForCompletion(context.Background(), handle.ExecutionID, 5*time.Second)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, provider.StatusCompleted, result.Status)
	require.InDelta(t, 2*time.Second, elapsed, float64(200*time.Millisecond))

	count, err = p.GetActiveJobCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestCancelExecution_RemovesFromActive(t *testing.T) {
	p := New()
	task := &models.Task{ID: uuid.New(), Type: models.TaskTypeSecurity}

	handle, err := p.ExecuteTask(context.Background(), task)
	require.NoError(t, err)

	require.NoError(t, p.CancelExecution(context.Background(), handle.ExecutionID))

	count, err := p.GetActiveJobCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

package topology

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/graph"
	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/scheduler"
	"github.com/inaiurai/orchestrator/internal/store/memory"
)

func noHistory(ctx context.Context, agentID uuid.UUID, taskType string) (*models.PerformanceRecord, error) {
	return nil, nil
}

func newTestHierarchical() *Hierarchical {
	s := memory.New()
	g := graph.New(s)
	sched := scheduler.New(s, g, noHistory, nil)
	return NewHierarchical(s, sched)
}

func TestHierarchical_RejectsSubTaskBeyondMaxDepth(t *testing.T) {
	ctx := context.Background()
	h := newTestHierarchical()
	h.MaxDepth = 1

	root := &models.Task{ID: uuid.New(), Type: models.TaskTypeCode, Priority: models.PriorityNormal, CreatedAt: time.Now()}
	require.NoError(t, h.SubmitTask(ctx, root))

	child := &models.Task{Type: models.TaskTypeCode, Priority: models.PriorityNormal, CreatedAt: time.Now()}
	require.NoError(t, h.CreateSubTask(ctx, root.ID, child))

	grandchild := &models.Task{Type: models.TaskTypeCode, Priority: models.PriorityNormal, CreatedAt: time.Now()}
	err := h.CreateSubTask(ctx, child.ID, grandchild)
	require.ErrorIs(t, err, ErrDepthExceeded)
}

func TestHierarchical_RejectsSubTaskBeyondFanOut(t *testing.T) {
	ctx := context.Background()
	h := newTestHierarchical()
	h.MaxSubTasksPerAgent = 1

	root := &models.Task{ID: uuid.New(), Type: models.TaskTypeCode, Priority: models.PriorityNormal, CreatedAt: time.Now()}
	require.NoError(t, h.SubmitTask(ctx, root))

	first := &models.Task{Type: models.TaskTypeCode, Priority: models.PriorityNormal, CreatedAt: time.Now()}
	require.NoError(t, h.CreateSubTask(ctx, root.ID, first))

	second := &models.Task{Type: models.TaskTypeCode, Priority: models.PriorityNormal, CreatedAt: time.Now()}
	err := h.CreateSubTask(ctx, root.ID, second)
	require.ErrorIs(t, err, ErrFanOutExceeded)
}

func newTestMesh() (*Mesh, *memory.Store) {
	s := memory.New()
	g := graph.New(s)
	sched := scheduler.New(s, g, noHistory, nil)
	return NewMesh(s, sched), s
}

func TestMesh_BroadcastToTaskWithNoPeersIsNoop(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMesh()
	taskID := uuid.New()

	err := m.SendBroadcast(ctx, taskID, uuid.New(), "hello")
	require.NoError(t, err)
}

func TestMesh_BroadcastDeliversToTaskPeersExcludingSender(t *testing.T) {
	ctx := context.Background()
	m, s := newTestMesh()
	taskID := uuid.New()

	sender := uuid.New()
	peer := uuid.New()
	other := uuid.New()

	require.NoError(t, s.SetAgent(ctx, &models.Agent{ID: sender, HeldTaskID: &taskID}))
	require.NoError(t, s.SetAgent(ctx, &models.Agent{ID: peer, HeldTaskID: &taskID}))
	require.NoError(t, s.SetAgent(ctx, &models.Agent{ID: other}))

	require.NoError(t, m.SendBroadcast(ctx, taskID, sender, "go"))

	msgs := m.PollQueue(peer)
	require.Len(t, msgs, 1)
	require.Equal(t, MessageBroadcast, msgs[0].Type)

	require.Empty(t, m.PollQueue(sender))
	require.Empty(t, m.PollQueue(other))
}

func TestMesh_RequestTimesOutWhenNoResponseArrives(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMesh()
	m.PeerTimeout = 30 * time.Millisecond

	taskID := uuid.New()
	_, err := m.SendRequest(ctx, taskID, uuid.New(), uuid.New(), "ping")
	require.ErrorIs(t, err, ErrPeerTimeout)
}

func TestMesh_RequestResolvedByRespondToRequest(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMesh()
	m.PeerTimeout = 2 * time.Second

	taskID := uuid.New()
	to := uuid.New()

	done := make(chan Message, 1)
	go func() {
		resp, err := m.SendRequest(ctx, taskID, uuid.New(), to, "ping")
		require.NoError(t, err)
		done <- resp
	}()

	var msgID uuid.UUID
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		for id := range m.pending {
			msgID = id
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	require.NoError(t, m.RespondToRequest(ctx, msgID, to, "pong"))

	select {
	case resp := <-done:
		require.Equal(t, "pong", resp.Payload)
	case <-time.After(time.Second):
		t.Fatal("response never delivered")
	}
}

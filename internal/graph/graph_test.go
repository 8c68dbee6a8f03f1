package graph

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/store/memory"
)

func newTask(t *testing.T, s *memory.Store, status string) *models.Task {
	t.Helper()
	task := &models.Task{
		ID:        uuid.New(),
		Type:      "code",
		Status:    status,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SetTask(context.Background(), task))
	return task
}

func TestAddDependency_RejectsSelfDependency(t *testing.T) {
	s := memory.New()
	g := New(s)
	a := newTask(t, s, models.TaskStatusPending)

	err := g.AddDependency(context.Background(), a.ID, a.ID)
	require.ErrorIs(t, err, ErrCycle)
}

func TestAddDependency_RejectsCycle(t *testing.T) {
	s := memory.New()
	g := New(s)
	ctx := context.Background()

	a := newTask(t, s, models.TaskStatusPending)
	b := newTask(t, s, models.TaskStatusPending)
	c := newTask(t, s, models.TaskStatusPending)

	// a depends on b, b depends on c: a -> b -> c
	require.NoError(t, g.AddDependency(ctx, a.ID, b.ID))
	require.NoError(t, g.AddDependency(ctx, b.ID, c.ID))

	// c -> a would close the cycle a -> b -> c -> a.
	err := g.AddDependency(ctx, c.ID, a.ID)
	require.ErrorIs(t, err, ErrCycle)
}

func TestDetectCycles_FindsMinimalCycle(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	a := newTask(t, s, models.TaskStatusPending)
	b := newTask(t, s, models.TaskStatusPending)
	c := newTask(t, s, models.TaskStatusPending)

	// Wire the cycle directly through the store, bypassing AddDependency's
	// own rejection, so DetectCycles has something to find.
	require.NoError(t, s.AddDependencyEdge(ctx, a.ID, b.ID))
	require.NoError(t, s.AddDependencyEdge(ctx, b.ID, c.ID))
	require.NoError(t, s.AddDependencyEdge(ctx, c.ID, a.ID))

	g := New(s)
	cycle, err := g.DetectCycles(ctx)
	require.NoError(t, err)
	require.Len(t, cycle, 3)

	seen := map[uuid.UUID]bool{}
	for _, id := range cycle {
		require.False(t, seen[id], "cycle path must not repeat a node")
		seen[id] = true
	}
	require.True(t, seen[a.ID])
	require.True(t, seen[b.ID])
	require.True(t, seen[c.ID])
}

func TestDetectCycles_AcyclicGraphReturnsNil(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	a := newTask(t, s, models.TaskStatusPending)
	b := newTask(t, s, models.TaskStatusPending)
	require.NoError(t, s.AddDependencyEdge(ctx, a.ID, b.ID))

	g := New(s)
	cycle, err := g.DetectCycles(ctx)
	require.NoError(t, err)
	require.Nil(t, cycle)
}

func TestGetTopologicalOrder_RespectsDependencyOrder(t *testing.T) {
	s := memory.New()
	g := New(s)
	ctx := context.Background()

	a := newTask(t, s, models.TaskStatusPending)
	b := newTask(t, s, models.TaskStatusPending)
	c := newTask(t, s, models.TaskStatusPending)

	// a -> b -> c: a depends on b, b depends on c.
	require.NoError(t, g.AddDependency(ctx, a.ID, b.ID))
	require.NoError(t, g.AddDependency(ctx, b.ID, c.ID))

	order, err := g.GetTopologicalOrder(ctx)
	require.NoError(t, err)
	require.Len(t, order, 3)

	pos := map[uuid.UUID]int{}
	for i, id := range order {
		pos[id] = i
	}
	require.Less(t, pos[c.ID], pos[b.ID])
	require.Less(t, pos[b.ID], pos[a.ID])
}

func TestGetReadyTasks_OnlyReturnsPendingWithSatisfiedDeps(t *testing.T) {
	s := memory.New()
	g := New(s)
	ctx := context.Background()

	blocked := newTask(t, s, models.TaskStatusPending)
	dep := newTask(t, s, models.TaskStatusPending)
	require.NoError(t, g.AddDependency(ctx, blocked.ID, dep.ID))

	free := newTask(t, s, models.TaskStatusPending)

	ready, err := g.GetReadyTasks(ctx)
	require.NoError(t, err)

	ids := map[uuid.UUID]bool{}
	for _, task := range ready {
		ids[task.ID] = true
	}
	require.True(t, ids[dep.ID])
	require.True(t, ids[free.ID])
	require.False(t, ids[blocked.ID])

	dep.Status = models.TaskStatusCompleted
	require.NoError(t, s.SetTask(ctx, dep))

	ready, err = g.GetReadyTasks(ctx)
	require.NoError(t, err)
	ids = map[uuid.UUID]bool{}
	for _, task := range ready {
		ids[task.ID] = true
	}
	require.True(t, ids[blocked.ID])
}

func TestGetDependencyChain_ReturnsTransitiveClosure(t *testing.T) {
	s := memory.New()
	g := New(s)
	ctx := context.Background()

	a := newTask(t, s, models.TaskStatusPending)
	b := newTask(t, s, models.TaskStatusPending)
	c := newTask(t, s, models.TaskStatusPending)

	require.NoError(t, g.AddDependency(ctx, a.ID, b.ID))
	require.NoError(t, g.AddDependency(ctx, b.ID, c.ID))

	chain, err := g.GetDependencyChain(ctx, a.ID)
	require.NoError(t, err)

	ids := map[uuid.UUID]bool{}
	for _, id := range chain {
		ids[id] = true
	}
	require.True(t, ids[b.ID])
	require.True(t, ids[c.ID])
	require.False(t, ids[a.ID])
}

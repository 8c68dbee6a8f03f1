// Package graph implements the dependency DAG described in spec.md §4.2. It
// delegates storage to store.Store and supplies the graph algorithms on top,
// the same split the teacher's aristath-orchestrator sibling uses between
// its in-memory maps and the gammazero/toposort-driven Validate method.
package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
	"github.com/inaiurai/orchestrator/internal/store"
)

// ErrCycle is returned when an operation would introduce or has found a cycle.
var ErrCycle = errors.New("dependency graph: cycle detected")

// Graph supplies DAG algorithms over a store.Store-backed edge set.
type Graph struct {
	Store store.Store
}

// New returns a Graph over the given store.
func New(s store.Store) *Graph {
	return &Graph{Store: s}
}

// AddDependency adds the edge t -> d (t depends on d). Same-node is always
// rejected; a DFS from d through forward edges that reaches t means adding
// the edge would close a cycle, so it is rejected without being persisted.
func (g *Graph) AddDependency(ctx context.Context, t, d uuid.UUID) error {
	if t == d {
		return fmt.Errorf("%w: task cannot depend on itself", ErrCycle)
	}
	reachable, err := g.reachableFrom(ctx, d, t)
	if err != nil {
		return err
	}
	if reachable {
		return fmt.Errorf("%w: adding %s -> %s would close a cycle", ErrCycle, t, d)
	}
	return g.Store.AddDependencyEdge(ctx, t, d)
}

// RemoveDependency removes the edge t -> d.
func (g *Graph) RemoveDependency(ctx context.Context, t, d uuid.UUID) error {
	return g.Store.RemoveDependencyEdge(ctx, t, d)
}

// reachableFrom performs an iterative DFS (explicit stack, per the
// graph-traversal-depth design note) over forward edges starting at start,
// reporting whether target is reachable.
func (g *Graph) reachableFrom(ctx context.Context, start, target uuid.UUID) (bool, error) {
	visited := map[uuid.UUID]bool{}
	stack := []uuid.UUID{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		deps, err := g.Store.GetDependencies(ctx, cur)
		if err != nil {
			return false, err
		}
		stack = append(stack, deps...)
	}
	return false, nil
}

// GetReadyTasks returns all pending tasks whose direct dependencies are all completed.
func (g *Graph) GetReadyTasks(ctx context.Context) ([]*models.Task, error) {
	pending, err := g.Store.ListTasks(ctx, store.TaskFilter{Status: models.TaskStatusPending})
	if err != nil {
		return nil, err
	}
	var ready []*models.Task
	for _, t := range pending {
		ok, err := g.Store.AllDependenciesCompleted(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// GetTopologicalOrder runs Kahn's algorithm (via gammazero/toposort, the same
// library aristath-orchestrator uses for its own DAG) over every known task.
// If the emitted sequence omits any task, the graph contains a cycle.
func (g *Graph) GetTopologicalOrder(ctx context.Context) ([]uuid.UUID, error) {
	all, err := g.Store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}

	var edges []toposort.Edge
	for _, t := range all {
		deps, err := g.Store.GetDependencies(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range deps {
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCycle, err)
	}

	order := make([]uuid.UUID, 0, len(sorted))
	for _, v := range sorted {
		if v == nil {
			continue
		}
		order = append(order, v.(uuid.UUID))
	}
	if len(order) != len(all) {
		return nil, fmt.Errorf("%w: topological sort lost %d of %d tasks", ErrCycle, len(all)-len(order), len(all))
	}
	return order, nil
}

// DetectCycles runs coloured DFS and returns the first cycle's path found,
// or nil if the graph is acyclic. Iterative (explicit stack of frames) per
// the graph-traversal-depth design note.
func (g *Graph) DetectCycles(ctx context.Context) ([]uuid.UUID, error) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := map[uuid.UUID]int{}
	parent := map[uuid.UUID]uuid.UUID{}

	all, err := g.Store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}

	type frame struct {
		node    uuid.UUID
		depIdx  int
		deps    []uuid.UUID
	}

	for _, start := range all {
		if color[start.ID] != white {
			continue
		}
		stack := []*frame{{node: start.ID}}
		color[start.ID] = gray
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.deps == nil {
				deps, err := g.Store.GetDependencies(ctx, top.node)
				if err != nil {
					return nil, err
				}
				top.deps = deps
			}
			advanced := false
			for top.depIdx < len(top.deps) {
				next := top.deps[top.depIdx]
				top.depIdx++
				switch color[next] {
				case white:
					color[next] = gray
					parent[next] = top.node
					stack = append(stack, &frame{node: next})
					advanced = true
				case gray:
					return buildCyclePath(parent, top.node, next), nil
				}
				if advanced {
					break
				}
			}
			if !advanced && top.depIdx >= len(top.deps) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
			}
		}
	}
	return nil, nil
}

func buildCyclePath(parent map[uuid.UUID]uuid.UUID, from, to uuid.UUID) []uuid.UUID {
	path := []uuid.UUID{from}
	cur := from
	for cur != to {
		p, ok := parent[cur]
		if !ok {
			break
		}
		path = append(path, p)
		cur = p
	}
	// cur == to by now (or the walk ran off the parent map, which can't
	// happen for a genuine back-edge): to is already the last element,
	// nothing left to append.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// GetDependencyChain returns the transitive closure of dependencies of t
// (excluding t itself).
func (g *Graph) GetDependencyChain(ctx context.Context, t uuid.UUID) ([]uuid.UUID, error) {
	return g.Store.GetDependencyChain(ctx, t)
}

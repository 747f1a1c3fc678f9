// Package scheduler derives an ordered sequence of concurrency-safe batches
// from a Workflow's promise graph: a batch holds every task whose
// promises are all resolved, either by a prior batch or by a pre-existing
// receipt.
package scheduler

import (
	"sync"

	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/workflow"
)

// DependencyGraph tracks unmet promise dependencies between a workflow's
// tasks and yields newly-ready tasks as dependencies are marked complete.
// All methods are safe for concurrent use.
//
// Unlike a plain map-keyed graph, DependencyGraph also keeps the admission
// order of each task CID so GetReadyTasks can return newly-unblocked tasks
// in a deterministic order rather than Go's randomized map iteration order
// — required for the Scheduler's intra-batch ordering guarantee.
type DependencyGraph struct {
	mu         sync.Mutex
	order      []string
	tasks      map[string]*workflow.Task
	inDegree   map[string]int
	dependents map[string][]string
}

// NewDependencyGraph builds a DependencyGraph from an already-validated
// Workflow. Since Workflow construction already proves the promise graph is
// acyclic and dependency-complete, this constructor cannot fail.
func NewDependencyGraph(wf *workflow.Workflow) *DependencyGraph {
	tasks := wf.Tasks()
	cids := wf.TaskCIDs()

	g := &DependencyGraph{
		order:      make([]string, len(tasks)),
		tasks:      make(map[string]*workflow.Task, len(tasks)),
		inDegree:   make(map[string]int, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}

	for i := range tasks {
		key := cids[i].String()
		g.order[i] = key
		g.tasks[key] = &tasks[i]
		if _, ok := g.inDegree[key]; !ok {
			g.inDegree[key] = 0
		}
	}
	for i, t := range tasks {
		key := cids[i].String()
		for _, dep := range t.DependsOn() {
			depKey := dep.String()
			g.inDegree[key]++
			g.dependents[depKey] = append(g.dependents[depKey], key)
		}
	}

	return g
}

// GetReadyTasks returns every task with no unmet dependency, in the
// workflow's original admission order.
func (g *DependencyGraph) GetReadyTasks() []*workflow.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readyLocked()
}

func (g *DependencyGraph) readyLocked() []*workflow.Task {
	var ready []*workflow.Task
	for _, key := range g.order {
		if deg, ok := g.inDegree[key]; ok && deg == 0 {
			ready = append(ready, g.tasks[key])
		}
	}
	return ready
}

// MarkCompleted removes a task from the graph and returns the tasks it
// newly unblocks, in admission order.
func (g *DependencyGraph) MarkCompleted(taskCID ipld.Cid) []*workflow.Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := taskCID.String()
	unblocked := make(map[string]bool)
	for _, dep := range g.dependents[key] {
		if _, ok := g.inDegree[dep]; !ok {
			continue // already completed (e.g. pre-memoized)
		}
		g.inDegree[dep]--
		if g.inDegree[dep] == 0 {
			unblocked[dep] = true
		}
	}
	delete(g.inDegree, key)

	var out []*workflow.Task
	for _, candidate := range g.order {
		if unblocked[candidate] {
			out = append(out, g.tasks[candidate])
		}
	}
	return out
}

// IsEmpty reports whether every task in the graph has been marked complete.
func (g *DependencyGraph) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inDegree) == 0
}

// RemainingCount returns the number of tasks not yet marked complete.
func (g *DependencyGraph) RemainingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inDegree)
}

// GetTask looks up a task by CID.
func (g *DependencyGraph) GetTask(taskCID ipld.Cid) (*workflow.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[taskCID.String()]
	return t, ok
}

package workflow

import (
	"fmt"

	"github.com/homestar-labs/homestar/ipld"
)

// Workflow is a validated, immutable directed acyclic graph of tasks.
// Construction enforces the three admission invariants: every promise
// target exists in the workflow, the promise graph is acyclic, and no two
// tasks share a CID.
type Workflow struct {
	tasks []Task
	cids  []ipld.Cid
	byCID map[string]*Task
}

// NewWorkflow validates tasks and, on success, returns an immutable
// Workflow. Task order is preserved: it is the tie-break the Scheduler uses
// for deterministic intra-batch ordering.
func NewWorkflow(tasks []Task) (*Workflow, error) {
	cids := make([]ipld.Cid, len(tasks))
	byCID := make(map[string]*Task, len(tasks))

	for i := range tasks {
		c, err := tasks[i].CID()
		if err != nil {
			return nil, fmt.Errorf("workflow: task %d: %w", i, err)
		}
		key := c.String()
		if _, exists := byCID[key]; exists {
			return nil, &DuplicateTaskError{CID: key}
		}
		cids[i] = c
		byCID[key] = &tasks[i]
	}

	for _, t := range tasks {
		for _, dep := range t.DependsOn() {
			if _, ok := byCID[dep.String()]; !ok {
				return nil, &InvalidScheduleError{Reason: ReasonDanglingPromise, CID: dep.String()}
			}
		}
	}

	if err := checkAcyclic(tasks, cids); err != nil {
		return nil, err
	}

	return &Workflow{tasks: tasks, cids: cids, byCID: byCID}, nil
}

// checkAcyclic runs Kahn's algorithm over the promise graph purely to
// confirm a topological sort exists; batch production itself is the
// Scheduler's job (scheduler.NewSchedule), which runs the same algorithm
// again to additionally produce batches and consult the Receipt Store.
func checkAcyclic(tasks []Task, cids []ipld.Cid) error {
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, c := range cids {
		inDegree[c.String()] = 0
	}
	for i, t := range tasks {
		key := cids[i].String()
		for _, dep := range t.DependsOn() {
			inDegree[key]++
			dependents[dep.String()] = append(dependents[dep.String()], key)
		}
	}

	queue := make([]string, 0, len(tasks))
	for key, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, key)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if processed != len(tasks) {
		return &InvalidScheduleError{Reason: ReasonCycle}
	}
	return nil
}

// Tasks returns the workflow's tasks in their original admission order.
func (w *Workflow) Tasks() []Task { return w.tasks }

// TaskCIDs returns the CID of each task, in the same order as Tasks().
func (w *Workflow) TaskCIDs() []ipld.Cid { return w.cids }

// TaskByCID looks up a task by its content identifier.
func (w *Workflow) TaskByCID(c ipld.Cid) (*Task, bool) {
	t, ok := w.byCID[c.String()]
	return t, ok
}

// Len returns the number of tasks in the workflow.
func (w *Workflow) Len() int { return len(w.tasks) }

// Node renders the workflow as its canonical Ipld form: {"tasks": [...]}.
func (w *Workflow) Node() (ipld.Node, error) {
	items := make([]ipld.Node, len(w.tasks))
	for i, t := range w.tasks {
		n, err := t.Invocation.Node()
		if err != nil {
			return ipld.Node{}, fmt.Errorf("workflow: task %d: %w", i, err)
		}
		items[i] = n
	}
	return ipld.Map(map[string]ipld.Node{"tasks": ipld.List(items...)}), nil
}

// CID computes the workflow's content identifier: the DAG-CBOR hash of its
// canonical encoding.
func (w *Workflow) CID() (ipld.Cid, error) {
	n, err := w.Node()
	if err != nil {
		return ipld.UndefCid, err
	}
	return ipld.CID(n)
}

package scheduler

import (
	"context"
	"fmt"

	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/workflow"
)

// Batch is a set of tasks whose promises are all resolved and that may
// therefore run concurrently. Tasks within a batch are ordered by the
// workflow's original admission order, the Scheduler's deterministic
// intra-batch tie-break.
type Batch struct {
	Tasks []workflow.Task
}

// Schedule is the ordered sequence of batches a Worker drives to run a
// workflow, plus the receipts the pre-memoization pass found already exist.
// A fully-memoized workflow produces zero batches.
type Schedule struct {
	Batches  []Batch
	Resolved map[string]*receipt.Receipt // task CID string -> pre-existing receipt
}

// NewSchedule derives a Schedule for wf. It first consults store for every
// task's receipt (the pre-memoization pass): any task already
// memoized is treated as pre-completed and excluded from every batch, and
// its dependents' unmet-dependency counts are reduced accordingly. The
// remaining tasks are then grouped into batches by Kahn's algorithm.
func NewSchedule(ctx context.Context, wf *workflow.Workflow, store receipt.Store) (*Schedule, error) {
	g := NewDependencyGraph(wf)
	resolved := make(map[string]*receipt.Receipt)

	for _, cid := range wf.TaskCIDs() {
		r, err := store.FindReceipt(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("scheduler: pre-memoization lookup for %s: %w", cid, err)
		}
		if r != nil {
			resolved[cid.String()] = r
		}
	}
	// Mark pre-resolved tasks complete in admission order so cascading
	// unblocks (a task whose only dependency was itself memoized) are
	// discovered deterministically.
	for _, cid := range wf.TaskCIDs() {
		if _, ok := resolved[cid.String()]; ok {
			g.MarkCompleted(cid)
		}
	}

	var batches []Batch
	for !g.IsEmpty() {
		ready := g.GetReadyTasks()
		if len(ready) == 0 {
			// Unreachable for a Workflow that passed admission validation
			// (acyclic, no dangling promises): every remaining task must
			// eventually reach in-degree zero.
			return nil, fmt.Errorf("scheduler: %d tasks remain but none are ready", g.RemainingCount())
		}
		tasks := make([]workflow.Task, len(ready))
		cids := make([]ipld.Cid, len(ready))
		for i, t := range ready {
			tasks[i] = *t
			c, err := t.CID()
			if err != nil {
				return nil, fmt.Errorf("scheduler: task cid: %w", err)
			}
			cids[i] = c
		}
		batches = append(batches, Batch{Tasks: tasks})
		for _, c := range cids {
			g.MarkCompleted(c)
		}
	}

	return &Schedule{Batches: batches, Resolved: resolved}, nil
}

// IsFullyResolved reports whether every task in the workflow was already
// memoized, meaning the schedule has no batches to run.
func (s *Schedule) IsFullyResolved() bool {
	return len(s.Batches) == 0
}

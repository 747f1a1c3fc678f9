package scheduler

import (
	"context"
	"testing"

	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/workflow"
)

func testComponentCID(t *testing.T, name string) ipld.Cid {
	t.Helper()
	c, err := ipld.CID(ipld.String(name))
	if err != nil {
		t.Fatalf("cid: %v", err)
	}
	return c
}

func testTask(t *testing.T, comp ipld.Cid, arg workflow.InputValue, nonce string) workflow.Task {
	t.Helper()
	return workflow.Task{Invocation: workflow.Invocation{
		Ability:  workflow.WasmRunAbility,
		Resource: comp,
		Func:     "add-two",
		Args:     []workflow.InputValue{arg},
		Nonce:    nonce,
	}}
}

func TestNewSchedule_PromiseChainBatching(t *testing.T) {
	// A two-task chain where t2 awaits t1's output lands t1 in batch 0
	// and t2 in batch 1.
	comp := testComponentCID(t, "add.wasm")
	t1 := testTask(t, comp, workflow.LiteralValue(ipld.Int(40)), "n1")
	t1CID, err := t1.CID()
	if err != nil {
		t.Fatalf("t1 cid: %v", err)
	}
	t2 := testTask(t, comp, workflow.PromiseValue(t1CID, workflow.SelectorOk), "n2")

	wf, err := workflow.NewWorkflow([]workflow.Task{t1, t2})
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}

	store := receipt.NewMemoryStore()
	sched, err := NewSchedule(context.Background(), wf, store)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if len(sched.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(sched.Batches))
	}
	if len(sched.Batches[0].Tasks) != 1 {
		t.Fatalf("expected 1 task in batch 0, got %d", len(sched.Batches[0].Tasks))
	}
	got0, _ := sched.Batches[0].Tasks[0].CID()
	if !got0.Equals(t1CID) {
		t.Errorf("expected t1 in batch 0, got %v", got0)
	}
	if len(sched.Batches[1].Tasks) != 1 {
		t.Fatalf("expected 1 task in batch 1, got %d", len(sched.Batches[1].Tasks))
	}
}

func TestNewSchedule_IndependentTasksShareBatch(t *testing.T) {
	comp := testComponentCID(t, "add.wasm")
	t1 := testTask(t, comp, workflow.LiteralValue(ipld.Int(1)), "n1")
	t2 := testTask(t, comp, workflow.LiteralValue(ipld.Int(2)), "n2")
	t3 := testTask(t, comp, workflow.LiteralValue(ipld.Int(3)), "n3")

	wf, err := workflow.NewWorkflow([]workflow.Task{t1, t2, t3})
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}

	sched, err := NewSchedule(context.Background(), wf, receipt.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if len(sched.Batches) != 1 {
		t.Fatalf("expected a single batch, got %d", len(sched.Batches))
	}
	if len(sched.Batches[0].Tasks) != 3 {
		t.Fatalf("expected 3 tasks in the batch, got %d", len(sched.Batches[0].Tasks))
	}
	// Deterministic intra-batch ordering: admission order is preserved.
	for i, want := range []string{"n1", "n2", "n3"} {
		if got := sched.Batches[0].Tasks[i].Invocation.Nonce; got != want {
			t.Errorf("task %d: expected nonce %q, got %q", i, want, got)
		}
	}
}

func TestNewSchedule_FullyMemoizedWorkflowHasNoBatches(t *testing.T) {
	ctx := context.Background()
	comp := testComponentCID(t, "add.wasm")
	t1 := testTask(t, comp, workflow.LiteralValue(ipld.Int(40)), "n1")
	t1CID, _ := t1.CID()

	wf, err := workflow.NewWorkflow([]workflow.Task{t1})
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}

	store := receipt.NewMemoryStore()
	r := receipt.New(t1CID, receipt.Ok(ipld.Int(42)), workflow.WasmRunAbility, "wf", "wf", false)
	if err := store.PutReceipt(ctx, r); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}

	sched, err := NewSchedule(ctx, wf, store)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if !sched.IsFullyResolved() {
		t.Fatalf("expected a fully-resolved schedule, got %d batches", len(sched.Batches))
	}
	if _, ok := sched.Resolved[t1CID.String()]; !ok {
		t.Error("expected t1 to be recorded as resolved")
	}
}

func TestNewSchedule_PartialMemoizationUnblocksDependent(t *testing.T) {
	ctx := context.Background()
	comp := testComponentCID(t, "add.wasm")
	t1 := testTask(t, comp, workflow.LiteralValue(ipld.Int(40)), "n1")
	t1CID, _ := t1.CID()
	t2 := testTask(t, comp, workflow.PromiseValue(t1CID, workflow.SelectorOk), "n2")

	wf, err := workflow.NewWorkflow([]workflow.Task{t1, t2})
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}

	store := receipt.NewMemoryStore()
	r := receipt.New(t1CID, receipt.Ok(ipld.Int(42)), workflow.WasmRunAbility, "wf", "wf", false)
	if err := store.PutReceipt(ctx, r); err != nil {
		t.Fatalf("PutReceipt: %v", err)
	}

	sched, err := NewSchedule(ctx, wf, store)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	if len(sched.Batches) != 1 {
		t.Fatalf("expected t1's memoization to leave a single batch for t2, got %d", len(sched.Batches))
	}
	if len(sched.Batches[0].Tasks) != 1 {
		t.Fatalf("expected only t2 in the batch, got %d", len(sched.Batches[0].Tasks))
	}
	if sched.Batches[0].Tasks[0].Invocation.Nonce != "n2" {
		t.Errorf("expected t2, got nonce %q", sched.Batches[0].Tasks[0].Invocation.Nonce)
	}
}

func TestDependencyGraph_GetReadyTasksIsDeterministic(t *testing.T) {
	comp := testComponentCID(t, "add.wasm")
	tasks := make([]workflow.Task, 0, 8)
	for i := 0; i < 8; i++ {
		tasks = append(tasks, testTask(t, comp, workflow.LiteralValue(ipld.Int(int64(i))), string(rune('a'+i))))
	}
	wf, err := workflow.NewWorkflow(tasks)
	if err != nil {
		t.Fatalf("NewWorkflow: %v", err)
	}

	g := NewDependencyGraph(wf)
	first := g.GetReadyTasks()
	for i := 0; i < 5; i++ {
		again := g.GetReadyTasks()
		if len(again) != len(first) {
			t.Fatalf("ready set length changed across calls")
		}
		for j := range again {
			if again[j].Invocation.Nonce != first[j].Invocation.Nonce {
				t.Fatalf("ready order changed across calls: %v vs %v", again, first)
			}
		}
	}
}

// Package worker drives a single workflow's Schedule end to end:
// pulling batches, resolving promise arguments, dispatching tasks to the
// Memoization Coordinator, and emitting progress events.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/homestar-labs/homestar/blobstore"
	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/memo"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/scheduler"
	"github.com/homestar-labs/homestar/telemetry"
	"github.com/homestar-labs/homestar/workflow"
)

// ComponentExecutor runs a task's Wasm component. wasmhost.Host implements
// this; tests supply stubs so Worker's batching and promise-resolution
// logic can be exercised without a real Wasm runtime.
type ComponentExecutor interface {
	Execute(ctx context.Context, wasmBytes []byte, funcName string, args []ipld.Node, res workflow.Resources) (receipt.Result, error)
}

// DefaultMaxConcurrent bounds how many tasks within one batch run at once.
const DefaultMaxConcurrent = 8

// DefaultEventBufferSize is the default capacity of a Worker's event
// channel. The channel is bounded and producers block once it fills (see
// Events()), so the buffer only absorbs bursts; it does not change the
// backpressure contract.
const DefaultEventBufferSize = 256

// DefaultCancelDrain bounds how long a cancelled Run waits for in-flight
// tasks to finish before detaching. Straggler receipts produced after
// the Worker detaches are still persisted by the Memoization Coordinator
// but no longer update the workflow.
const DefaultCancelDrain = 30 * time.Second

// Options tunes a Worker. The zero value selects every default.
type Options struct {
	// MaxConcurrent bounds intra-batch parallelism. <= 0 uses
	// DefaultMaxConcurrent.
	MaxConcurrent int
	// EventsBufferLen is the progress-event channel capacity. <= 0 uses
	// DefaultEventBufferSize.
	EventsBufferLen int
	// CancelDrain bounds the post-cancellation wait for in-flight tasks.
	// <= 0 uses DefaultCancelDrain.
	CancelDrain time.Duration
	// Metrics receives per-task and per-batch counters. Nil disables
	// metrics (a nil *telemetry.Metrics is a no-op by contract).
	Metrics *telemetry.Metrics
}

// Stats is a snapshot of a Worker's dispatch counters.
type Stats struct {
	BatchesProcessed int64
	TasksDispatched  int64
	TasksFailed      int64
}

// Worker runs one workflow. All exported methods are safe for concurrent
// use; a Worker instance is not reused across workflows.
type Worker struct {
	store   receipt.Store
	coord   *memo.Coordinator
	blob    blobstore.Fetcher
	host    ComponentExecutor
	sem     chan struct{}
	events  chan Event
	drain   time.Duration
	metrics *telemetry.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	cancel context.CancelFunc

	batchesProcessed atomic.Int64
	tasksDispatched  atomic.Int64
	tasksFailed      atomic.Int64
}

// New builds a Worker. A nil logger falls back to slog.Default().
func New(store receipt.Store, coord *memo.Coordinator, blob blobstore.Fetcher, host ComponentExecutor, opts Options, logger *slog.Logger) *Worker {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.EventsBufferLen <= 0 {
		opts.EventsBufferLen = DefaultEventBufferSize
	}
	if opts.CancelDrain <= 0 {
		opts.CancelDrain = DefaultCancelDrain
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:   store,
		coord:   coord,
		blob:    blob,
		host:    host,
		sem:     make(chan struct{}, opts.MaxConcurrent),
		events:  make(chan Event, opts.EventsBufferLen),
		drain:   opts.CancelDrain,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Events returns the Worker's progress event stream. Consume it from a
// separate goroutine: the channel is bounded, and once the buffer fills
// the run blocks on the consumer until it catches up or the run's context
// is cancelled.
func (w *Worker) Events() <-chan Event { return w.events }

// Stats returns a snapshot of the Worker's dispatch counters.
func (w *Worker) Stats() Stats {
	return Stats{
		BatchesProcessed: w.batchesProcessed.Load(),
		TasksDispatched:  w.tasksDispatched.Load(),
		TasksFailed:      w.tasksFailed.Load(),
	}
}

// emit delivers a progress event, blocking for buffer space to enforce
// backpressure on a slow consumer. A cancelled context releases the
// producer; the fast path still delivers when room remains even after
// cancellation.
func (w *Worker) emit(ctx context.Context, e Event) {
	select {
	case w.events <- e:
		return
	default:
	}
	select {
	case w.events <- e:
	case <-ctx.Done():
	}
}

// Cancel cancels the in-flight Run's context: tasks not yet started are
// dropped, running tasks see the cancellation through their context, no
// further batch starts, and Run waits up to the cancel drain for in-flight
// tasks before detaching.
func (w *Worker) Cancel() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// Run drives wf's Schedule to completion: each batch is fully persisted
// before the next batch begins. A Go error return means the workflow did
// not complete: an infrastructure failure (store unavailable, component
// fetch failure), a promise that did not resolve against its selector, or
// cancellation. A task's own Err(...) result is not such a failure and does
// not abort the run.
func (w *Worker) Run(ctx context.Context, wf *workflow.Workflow) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	wfCID, err := wf.CID()
	if err != nil {
		return fmt.Errorf("worker: workflow cid: %w", err)
	}

	runCtx, span := telemetry.StartWorkflowSpan(runCtx, wfCID.String())
	defer span.End()

	sched, err := scheduler.NewSchedule(runCtx, wf, w.store)
	if err != nil {
		w.logger.Error("worker: failed to derive schedule", "workflow", wfCID, "error", err)
		w.emit(runCtx, Event{Kind: EventWorkflowFailed, WorkflowCID: wfCID, Err: err})
		return fmt.Errorf("worker: derive schedule: %w", err)
	}
	w.logger.Info("worker: run starting", "workflow", wfCID, "batches", len(sched.Batches))

	resolved := make(map[string]receipt.Receipt, len(sched.Resolved))
	for cidStr, r := range sched.Resolved {
		resolved[cidStr] = *r
	}

	var infraErr, workflowErr error
	for i, batch := range sched.Batches {
		if runCtx.Err() != nil {
			break
		}
		w.batchesProcessed.Add(1)
		w.logger.Debug("worker: batch starting", "workflow", wfCID, "batch", i, "size", len(batch.Tasks))
		w.emit(runCtx, Event{Kind: EventBatchStarted, WorkflowCID: wfCID, BatchIndex: i, BatchSize: len(batch.Tasks)})

		// Each batch reads its own snapshot of the resolution table: a
		// straggler that outlives the cancellation drain must not observe
		// writes made here after its batch was abandoned.
		batchView := make(map[string]receipt.Receipt, len(resolved))
		for k, v := range resolved {
			batchView[k] = v
		}

		batchStart := time.Now()
		results := w.runBatch(runCtx, wfCID, batch, batchView)
		w.metrics.BatchProcessed(time.Since(batchStart))

		for cidStr, res := range results {
			resolved[cidStr] = res.receipt
			if res.infraErr != nil && infraErr == nil {
				infraErr = res.infraErr
			}
			if res.workflowErr != nil && workflowErr == nil {
				workflowErr = res.workflowErr
			}
		}
	}

	if infraErr != nil {
		w.logger.Error("worker: workflow failed (infrastructure)", "workflow", wfCID, "error", infraErr)
		w.emit(runCtx, Event{Kind: EventWorkflowFailed, WorkflowCID: wfCID, Err: infraErr})
		return fmt.Errorf("worker: %w", infraErr)
	}
	// A promise a downstream task awaited did not match its selector.
	// Batch siblings already ran to receipt above and those receipts are
	// kept; only the overall run is reported as failed.
	if workflowErr != nil {
		w.logger.Warn("worker: workflow failed (promise resolution)", "workflow", wfCID, "error", workflowErr)
		w.emit(runCtx, Event{Kind: EventWorkflowFailed, WorkflowCID: wfCID, Err: workflowErr})
		return fmt.Errorf("worker: %w", workflowErr)
	}
	if runCtx.Err() != nil {
		w.logger.Warn("worker: workflow cancelled", "workflow", wfCID)
		w.emit(runCtx, Event{Kind: EventWorkflowFailed, WorkflowCID: wfCID, Err: runCtx.Err()})
		return runCtx.Err()
	}

	if err := w.store.MarkWorkflowComplete(ctx, wfCID, time.Now().UTC()); err != nil {
		return fmt.Errorf("worker: mark workflow complete: %w", err)
	}
	w.logger.Info("worker: workflow completed", "workflow", wfCID)
	w.emit(runCtx, Event{Kind: EventWorkflowCompleted, WorkflowCID: wfCID})
	return nil
}

type taskResult struct {
	receipt receipt.Receipt
	// infraErr is a Go-level infrastructure failure (store I/O, component
	// fetch): the task produced no receipt at all.
	infraErr error
	// workflowErr is set when the task's own receipt was produced (and
	// persisted) but a promise it awaited failed to resolve against its
	// selector -- a promise resolution failure, which marks the whole
	// workflow failed without aborting batch siblings.
	workflowErr error
}

// runBatch dispatches every task in a batch concurrently, bounded by the
// Worker's semaphore, and returns once all of them finish — the batch
// barrier that guarantees batch k is fully persisted before batch k+1
// starts. One task's failure (infrastructure or otherwise) does not cancel
// its batch-mates.
//
// When the run is cancelled mid-batch the barrier becomes bounded: the
// Worker waits at most its configured drain for in-flight tasks, then
// detaches. Detached stragglers still persist their receipts through
// the Memoization Coordinator but no longer contribute to this batch's
// result set.
func (w *Worker) runBatch(ctx context.Context, wfCID ipld.Cid, batch scheduler.Batch, resolved map[string]receipt.Receipt) map[string]taskResult {
	var mu sync.Mutex
	out := make(map[string]taskResult, len(batch.Tasks))
	var wg sync.WaitGroup

	for _, task := range batch.Tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case w.sem <- struct{}{}:
				defer func() { <-w.sem }()
			case <-ctx.Done():
				return
			}

			r, infraErr, workflowErr := w.runTask(ctx, wfCID, task, resolved)

			mu.Lock()
			taskCID, _ := task.CID()
			out[taskCID.String()] = taskResult{receipt: r, infraErr: infraErr, workflowErr: workflowErr}
			mu.Unlock()

			switch {
			case infraErr != nil:
				w.tasksFailed.Add(1)
				w.metrics.TaskFailed(task.Invocation.Ability)
				w.logger.Error("worker: task failed (infrastructure)", "workflow", wfCID, "task", taskCID, "error", infraErr)
				w.emit(ctx, Event{Kind: EventTaskFailed, WorkflowCID: wfCID, TaskCID: taskCID, Err: infraErr})
			case workflowErr != nil:
				w.tasksFailed.Add(1)
				w.metrics.TaskFailed(task.Invocation.Ability)
				w.logger.Warn("worker: task failed (promise resolution)", "workflow", wfCID, "task", taskCID, "error", workflowErr)
				w.emit(ctx, Event{Kind: EventTaskFailed, WorkflowCID: wfCID, TaskCID: taskCID, Err: workflowErr})
			default:
				w.tasksDispatched.Add(1)
				w.metrics.TaskResolved(task.Invocation.Ability, r.Replayed())
				w.logger.Debug("worker: task resolved", "workflow", wfCID, "task", taskCID, "replayed", r.Replayed())
				w.emit(ctx, Event{Kind: EventTaskResolved, WorkflowCID: wfCID, TaskCID: taskCID, Replayed: r.Replayed()})
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(w.drain):
			w.logger.Warn("worker: detaching from in-flight tasks after cancellation drain", "workflow", wfCID, "drain", w.drain)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := make(map[string]taskResult, len(out))
	for k, v := range out {
		snapshot[k] = v
	}
	return snapshot
}

// runTask resolves a task's promise arguments and dispatches it through
// the Memoization Coordinator. The first error is an infrastructure
// failure (no receipt was produced at all); the second is a promise
// resolution failure -- the task's own Err(...)
// receipt is still produced and persisted, but the containing workflow must
// be marked failed.
func (w *Worker) runTask(ctx context.Context, wfCID ipld.Cid, task workflow.Task, resolved map[string]receipt.Receipt) (receipt.Receipt, error, error) {
	taskCID, err := task.CID()
	if err != nil {
		return receipt.Receipt{}, fmt.Errorf("worker: task cid: %w", err), nil
	}

	ctx, span := telemetry.StartTaskSpan(ctx, taskCID.String(), task.Invocation.Ability)
	defer span.End()

	args, resolveErr := resolveArgs(task, resolved)
	if resolveErr != nil {
		r := receipt.New(taskCID, receipt.Err(ipld.String(resolveErr.Error())), task.Invocation.Ability, wfCID.String(), "", false)
		if err := w.store.PutReceipt(ctx, r); err != nil {
			return receipt.Receipt{}, fmt.Errorf("worker: persist promise-resolution failure: %w", err), nil
		}
		receiptCID, _ := r.CID()
		if err := w.store.LinkReceipt(ctx, wfCID, receiptCID); err != nil {
			return receipt.Receipt{}, fmt.Errorf("worker: link promise-resolution failure: %w", err), nil
		}
		return r, nil, resolveErr
	}

	exec := func(ctx context.Context, t workflow.Task) (receipt.Result, error) {
		wasmBytes, err := w.blob.Fetch(ctx, t.Invocation.Resource)
		if err != nil {
			return receipt.Result{}, fmt.Errorf("worker: fetch component: %w", err)
		}
		return w.host.Execute(ctx, wasmBytes, t.Invocation.Func, args, t.Resources)
	}

	r, err := w.coord.Resolve(ctx, wfCID, task, exec)
	if err != nil {
		return receipt.Receipt{}, err, nil
	}
	return *r, nil, nil
}

// resolveArgs substitutes each promise argument with the value its
// selector picks out of the awaited task's receipt.
func resolveArgs(task workflow.Task, resolved map[string]receipt.Receipt) ([]ipld.Node, error) {
	args := make([]ipld.Node, len(task.Invocation.Args))
	for i, arg := range task.Invocation.Args {
		if !arg.IsPromise() {
			args[i] = *arg.Literal
			continue
		}
		r, ok := resolved[arg.Promise.TaskCID.String()]
		if !ok {
			return nil, &PromiseResolutionFailedError{
				TaskCID: arg.Promise.TaskCID.String(),
				Detail:  "awaited task has no receipt yet",
			}
		}
		v, err := selectValue(r, arg.Promise.Selector)
		if err != nil {
			return nil, &PromiseResolutionFailedError{TaskCID: arg.Promise.TaskCID.String(), Detail: err.Error()}
		}
		args[i] = v
	}
	return args, nil
}

func selectValue(r receipt.Receipt, sel workflow.Selector) (ipld.Node, error) {
	switch sel {
	case workflow.SelectorAny:
		return r.Out.Value, nil
	case workflow.SelectorOk:
		if !r.Out.IsOk() {
			return ipld.Node{}, fmt.Errorf("awaited task produced an error, not ok")
		}
		return r.Out.Value, nil
	case workflow.SelectorErr:
		if r.Out.IsOk() {
			return ipld.Node{}, fmt.Errorf("awaited task produced ok, not an error")
		}
		return r.Out.Value, nil
	default:
		return ipld.Node{}, fmt.Errorf("unknown selector %q", sel)
	}
}

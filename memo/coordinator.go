// Package memo implements the Memoization Coordinator: it avoids
// re-executing a task CID by checking the local Receipt Store,
// deduplicating concurrent in-process callers so the task runs at most
// once at a time on this node, and asking peers before falling back to
// local execution.
package memo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/workflow"
)

// Executor runs a task's invocation and returns its outcome. The Wasm Host
// implements this signature for real task execution; tests supply stubs.
type Executor func(ctx context.Context, t workflow.Task) (receipt.Result, error)

// Coordinator is the Memoization Coordinator. One Coordinator is shared by
// every Worker on a node, so that two workflows racing to run the same
// task CID still execute it only once.
type Coordinator struct {
	store  receipt.Store
	pubsub PubSub // nil disables peer memoization
	cfg    Config
	logger *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	states map[string]TaskState
}

// NewCoordinator builds a Coordinator. pubsub may be nil, in which case
// peer memoization is skipped regardless of cfg.DisablePeerMemoization. A
// nil logger falls back to slog.Default().
func NewCoordinator(store receipt.Store, pubsub PubSub, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:  store,
		pubsub: pubsub,
		cfg:    cfg,
		logger: logger,
		states: make(map[string]TaskState),
	}
}

func (c *Coordinator) setState(key string, s TaskState) {
	c.mu.Lock()
	c.states[key] = s
	c.mu.Unlock()
}

// State reports a task CID's current position in the memoization state
// machine, for observability and tests. Returns StatePending for a CID the
// Coordinator has never seen.
func (c *Coordinator) State(taskCID ipld.Cid) TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[taskCID.String()]
}

// Resolve produces the receipt for t, running exec at most once across
// this node's concurrent callers and, if peer memoization is enabled,
// adopting a peer's receipt instead of executing locally when one answers
// in time.
func (c *Coordinator) Resolve(ctx context.Context, workflowCID ipld.Cid, t workflow.Task, exec Executor) (*receipt.Receipt, error) {
	taskCID, err := t.CID()
	if err != nil {
		return nil, fmt.Errorf("memo: task cid: %w", err)
	}
	key := taskCID.String()

	if r, err := c.store.FindReceipt(ctx, taskCID); err != nil {
		return nil, fmt.Errorf("memo: local lookup: %w", err)
	} else if r != nil {
		c.logger.Debug("memo: local hit", "task", key)
		c.setState(key, StateResolved)
		replayed := r.WithReplayed(true)
		return &replayed, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.resolveOnce(ctx, workflowCID, taskCID, t, exec)
	})
	if err != nil {
		return nil, err
	}
	r := v.(receipt.Receipt)
	return &r, nil
}

// resolveOnce runs the local-store recheck, peer want/gossip, and
// execution fallback exactly once per task CID per singleflight window.
func (c *Coordinator) resolveOnce(ctx context.Context, workflowCID, taskCID ipld.Cid, t workflow.Task, exec Executor) (receipt.Receipt, error) {
	key := taskCID.String()

	// Re-check: another caller may have persisted a receipt between our
	// first lookup and acquiring the singleflight slot.
	if r, err := c.store.FindReceipt(ctx, taskCID); err != nil {
		return receipt.Receipt{}, fmt.Errorf("memo: local recheck: %w", err)
	} else if r != nil {
		c.logger.Debug("memo: local hit on recheck", "task", key)
		c.setState(key, StateResolved)
		return r.WithReplayed(true), nil
	}

	if c.pubsub != nil && !c.cfg.DisablePeerMemoization {
		if r, ok := c.awaitPeer(ctx, workflowCID, taskCID); ok {
			c.logger.Info("memo: adopted peer receipt", "task", key)
			c.setState(key, StateResolved)
			// An adopted receipt is already circulating on the receipts
			// topic; persist it without rebroadcasting to avoid gossip echo.
			if err := c.persist(ctx, workflowCID, r, false); err != nil {
				return receipt.Receipt{}, err
			}
			return r.WithReplayed(true), nil
		}
		if ctx.Err() != nil {
			c.setState(key, StateCancelled)
			return receipt.Receipt{}, ctx.Err()
		}
	}

	c.logger.Debug("memo: executing locally", "task", key)
	c.setState(key, StateExecuting)
	out, err := exec(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Warn("memo: execution cancelled", "task", key)
			c.setState(key, StateCancelled)
			return receipt.Receipt{}, err
		}
		c.logger.Error("memo: execution failed", "task", key, "error", err)
		c.setState(key, StateFailed)
		return receipt.Receipt{}, err
	}

	r := receipt.New(taskCID, out, t.Invocation.Ability, workflowCID.String(), "", false)
	if err := c.persist(ctx, workflowCID, r, true); err != nil {
		c.logger.Error("memo: persist failed", "task", key, "error", err)
		c.setState(key, StateFailed)
		return receipt.Receipt{}, err
	}
	c.logger.Debug("memo: resolved", "task", key)
	c.setState(key, StateResolved)
	return r, nil
}

// awaitPeer broadcasts a want for taskCID and waits up to the configured
// window for a verifiably matching receipt.
func (c *Coordinator) awaitPeer(ctx context.Context, workflowCID, taskCID ipld.Cid) (receipt.Receipt, bool) {
	key := taskCID.String()
	c.logger.Debug("memo: awaiting peer", "task", key, "window", c.cfg.GetPeerWaitWindow())
	c.setState(key, StateAwaitingPeer)

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.GetPeerWaitWindow())
	defer cancel()

	ch, unsubscribe, err := c.pubsub.Subscribe(waitCtx, ReceiptsTopic)
	if err != nil {
		c.logger.Warn("memo: peer subscribe failed", "task", key, "error", err)
		return receipt.Receipt{}, false
	}
	defer unsubscribe()

	if err := c.pubsub.Publish(waitCtx, WantsTopic(workflowCID.String()), []byte(taskCID.String())); err != nil {
		c.logger.Warn("memo: peer want publish failed", "task", key, "error", err)
		return receipt.Receipt{}, false
	}

	for {
		select {
		case <-waitCtx.Done():
			c.logger.Debug("memo: no peer answered in time", "task", key)
			return receipt.Receipt{}, false
		case payload, ok := <-ch:
			if !ok {
				return receipt.Receipt{}, false
			}
			r, err := receipt.Verify(payload, taskCID)
			if err != nil {
				continue // not our task, or unverifiable: keep waiting
			}
			return r, true
		}
	}
}

func (c *Coordinator) persist(ctx context.Context, workflowCID ipld.Cid, r receipt.Receipt, broadcast bool) error {
	if err := c.store.PutReceipt(ctx, r); err != nil {
		return fmt.Errorf("memo: persist: %w", err)
	}
	receiptCID, err := r.CID()
	if err != nil {
		return fmt.Errorf("memo: receipt cid: %w", err)
	}
	if err := c.store.LinkReceipt(ctx, workflowCID, receiptCID); err != nil {
		return fmt.Errorf("memo: link: %w", err)
	}
	if broadcast && c.pubsub != nil {
		data, err := r.Encode()
		if err != nil {
			return fmt.Errorf("memo: encode for broadcast: %w", err)
		}
		// Best-effort: a publish failure here must not fail the task whose
		// receipt was already durably persisted.
		_ = c.pubsub.Publish(context.Background(), ReceiptsTopic, data)
	}
	return nil
}

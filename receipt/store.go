package receipt

import (
	"context"
	"time"

	"github.com/homestar-labs/homestar/ipld"
)

// Store is the abstract Receipt Store the Scheduler and Memoization
// Coordinator depend on. Implementations must be safe for concurrent
// use. FindReceipt returns (nil, nil) — not an error — when no receipt
// exists for the given task CID; a non-nil error indicates the store itself
// could not be consulted.
type Store interface {
	// FindReceipt looks up the receipt for a task by its CID.
	FindReceipt(ctx context.Context, taskCID ipld.Cid) (*Receipt, error)

	// PutReceipt persists a receipt. Implementations are append-only:
	// writing a receipt that already exists for a task CID is a no-op.
	PutReceipt(ctx context.Context, r Receipt) error

	// LinkReceipt records that a receipt was produced in the course of
	// running workflowCID, for provenance and replay bookkeeping.
	LinkReceipt(ctx context.Context, workflowCID, receiptCID ipld.Cid) error

	// MarkWorkflowComplete records the time a workflow finished running
	// (successfully or not).
	MarkWorkflowComplete(ctx context.Context, workflowCID ipld.Cid, at time.Time) error
}

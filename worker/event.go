package worker

import "github.com/homestar-labs/homestar/ipld"

// EventKind discriminates the Event union a Worker emits as it drives a
// workflow.
type EventKind uint8

const (
	EventBatchStarted EventKind = iota
	EventTaskResolved
	EventTaskFailed
	EventWorkflowCompleted
	EventWorkflowFailed
)

// Event is a single progress notification from a running workflow. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind        EventKind
	WorkflowCID ipld.Cid

	// EventBatchStarted
	BatchIndex int
	BatchSize  int

	// EventTaskResolved / EventTaskFailed
	TaskCID  ipld.Cid
	Replayed bool

	// EventTaskFailed / EventWorkflowFailed
	Err error
}

package workflow

import "fmt"

// DuplicateTaskError is returned at admission when two tasks in the same
// workflow share a CID. Guidance: change the invocation's nonce so the two
// tasks are no longer content-identical.
type DuplicateTaskError struct {
	CID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("duplicate task %s (change the nonce to disambiguate)", e.CID)
}

// InvalidScheduleReason distinguishes the two ways a workflow's promise
// graph can fail to admit.
type InvalidScheduleReason string

const (
	ReasonCycle           InvalidScheduleReason = "cycle"
	ReasonDanglingPromise InvalidScheduleReason = "dangling promise"
)

// InvalidScheduleError is returned at admission when the promise graph is
// not a valid DAG over the workflow's own tasks.
type InvalidScheduleError struct {
	Reason InvalidScheduleReason
	CID    string // populated for ReasonDanglingPromise
}

func (e *InvalidScheduleError) Error() string {
	if e.Reason == ReasonDanglingPromise {
		return fmt.Sprintf("invalid schedule: dangling promise:%s", e.CID)
	}
	return fmt.Sprintf("invalid schedule: %s", e.Reason)
}

// UnsupportedWorkflowError is returned when the API is asked to load a
// workflow document of an unrecognized format.
type UnsupportedWorkflowError struct {
	Format string
}

func (e *UnsupportedWorkflowError) Error() string {
	return fmt.Sprintf("unsupported workflow format: %s", e.Format)
}

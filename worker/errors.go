package worker

import "fmt"

// PromiseResolutionFailedError reports that a task's promise argument could
// not be resolved: the awaited task's receipt did not match the requested
// selector (e.g. awaiting "ok" on a task that produced an error).
type PromiseResolutionFailedError struct {
	TaskCID string
	Detail  string
}

func (e *PromiseResolutionFailedError) Error() string {
	return fmt.Sprintf("promise resolution failed for %s: %s", e.TaskCID, e.Detail)
}

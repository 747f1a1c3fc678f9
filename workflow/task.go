package workflow

import "github.com/homestar-labs/homestar/ipld"

// Resources is a task's resource envelope: the fuel budget and memory
// ceiling enforced by the Wasm Host.
type Resources struct {
	// Fuel is the fuel budget for this task. Nil means no fuel budget: the
	// host then bounds execution by wasmhost.DefaultExecutionTimeout.
	Fuel *uint64
	// MaxMemoryBytes is the memory ceiling. Zero means the host default
	// (4 GiB, see wasmhost.DefaultMaxMemoryBytes).
	MaxMemoryBytes uint64
}

// Task is an Invocation plus its resource envelope — the unit of
// scheduling. A task's content identity is its Invocation's CID: the
// resource envelope is scheduling metadata, not part of the signed intent.
type Task struct {
	Invocation Invocation
	Resources  Resources
}

// CID returns the task's content identifier.
func (t Task) CID() (ipld.Cid, error) {
	return t.Invocation.CID()
}

// DependsOn returns the CIDs of tasks this task's promises read from.
func (t Task) DependsOn() []ipld.Cid {
	var deps []ipld.Cid
	for _, arg := range t.Invocation.Args {
		if arg.IsPromise() {
			deps = append(deps, arg.Promise.TaskCID)
		}
	}
	return deps
}

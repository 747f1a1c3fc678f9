// Package wasmhost runs a UCAN-Invocation task's WebAssembly component
// under wazero: it compiles and instantiates the component with a
// per-task memory ceiling, marshals Ipld arguments and results across the
// host/guest boundary against the component's declared signature, and
// surfaces type mismatches, resource exhaustion, and traps as Err(...)
// results rather than panics.
package wasmhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/workflow"
)

// DefaultMaxMemoryBytes is the memory ceiling applied when a task's
// Resources.MaxMemoryBytes is zero.
const DefaultMaxMemoryBytes = 4 * 1024 * 1024 * 1024 // 4 GiB

// DefaultExecutionTimeout bounds a task with no fuel budget set.
const DefaultExecutionTimeout = 30 * time.Second

// fuelTimeoutRate converts a fuel budget into a wall-clock budget. wazero
// has no native instruction-metering "fuel" concept (that's a
// wasmtime-specific primitive); lacking host-level instrumentation to
// count instructions, a task's fuel budget is approximated as an
// execution deadline at this notional rate. A component that legitimately
// needs more wall-clock time per unit of "real" work should be given a
// larger fuel budget.
const fuelTimeoutRate = 100_000 // fuel units per millisecond

const wasmPageSize = 65536

// Host loads and runs Wasm components. A Host may be shared across
// concurrent invocations: each Execute call gets its own wazero.Runtime
// (for a per-task memory ceiling) but all runtimes share one
// CompilationCache, so compiling the same component bytes twice is cheap.
type Host struct {
	cache    wazero.CompilationCache
	seq      atomic.Uint64
	inFlight atomic.Int64
	logger   *slog.Logger
}

// NewHost constructs a Host with a fresh, shared compilation cache. A nil
// logger falls back to slog.Default().
func NewHost(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{cache: wazero.NewCompilationCache(), logger: logger}
}

// Close releases the Host's shared compilation cache.
func (h *Host) Close(ctx context.Context) error {
	return h.cache.Close(ctx)
}

// InFlight reports how many invocations are currently executing, for the
// node's in-flight telemetry gauge.
func (h *Host) InFlight() int64 { return h.inFlight.Load() }

// Execute runs funcName in the component wasmBytes with args, honoring the
// task's resource envelope. Type mismatches, fuel/memory exhaustion, and
// traps are returned as a failed receipt.Result, not a Go error: a Go
// error return means the Host itself could not run the task at all
// (malformed bytecode, no such export), which the caller should treat as
// an infrastructure failure rather than a content-addressed outcome.
func (h *Host) Execute(ctx context.Context, wasmBytes []byte, funcName string, args []ipld.Node, res workflow.Resources) (receipt.Result, error) {
	h.inFlight.Add(1)
	defer h.inFlight.Add(-1)

	maxBytes := res.MaxMemoryBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxMemoryBytes
	}
	maxPages := uint32((maxBytes + wasmPageSize - 1) / wasmPageSize)

	timeout := DefaultExecutionTimeout
	if res.Fuel != nil {
		timeout = time.Duration(*res.Fuel/fuelTimeoutRate) * time.Millisecond
		if timeout <= 0 {
			// A zero deadline would cancel compilation and instantiation
			// before the component ever runs.
			timeout = time.Millisecond
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	h.logger.Debug("wasmhost: compiling component", "func", funcName, "max_memory_bytes", maxBytes, "timeout", timeout)

	rtConfig := wazero.NewRuntimeConfig().
		WithCompilationCache(h.cache).
		WithMemoryLimitPages(maxPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(runCtx, rtConfig)
	defer runtime.Close(context.Background())

	if _, err := wasi_snapshot_preview1.Instantiate(runCtx, runtime); err != nil {
		return receipt.Result{}, fmt.Errorf("wasmhost: instantiate wasi: %w", err)
	}

	compiled, err := runtime.CompileModule(runCtx, wasmBytes)
	if err != nil {
		return receipt.Result{}, fmt.Errorf("wasmhost: compile: %w", err)
	}

	modName := fmt.Sprintf("task-%d", h.seq.Add(1))
	modConfig := wazero.NewModuleConfig().WithName(modName).WithStartFunctions()
	mod, err := runtime.InstantiateModule(runCtx, compiled, modConfig)
	if err != nil {
		return receipt.Result{}, fmt.Errorf("wasmhost: instantiate: %w", err)
	}
	defer mod.Close(context.Background())

	if mod.ExportedFunction(funcName) == nil {
		return receipt.Result{}, fmt.Errorf("wasmhost: no exported function %q", funcName)
	}

	out, execErr := h.invoke(runCtx, mod, funcName, args, maxBytes)
	if execErr == nil {
		h.logger.Debug("wasmhost: execution succeeded", "func", funcName)
		return receipt.Ok(out), nil
	}

	if runCtx.Err() != nil {
		err := &OutOfFuelError{Fuel: fuelFor(res)}
		h.logger.Warn("wasmhost: fuel exhausted", "func", funcName, "fuel", err.Fuel)
		return receipt.Err(ipld.String(err.Error())), nil
	}
	switch e := execErr.(type) {
	case *TypeMismatchError:
		h.logger.Warn("wasmhost: type mismatch", "func", funcName, "expected", e.Expected, "got", e.Got)
		return receipt.Err(ipld.String(execErr.Error())), nil
	case *OutOfMemoryError:
		h.logger.Warn("wasmhost: out of memory", "func", funcName, "max_bytes", e.MaxBytes)
		return receipt.Err(ipld.String(execErr.Error())), nil
	case *HostTrapError:
		h.logger.Error("wasmhost: component trapped", "func", funcName, "error", e.Err)
		return receipt.Err(ipld.String(execErr.Error())), nil
	default:
		h.logger.Error("wasmhost: unexpected execution error", "func", funcName, "error", execErr)
		return receipt.Err(ipld.String((&HostTrapError{Err: execErr}).Error())), nil
	}
}

func fuelFor(res workflow.Resources) uint64 {
	if res.Fuel == nil {
		return 0
	}
	return *res.Fuel
}

// invoke marshals args onto funcName's declared core signature and calls
// it, checking the whole expected parameter shape against the component's
// actual export before making any call -- including the alloc call used to
// write buffer-slot arguments -- so a mismatch is reported before any
// call into the guest.
func (h *Host) invoke(ctx context.Context, mod api.Module, funcName string, args []ipld.Node, maxBytes uint64) (ipld.Node, error) {
	fn := mod.ExportedFunction(funcName)
	if fn == nil {
		return ipld.Node{}, &TypeMismatchError{Expected: fmt.Sprintf("an exported function named %q", funcName), Got: "no such export"}
	}
	def := fn.Definition()
	paramTypes := def.ParamTypes()
	resultTypes := def.ResultTypes()

	slots := make([]slotKind, len(args))
	needsBuffer := false
	for i, a := range args {
		sk, err := slotFor(a)
		if err != nil {
			return ipld.Node{}, &TypeMismatchError{
				Expected: fmt.Sprintf("a component parameter type for argument %d", i),
				Got:      err.Error(),
			}
		}
		slots[i] = sk
		if sk == slotBuffer {
			needsBuffer = true
		}
	}

	expected := expectedTypesFor(slots)
	if !sameValueTypes(expected, paramTypes) {
		return ipld.Node{}, &TypeMismatchError{
			Expected: fmt.Sprintf("parameters %s for %q", valueTypesString(expected), funcName),
			Got:      fmt.Sprintf("parameters %s", valueTypesString(paramTypes)),
		}
	}

	resultIsBuffer := len(resultTypes) == 2 && resultTypes[0] == api.ValueTypeI32 && resultTypes[1] == api.ValueTypeI32
	needsBuffer = needsBuffer || resultIsBuffer

	var alloc api.Function
	var mem api.Memory
	if needsBuffer {
		alloc = mod.ExportedFunction("alloc")
		if alloc == nil {
			return ipld.Node{}, &TypeMismatchError{Expected: "an exported alloc(len i32) -> ptr i32", Got: "no such export"}
		}
		mem = mod.Memory()
		if mem == nil {
			return ipld.Node{}, &TypeMismatchError{Expected: "an exported memory", Got: "no such export"}
		}
	}

	params := make([]uint64, 0, len(expected))
	for i, a := range args {
		switch slots[i] {
		case slotBool:
			v, _ := a.AsBool()
			var iv int32
			if v {
				iv = 1
			}
			params = append(params, api.EncodeI32(iv))
		case slotInt:
			v, _ := a.AsInt()
			params = append(params, api.EncodeI64(v))
		case slotFloat:
			v, _ := a.AsFloat()
			params = append(params, api.EncodeF64(v))
		case slotBuffer:
			data, err := encodeBuffer(a)
			if err != nil {
				return ipld.Node{}, err
			}
			ptr, length, err := h.writeBuffer(ctx, alloc, mem, data, maxBytes)
			if err != nil {
				return ipld.Node{}, err
			}
			params = append(params, api.EncodeI32(int32(ptr)), api.EncodeI32(int32(length)))
		}
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return ipld.Node{}, &HostTrapError{Err: err}
	}

	return decodeResults(resultTypes, results, mem)
}

// writeBuffer allocates space in the guest's linear memory via its
// exported alloc(len)->ptr and copies data into it.
func (h *Host) writeBuffer(ctx context.Context, alloc api.Function, mem api.Memory, data []byte, maxBytes uint64) (ptr, length uint32, err error) {
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, 0, &HostTrapError{Err: err}
	}
	if len(results) != 1 {
		return 0, 0, &TypeMismatchError{Expected: "alloc(len) -> single i32 ptr", Got: fmt.Sprintf("%d return values", len(results))}
	}
	p := uint32(api.DecodeI32(results[0]))
	if !mem.Write(p, data) {
		return 0, 0, &OutOfMemoryError{MaxBytes: maxBytes}
	}
	return p, uint32(len(data)), nil
}

// decodeResults lifts a call's raw results back to an Ipld value according
// to the component's declared result signature.
func decodeResults(resultTypes []api.ValueType, results []uint64, mem api.Memory) (ipld.Node, error) {
	switch {
	case len(resultTypes) == 0:
		return ipld.Null(), nil
	case len(resultTypes) == 1 && resultTypes[0] == api.ValueTypeI32:
		return ipld.Bool(api.DecodeI32(results[0]) != 0), nil
	case len(resultTypes) == 1 && resultTypes[0] == api.ValueTypeI64:
		return ipld.Int(int64(results[0])), nil
	case len(resultTypes) == 1 && resultTypes[0] == api.ValueTypeF32:
		return ipld.Float(float64(api.DecodeF32(results[0]))), nil
	case len(resultTypes) == 1 && resultTypes[0] == api.ValueTypeF64:
		return ipld.Float(api.DecodeF64(results[0])), nil
	case len(resultTypes) == 2 && resultTypes[0] == api.ValueTypeI32 && resultTypes[1] == api.ValueTypeI32:
		if mem == nil {
			return ipld.Node{}, &TypeMismatchError{Expected: "an exported memory to decode a buffer result", Got: "no memory export"}
		}
		ptr := uint32(api.DecodeI32(results[0]))
		length := uint32(api.DecodeI32(results[1]))
		data, ok := mem.Read(ptr, length)
		if !ok {
			return ipld.Node{}, &TypeMismatchError{Expected: "a result pointer within bounds", Got: fmt.Sprintf("ptr=%d len=%d", ptr, length)}
		}
		return decodeBuffer(data)
	default:
		return ipld.Node{}, &TypeMismatchError{
			Expected: "a supported result signature (i32, i64, f32, f64, or (i32 ptr, i32 len))",
			Got:      valueTypesString(resultTypes),
		}
	}
}

package wasmhost

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/homestar-labs/homestar/ipld"
)

// Marshaling strategy for the Ipld<->component-value mapping.
//
// wazero instantiates core WebAssembly modules: a component's exported
// functions take and return only i32/i64/f32/f64, not the richer
// option/record/list<T> types of the component model. Homestar reads a
// component's *actual* exported signature (api.FunctionDefinition's
// ParamTypes/ResultTypes) and checks it against the table below before
// making any call into the guest, rather than assuming a declared schema it
// has no way to obtain:
//
//   - Bool, Integer, and Float are scalar rows of the table and cross as a
//     single raw core value (i32, i64, f64 respectively) -- matching the
//     WebAssembly Component Model's own canonical-ABI lowering of bool and
//     s64/u64/f64 onto those same core types.
//   - Bytes, String, List, Map, and Link have no scalar core representation.
//     Each such argument is DAG-CBOR-encoded and written to the component's
//     linear memory via its exported alloc(len)->ptr, then passed as an
//     (i32 ptr, i32 len) pair -- one pair per aggregate argument, not one
//     buffer for the whole argument list. A result follows the same
//     convention in reverse, decoding the pointer the component returns.
//   - Null has no lowering at all without the component's own declared
//     optional type, which core wazero cannot supply; a null argument is
//     always a TypeMismatch rather than a guess.
type slotKind int

const (
	slotBool slotKind = iota
	slotInt
	slotFloat
	slotBuffer
)

func slotFor(n ipld.Node) (slotKind, error) {
	switch n.Kind() {
	case ipld.KindBool:
		return slotBool, nil
	case ipld.KindInt:
		return slotInt, nil
	case ipld.KindFloat:
		return slotFloat, nil
	case ipld.KindBytes, ipld.KindString, ipld.KindList, ipld.KindMap, ipld.KindLink:
		return slotBuffer, nil
	default: // ipld.KindNull
		return 0, fmt.Errorf("null (no declared option type to lower it against)")
	}
}

// coreTypesFor returns the core wasm value types an argument of kind k
// occupies in the component's parameter list, in order.
func coreTypesFor(k slotKind) []api.ValueType {
	switch k {
	case slotBool:
		return []api.ValueType{api.ValueTypeI32}
	case slotInt:
		return []api.ValueType{api.ValueTypeI64}
	case slotFloat:
		return []api.ValueType{api.ValueTypeF64}
	default: // slotBuffer
		return []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	}
}

func expectedTypesFor(slots []slotKind) []api.ValueType {
	var want []api.ValueType
	for _, sk := range slots {
		want = append(want, coreTypesFor(sk)...)
	}
	return want
}

func sameValueTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func valueTypeName(vt api.ValueType) string {
	switch vt {
	case api.ValueTypeI32:
		return "i32"
	case api.ValueTypeI64:
		return "i64"
	case api.ValueTypeF32:
		return "f32"
	case api.ValueTypeF64:
		return "f64"
	default:
		return "v128"
	}
}

func valueTypesString(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = valueTypeName(t)
	}
	return fmt.Sprintf("%v", names)
}

// encodeBuffer DAG-CBOR-encodes a single Ipld value for the buffer-slot
// calling convention.
func encodeBuffer(n ipld.Node) ([]byte, error) {
	data, err := ipld.Encode(n)
	if err != nil {
		return nil, fmt.Errorf("wasmhost: encode argument: %w", err)
	}
	return data, nil
}

// decodeBuffer reverses encodeBuffer for a result read back from linear
// memory.
func decodeBuffer(data []byte) (ipld.Node, error) {
	n, err := ipld.Decode(data)
	if err != nil {
		return ipld.Node{}, &TypeMismatchError{Expected: "a dag-cbor-encoded result buffer", Got: err.Error()}
	}
	return n, nil
}


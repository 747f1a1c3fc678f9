package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/homestar-labs/homestar/ipld"
)

// Codec names a wire encoding a workflow document may arrive in.
type Codec string

const (
	CodecDagCBOR Codec = "dag-cbor"
	CodecDagJSON Codec = "dag-json"
)

// CodecForExtension maps a file extension (as presented over the admission
// API) to a Codec. An unrecognized extension yields
// UnsupportedWorkflowError, as does Parse for an unknown Codec.
func CodecForExtension(ext string) (Codec, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "cbor", "dagcbor":
		return CodecDagCBOR, nil
	case "json", "dagjson":
		return CodecDagJSON, nil
	default:
		return "", &UnsupportedWorkflowError{Format: ext}
	}
}

// Parse decodes a workflow document in the given codec and validates it
// into a Workflow.
func Parse(data []byte, codec Codec) (*Workflow, error) {
	var raw wireWorkflow
	switch codec {
	case CodecDagCBOR:
		if err := cbor.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("workflow: decode dag-cbor: %w", err)
		}
	case CodecDagJSON:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("workflow: decode dag-json: %w", err)
		}
	default:
		return nil, &UnsupportedWorkflowError{Format: string(codec)}
	}
	return raw.toWorkflow()
}

// wireWorkflow mirrors the top-level wire shape: { "tasks": [Invocation, ...] }.
type wireWorkflow struct {
	Tasks []wireInvocation `json:"tasks" cbor:"tasks"`
}

type wireInvocation struct {
	V    string                 `json:"v" cbor:"v"`
	Iss  string                 `json:"iss,omitempty" cbor:"iss,omitempty"`
	Aud  string                 `json:"aud,omitempty" cbor:"aud,omitempty"`
	Run  wireRun                `json:"run" cbor:"run"`
	Meta map[string]interface{} `json:"meta,omitempty" cbor:"meta,omitempty"`
	Prf  []string               `json:"prf,omitempty" cbor:"prf,omitempty"`
	Nnc  string                 `json:"nnc" cbor:"nnc"`
}

type wireRun struct {
	Op    string    `json:"op" cbor:"op"`
	Rsc   string    `json:"rsc" cbor:"rsc"`
	Input wireInput `json:"input" cbor:"input"`
}

type wireInput struct {
	Func string        `json:"func" cbor:"func"`
	Args []interface{} `json:"args" cbor:"args"`
}

func (w wireWorkflow) toWorkflow() (*Workflow, error) {
	tasks := make([]Task, len(w.Tasks))
	for i, wi := range w.Tasks {
		t, err := wi.toTask()
		if err != nil {
			return nil, fmt.Errorf("workflow: task %d: %w", i, err)
		}
		tasks[i] = t
	}
	return NewWorkflow(tasks)
}

func (wi wireInvocation) toTask() (Task, error) {
	if wi.V != "" && wi.V != Version {
		return Task{}, fmt.Errorf("unsupported invocation version %q", wi.V)
	}
	if wi.Run.Op != WasmRunAbility {
		return Task{}, fmt.Errorf("unsupported ability %q", wi.Run.Op)
	}
	rsc, err := ipld.ParseCid(wi.Run.Rsc)
	if err != nil {
		return Task{}, fmt.Errorf("invalid resource cid %q: %w", wi.Run.Rsc, err)
	}

	args := make([]InputValue, len(wi.Run.Input.Args))
	for i, raw := range wi.Run.Input.Args {
		v, err := toInputValue(raw)
		if err != nil {
			return Task{}, fmt.Errorf("arg %d: %w", i, err)
		}
		args[i] = v
	}

	proofs := make([]ipld.Cid, len(wi.Prf))
	for i, p := range wi.Prf {
		c, err := ipld.ParseCid(p)
		if err != nil {
			return Task{}, fmt.Errorf("invalid proof cid %q: %w", p, err)
		}
		proofs[i] = c
	}

	meta := make(map[string]ipld.Node, len(wi.Meta))
	for k, v := range wi.Meta {
		n, err := toLiteralNode(v)
		if err != nil {
			return Task{}, fmt.Errorf("meta %q: %w", k, err)
		}
		meta[k] = n
	}

	inv := Invocation{
		Issuer:   wi.Iss,
		Audience: wi.Aud,
		Ability:  wi.Run.Op,
		Resource: rsc,
		Func:     wi.Run.Input.Func,
		Args:     args,
		Meta:     meta,
		Proofs:   proofs,
		Nonce:    wi.Nnc,
	}
	return Task{Invocation: inv}, nil
}

// toInputValue distinguishes a promise (a single-key map keyed
// "await/ok"|"await/err"|"await/*") from a literal value. raw was produced
// by either encoding/json or fxamacker/cbor decoding into interface{}, so
// map values may surface as map[string]interface{} (JSON) or
// map[interface{}]interface{} (CBOR).
func toInputValue(raw interface{}) (InputValue, error) {
	if m, ok := asGenericMap(raw); ok && len(m) == 1 {
		for k, v := range m {
			sel, isPromise := promiseSelector(k)
			if !isPromise {
				break
			}
			cidStr, ok := v.(string)
			if !ok {
				return InputValue{}, fmt.Errorf("promise target must be a cid string")
			}
			c, err := ipld.ParseCid(cidStr)
			if err != nil {
				return InputValue{}, fmt.Errorf("invalid promise cid %q: %w", cidStr, err)
			}
			return PromiseValue(c, sel), nil
		}
	}
	n, err := toLiteralNode(raw)
	if err != nil {
		return InputValue{}, err
	}
	return LiteralValue(n), nil
}

func promiseSelector(key string) (Selector, bool) {
	switch key {
	case "await/ok":
		return SelectorOk, true
	case "await/err":
		return SelectorErr, true
	case "await/*":
		return SelectorAny, true
	default:
		return "", false
	}
}

func asGenericMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// toLiteralNode converts a generic decoded value (from json or cbor) into
// an Ipld Node.
func toLiteralNode(v interface{}) (ipld.Node, error) {
	switch x := v.(type) {
	case nil:
		return ipld.Null(), nil
	case bool:
		return ipld.Bool(x), nil
	case string:
		return ipld.String(x), nil
	case []byte:
		return ipld.Bytes(x), nil
	case int64:
		return ipld.Int(x), nil
	case uint64:
		return ipld.Int(int64(x)), nil
	case float64:
		// encoding/json decodes all JSON numbers as float64; preserve
		// integral JSON numbers as Ipld integers.
		if x == float64(int64(x)) {
			return ipld.Int(int64(x)), nil
		}
		return ipld.Float(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return ipld.Int(i), nil
		}
		f, err := strconv.ParseFloat(x.String(), 64)
		if err != nil {
			return ipld.Node{}, fmt.Errorf("invalid number %q", x)
		}
		return ipld.Float(f), nil
	case []interface{}:
		items := make([]ipld.Node, len(x))
		for i, e := range x {
			n, err := toLiteralNode(e)
			if err != nil {
				return ipld.Node{}, err
			}
			items[i] = n
		}
		return ipld.List(items...), nil
	default:
		if m, ok := asGenericMap(v); ok {
			out := make(map[string]ipld.Node, len(m))
			for k, val := range m {
				n, err := toLiteralNode(val)
				if err != nil {
					return ipld.Node{}, err
				}
				out[k] = n
			}
			return ipld.Map(out), nil
		}
		return ipld.Node{}, fmt.Errorf("unsupported literal value %T", v)
	}
}

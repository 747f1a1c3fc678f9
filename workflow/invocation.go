package workflow

import (
	"fmt"

	"github.com/homestar-labs/homestar/ipld"
)

// Version is the invocation-spec version this runtime admits. Wire parsing
// rejects an invocation carrying any other non-empty "v"; an absent "v" is
// accepted.
const Version = "0.2.0"

// WasmRunAbility is the only ability this runtime currently executes.
const WasmRunAbility = "wasm/run"

// Selector names which branch of a dependency's Result a Promise reads.
type Selector string

const (
	SelectorOk  Selector = "ok"
	SelectorErr Selector = "err"
	SelectorAny Selector = "any"
)

// Promise is a deferred reference to another task's outcome, resolved at
// dispatch time by the Worker.
type Promise struct {
	TaskCID  ipld.Cid
	Selector Selector
}

// InputValue is either an inline Ipld literal or a Promise. Exactly one of
// Literal/Promise is set.
type InputValue struct {
	Literal *ipld.Node
	Promise *Promise
}

// IsPromise reports whether this input is a deferred reference.
func (v InputValue) IsPromise() bool { return v.Promise != nil }

// LiteralValue returns a literal InputValue.
func LiteralValue(n ipld.Node) InputValue { return InputValue{Literal: &n} }

// PromiseValue returns a promise InputValue.
func PromiseValue(taskCID ipld.Cid, sel Selector) InputValue {
	return InputValue{Promise: &Promise{TaskCID: taskCID, Selector: sel}}
}

// Invocation is a signed statement of intent: run an ability on a resource
// with a sequence of input arguments. It is immutable once constructed; its
// CID is the DAG-CBOR hash of its canonical Node form.
type Invocation struct {
	Issuer    string
	Audience  string
	Ability   string
	Resource  ipld.Cid // the Wasm component to run
	Func      string   // exported function name on the component
	Args      []InputValue
	Meta      map[string]ipld.Node
	Proofs    []ipld.Cid
	Nonce     string
}

// Node renders the invocation as its canonical Ipld form, matching the wire
// shape: {v, iss?, aud?, run: {op, rsc, input: {func,
// args}}, meta, prf, nnc}.
func (inv Invocation) Node() (ipld.Node, error) {
	args := make([]ipld.Node, len(inv.Args))
	for i, a := range inv.Args {
		n, err := inputValueNode(a)
		if err != nil {
			return ipld.Node{}, fmt.Errorf("invocation: arg %d: %w", i, err)
		}
		args[i] = n
	}

	proofs := make([]ipld.Node, len(inv.Proofs))
	for i, p := range inv.Proofs {
		proofs[i] = ipld.Link(p)
	}

	meta := make(map[string]ipld.Node, len(inv.Meta))
	for k, v := range inv.Meta {
		meta[k] = v
	}

	fields := map[string]ipld.Node{
		"v": ipld.String(Version),
		"run": ipld.Map(map[string]ipld.Node{
			"op":  ipld.String(inv.Ability),
			"rsc": ipld.Link(inv.Resource),
			"input": ipld.Map(map[string]ipld.Node{
				"func": ipld.String(inv.Func),
				"args": ipld.List(args...),
			}),
		}),
		"meta": ipld.Map(meta),
		"prf":  ipld.List(proofs...),
		"nnc":  ipld.String(inv.Nonce),
	}
	if inv.Issuer != "" {
		fields["iss"] = ipld.String(inv.Issuer)
	}
	if inv.Audience != "" {
		fields["aud"] = ipld.String(inv.Audience)
	}
	return ipld.Map(fields), nil
}

// CID computes the invocation's content identifier. Two tasks sharing the
// same CID are, by definition, the same task; Workflow
// construction uses this to detect duplicates.
func (inv Invocation) CID() (ipld.Cid, error) {
	n, err := inv.Node()
	if err != nil {
		return ipld.UndefCid, err
	}
	return ipld.CID(n)
}

func inputValueNode(v InputValue) (ipld.Node, error) {
	if v.IsPromise() {
		key := "await/" + string(v.Promise.Selector)
		if v.Promise.Selector == SelectorAny {
			key = "await/*"
		}
		return ipld.Map(map[string]ipld.Node{
			key: ipld.Link(v.Promise.TaskCID),
		}), nil
	}
	if v.Literal == nil {
		return ipld.Node{}, fmt.Errorf("input value has neither literal nor promise")
	}
	return *v.Literal, nil
}

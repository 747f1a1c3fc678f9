// Package receipt defines the content-addressed result of executing a
// task, the abstract Receipt Store the core depends on, and two
// concrete stores: an in-memory map for tests and single-node runs, and a
// SQLite-backed store matching the node's persisted schema.
package receipt

import (
	"fmt"

	"github.com/homestar-labs/homestar/ipld"
)

// ResultKind distinguishes a successful outcome from a failed one.
type ResultKind uint8

const (
	ResultOk ResultKind = iota
	ResultErr
)

// Result is a task's outcome: Ok(value) or Err(value).
type Result struct {
	Kind  ResultKind
	Value ipld.Node
}

// Ok constructs a successful result.
func Ok(v ipld.Node) Result { return Result{Kind: ResultOk, Value: v} }

// Err constructs a failed result.
func Err(v ipld.Node) Result { return Result{Kind: ResultErr, Value: v} }

// IsOk reports whether the result is successful.
func (r Result) IsOk() bool { return r.Kind == ResultOk }

func (r Result) node() ipld.Node {
	tag := "ok"
	if r.Kind == ResultErr {
		tag = "error"
	}
	return ipld.List(ipld.String(tag), r.Value)
}

// Well-known meta keys.
const (
	MetaOp           = "op"
	MetaWorkflow     = "workflow"
	MetaWorkflowName = "workflow_name"
	MetaReplayed     = "replayed"
)

// Receipt is the content-addressed result of executing a task. Once
// constructed it is immutable; stores are append-only.
type Receipt struct {
	Ran     ipld.Cid
	Out     Result
	Meta    map[string]ipld.Node
	Issuer  string
	Proofs  []ipld.Cid
	Version string
}

// New builds a Receipt with the required meta fields populated.
func New(ran ipld.Cid, out Result, op, workflowCID, workflowName string, replayed bool) Receipt {
	return Receipt{
		Ran: ran,
		Out: out,
		Meta: map[string]ipld.Node{
			MetaOp:           ipld.String(op),
			MetaWorkflow:     ipld.String(workflowCID),
			MetaWorkflowName: ipld.String(workflowName),
			MetaReplayed:     ipld.Bool(replayed),
		},
		Version: "0.2.0",
	}
}

// WithReplayed returns a copy of the receipt with meta.replayed set, used
// when adopting a locally- or peer-memoized result.
func (r Receipt) WithReplayed(replayed bool) Receipt {
	meta := make(map[string]ipld.Node, len(r.Meta))
	for k, v := range r.Meta {
		meta[k] = v
	}
	meta[MetaReplayed] = ipld.Bool(replayed)
	r.Meta = meta
	return r
}

// Replayed reports the receipt's meta.replayed flag.
func (r Receipt) Replayed() bool {
	v, ok := r.Meta[MetaReplayed]
	if !ok {
		return false
	}
	b, _ := v.AsBool()
	return b
}

// Node renders the receipt in its canonical wire form:
// {ran, out: ["ok"|"error", value], meta, iss, prf, version}.
func (r Receipt) Node() ipld.Node {
	proofs := make([]ipld.Node, len(r.Proofs))
	for i, p := range r.Proofs {
		proofs[i] = ipld.Link(p)
	}
	fields := map[string]ipld.Node{
		"ran":     ipld.Link(r.Ran),
		"out":     r.Out.node(),
		"meta":    ipld.Map(r.Meta),
		"prf":     ipld.List(proofs...),
		"version": ipld.String(r.Version),
	}
	if r.Issuer != "" {
		fields["iss"] = ipld.String(r.Issuer)
	}
	return ipld.Map(fields)
}

// CID computes the receipt's content identifier.
func (r Receipt) CID() (ipld.Cid, error) {
	return ipld.CID(r.Node())
}

// Encode serializes the receipt as DAG-CBOR, for pub/sub publication and
// SQLite storage.
func (r Receipt) Encode() ([]byte, error) {
	return ipld.Encode(r.Node())
}

// Verify checks that dagCBOR decodes to a receipt whose "ran" field equals
// wantTaskCID — the verification step the Memoization Coordinator performs
// on an incoming peer receipt before adopting it.
func Verify(dagCBOR []byte, wantTaskCID ipld.Cid) (Receipt, error) {
	n, err := ipld.Decode(dagCBOR)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: decode: %w", err)
	}
	r, err := fromNode(n)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: malformed: %w", err)
	}
	if !r.Ran.Equals(wantTaskCID) {
		return Receipt{}, fmt.Errorf("receipt: ran %s does not match expected task %s", r.Ran, wantTaskCID)
	}
	return r, nil
}

func fromNode(n ipld.Node) (Receipt, error) {
	fields, ok := n.AsMap()
	if !ok {
		return Receipt{}, fmt.Errorf("expected map")
	}
	ranNode, ok := fields["ran"]
	if !ok {
		return Receipt{}, fmt.Errorf("missing ran")
	}
	ran, ok := ranNode.AsLink()
	if !ok {
		return Receipt{}, fmt.Errorf("ran is not a link")
	}
	outNode, ok := fields["out"]
	if !ok {
		return Receipt{}, fmt.Errorf("missing out")
	}
	outList, ok := outNode.AsList()
	if !ok || len(outList) != 2 {
		return Receipt{}, fmt.Errorf("malformed out")
	}
	tag, ok := outList[0].AsString()
	if !ok {
		return Receipt{}, fmt.Errorf("malformed out tag")
	}
	var out Result
	switch tag {
	case "ok":
		out = Ok(outList[1])
	case "error":
		out = Err(outList[1])
	default:
		return Receipt{}, fmt.Errorf("unknown out tag %q", tag)
	}

	meta := map[string]ipld.Node{}
	if metaNode, ok := fields["meta"]; ok {
		if m, ok := metaNode.AsMap(); ok {
			meta = m
		}
	}

	var proofs []ipld.Cid
	if prfNode, ok := fields["prf"]; ok {
		if list, ok := prfNode.AsList(); ok {
			for _, p := range list {
				c, ok := p.AsLink()
				if !ok {
					return Receipt{}, fmt.Errorf("malformed proof")
				}
				proofs = append(proofs, c)
			}
		}
	}

	version := "0.2.0"
	if v, ok := fields["version"]; ok {
		if s, ok := v.AsString(); ok {
			version = s
		}
	}
	issuer := ""
	if v, ok := fields["iss"]; ok {
		if s, ok := v.AsString(); ok {
			issuer = s
		}
	}

	return Receipt{Ran: ran, Out: out, Meta: meta, Issuer: issuer, Proofs: proofs, Version: version}, nil
}

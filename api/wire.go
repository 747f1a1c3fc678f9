package api

import (
	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/worker"
)

// eventKindNames mirrors worker.EventKind for JSON rendering.
var eventKindNames = map[worker.EventKind]string{
	worker.EventBatchStarted:      "batch_started",
	worker.EventTaskResolved:      "task_resolved",
	worker.EventTaskFailed:        "task_failed",
	worker.EventWorkflowCompleted: "workflow_completed",
	worker.EventWorkflowFailed:    "workflow_failed",
}

func eventToWire(e worker.Event) map[string]any {
	out := map[string]any{
		"kind":         eventKindNames[e.Kind],
		"workflow_cid": e.WorkflowCID.String(),
	}
	switch e.Kind {
	case worker.EventBatchStarted:
		out["batch_index"] = e.BatchIndex
		out["batch_size"] = e.BatchSize
	case worker.EventTaskResolved, worker.EventTaskFailed:
		out["task_cid"] = e.TaskCID.String()
		out["replayed"] = e.Replayed
		if e.Err != nil {
			out["error"] = e.Err.Error()
		}
	case worker.EventWorkflowFailed:
		if e.Err != nil {
			out["error"] = e.Err.Error()
		}
	}
	return out
}

func receiptToWire(r receipt.Receipt) map[string]any {
	outTag := "ok"
	if !r.Out.IsOk() {
		outTag = "error"
	}
	meta := make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		meta[k] = NodeToJSON(v)
	}
	proofs := make([]string, len(r.Proofs))
	for i, p := range r.Proofs {
		proofs[i] = p.String()
	}
	return map[string]any{
		"ran":     r.Ran.String(),
		"out":     []any{outTag, NodeToJSON(r.Out.Value)},
		"meta":    meta,
		"issuer":  r.Issuer,
		"proofs":  proofs,
		"version": r.Version,
	}
}

// NodeToJSON renders an Ipld Node as a plain Go value suitable for
// encoding/json, the inverse of the literal half of workflow parsing. The
// CLI reuses it for its human-readable receipt output.
func NodeToJSON(n ipld.Node) any {
	switch n.Kind() {
	case ipld.KindNull:
		return nil
	case ipld.KindBool:
		v, _ := n.AsBool()
		return v
	case ipld.KindInt:
		v, _ := n.AsInt()
		return v
	case ipld.KindFloat:
		v, _ := n.AsFloat()
		return v
	case ipld.KindBytes:
		v, _ := n.AsBytes()
		return v
	case ipld.KindString:
		v, _ := n.AsString()
		return v
	case ipld.KindList:
		items, _ := n.AsList()
		out := make([]any, len(items))
		for i, it := range items {
			out[i] = NodeToJSON(it)
		}
		return out
	case ipld.KindMap:
		fields, _ := n.AsMap()
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = NodeToJSON(v)
		}
		return out
	case ipld.KindLink:
		v, _ := n.AsLink()
		return v.String()
	default:
		return nil
	}
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/receipt"
	"github.com/homestar-labs/homestar/worker"
	"github.com/homestar-labs/homestar/workflow"
)

type stubRunner struct {
	wf     *workflow.Workflow
	events chan worker.Event
	err    error
}

func (s *stubRunner) Submit(_ context.Context, _ []byte, _ workflow.Codec) (*workflow.Workflow, <-chan worker.Event, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.wf, s.events, nil
}

func singleTaskWorkflow(t *testing.T) *workflow.Workflow {
	t.Helper()
	rsc, err := ipld.CID(ipld.String("add.wasm"))
	require.NoError(t, err)
	inv := workflow.Invocation{
		Ability:  workflow.WasmRunAbility,
		Resource: rsc,
		Func:     "add-two",
		Args:     []workflow.InputValue{workflow.LiteralValue(ipld.Int(40))},
		Nonce:    "n1",
	}
	wf, err := workflow.NewWorkflow([]workflow.Task{{Invocation: inv}})
	require.NoError(t, err)
	return wf
}

func TestHealthz(t *testing.T) {
	s := NewServer(&stubRunner{}, receipt.NewMemoryStore(), ":0")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitWorkflow(t *testing.T) {
	wf := singleTaskWorkflow(t)
	events := make(chan worker.Event)
	close(events)

	s := NewServer(&stubRunner{wf: wf, events: events}, receipt.NewMemoryStore(), ":0")

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"tasks":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["num_tasks"])
	wfCID, err := wf.CID()
	require.NoError(t, err)
	require.Equal(t, wfCID.String(), body["workflow_cid"])
}

func TestGetReceiptNotFound(t *testing.T) {
	s := NewServer(&stubRunner{}, receipt.NewMemoryStore(), ":0")
	rsc, err := ipld.CID(ipld.String("missing"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/receipts/"+rsc.String(), nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetReceiptFound(t *testing.T) {
	store := receipt.NewMemoryStore()
	wf := singleTaskWorkflow(t)
	taskCID, err := wf.Tasks()[0].CID()
	require.NoError(t, err)

	r := receipt.New(taskCID, receipt.Ok(ipld.Int(42)), workflow.WasmRunAbility, "wf-cid", "", false)
	require.NoError(t, store.PutReceipt(context.Background(), r))

	s := NewServer(&stubRunner{}, store, ":0")
	req := httptest.NewRequest(http.MethodGet, "/receipts/"+taskCID.String(), nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, taskCID.String(), body["ran"])
}

func TestWorkflowStatus(t *testing.T) {
	wf := singleTaskWorkflow(t)
	events := make(chan worker.Event)
	close(events)
	store := receipt.NewMemoryStore()
	s := NewServer(&stubRunner{wf: wf, events: events}, store, ":0")

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"tasks":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	wfCID, err := wf.CID()
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/workflows/"+wfCID.String(), nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["num_tasks"])
	require.Equal(t, float64(0), body["resolved_tasks"])
	require.Equal(t, "running", body["status"])

	// Once every task has a receipt, the summary flips to completed.
	taskCID, err := wf.Tasks()[0].CID()
	require.NoError(t, err)
	r := receipt.New(taskCID, receipt.Ok(ipld.Int(42)), workflow.WasmRunAbility, wfCID.String(), "", false)
	require.NoError(t, store.PutReceipt(context.Background(), r))

	req = httptest.NewRequest(http.MethodGet, "/workflows/"+wfCID.String(), nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, float64(1), body["resolved_tasks"])
	require.Equal(t, "completed", body["status"])
}

func TestWorkflowStatusUnknownCID(t *testing.T) {
	s := NewServer(&stubRunner{}, receipt.NewMemoryStore(), ":0")
	req := httptest.NewRequest(http.MethodGet, "/workflows/bafy-unknown", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitWorkflowAdmissionFailureIsBadRequest(t *testing.T) {
	s := NewServer(&stubRunner{err: &workflow.UnsupportedWorkflowError{Format: "yaml"}}, receipt.NewMemoryStore(), ":0")
	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"tasks":[]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowEventsUnknownCID(t *testing.T) {
	s := NewServer(&stubRunner{}, receipt.NewMemoryStore(), ":0")
	req := httptest.NewRequest(http.MethodGet, "/workflows/bafy-unknown/events", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

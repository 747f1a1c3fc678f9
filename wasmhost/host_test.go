package wasmhost

import (
	"context"
	"strings"
	"testing"

	"github.com/homestar-labs/homestar/ipld"
	"github.com/homestar-labs/homestar/workflow"
)

func TestSlotFor_NullIsAlwaysAMismatch(t *testing.T) {
	if _, err := slotFor(ipld.Null()); err == nil {
		t.Fatal("expected null to have no lowering")
	}
}

func TestDecodeBuffer_RejectsMalformedBytes(t *testing.T) {
	if _, err := decodeBuffer([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("expected decode error for malformed bytes")
	} else if _, ok := err.(*TypeMismatchError); !ok {
		t.Errorf("expected *TypeMismatchError, got %T", err)
	}
}

func TestHost_CloseIsIdempotentOnEmptyHost(t *testing.T) {
	h := NewHost(nil)
	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHost_Execute_UnknownExport(t *testing.T) {
	h := NewHost(nil)
	defer h.Close(context.Background())

	out, err := h.Execute(context.Background(), fixtureModule(), "no-such-func", nil, workflow.Resources{})
	if err == nil {
		t.Fatalf("expected a Go error for a missing export, got result %v", out)
	}
}

// TestHost_Execute_AddTwo_EndToEnd runs a real compiled component
// (hand-assembled, see fixture_test.go) exercises the scalar marshaling
// path end to end with no blob/DAG-CBOR indirection.
func TestHost_Execute_AddTwo_EndToEnd(t *testing.T) {
	h := NewHost(nil)
	defer h.Close(context.Background())

	out, err := h.Execute(context.Background(), fixtureModule(), "add-two", []ipld.Node{ipld.Int(40)}, workflow.Resources{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.IsOk() {
		t.Fatalf("expected an Ok result, got %v", out)
	}
	v, ok := out.Value.AsInt()
	if !ok || v != 42 {
		t.Errorf("expected 42, got %v", out.Value)
	}
}

func TestHost_Execute_AddTwo_WrongArgKindIsTypeMismatch(t *testing.T) {
	h := NewHost(nil)
	defer h.Close(context.Background())

	// add-two's single declared parameter is i64 (an Integer slot); handing
	// it a String must fail before any call into the guest.
	out, err := h.Execute(context.Background(), fixtureModule(), "add-two", []ipld.Node{ipld.String("nope")}, workflow.Resources{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsOk() {
		t.Fatal("expected an Err result for a type mismatch")
	}
	msg, _ := out.Value.AsString()
	if !strings.Contains(msg, "type mismatch") {
		t.Errorf("expected a type mismatch message, got %q", msg)
	}
}

// TestHost_Execute_Fuel_Exhaustion_EndToEnd: "spin" loops
// forever, so a small fuel budget must surface as OutOfFuel within bounded
// wall time rather than hanging.
func TestHost_Execute_Fuel_Exhaustion_EndToEnd(t *testing.T) {
	h := NewHost(nil)
	defer h.Close(context.Background())

	fuel := uint64(1000)
	out, err := h.Execute(context.Background(), fixtureModule(), "spin", nil, workflow.Resources{Fuel: &fuel})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.IsOk() {
		t.Fatal("expected an Err result from fuel exhaustion")
	}
	msg, _ := out.Value.AsString()
	if !strings.Contains(msg, "out of fuel") {
		t.Errorf("expected an out-of-fuel message, got %q", msg)
	}
}

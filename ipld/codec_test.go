package ipld

import "testing"

func TestRoundTrip(t *testing.T) {
	link, err := computeCID([]byte("component bytes"))
	if err != nil {
		t.Fatalf("computeCID: %v", err)
	}

	cases := []Node{
		Null(),
		Bool(true),
		Bool(false),
		Int(42),
		Int(-7),
		Float(3.14),
		Bytes([]byte{0x01, 0x02, 0x03}),
		String("wasm/run"),
		List(Int(1), Int(2), Int(3)),
		Map(map[string]Node{
			"ability": String("wasm/run"),
			"input":   List(Int(40)),
		}),
		Link(link),
		List(Map(map[string]Node{"a": Int(1)}), Map(map[string]Node{"b": Link(link)})),
	}

	for _, n := range cases {
		data, err := Encode(n)
		if err != nil {
			t.Fatalf("Encode(%v): %v", n, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if !n.Equal(got) {
			t.Errorf("round-trip mismatch: want %v, got %v", n, got)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	a := Map(map[string]Node{
		"z": Int(1),
		"a": Int(2),
		"m": Int(3),
	})
	b := Map(map[string]Node{
		"m": Int(3),
		"a": Int(2),
		"z": Int(1),
	})

	da, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode(a): %v", err)
	}
	db, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode(b): %v", err)
	}
	if string(da) != string(db) {
		t.Errorf("expected identical byte encoding regardless of map construction order")
	}
}

func TestCIDEqualForEqualValues(t *testing.T) {
	a := Map(map[string]Node{"x": Int(1), "y": String("hi")})
	b := Map(map[string]Node{"y": String("hi"), "x": Int(1)})

	ca, err := CID(a)
	if err != nil {
		t.Fatalf("CID(a): %v", err)
	}
	cb, err := CID(b)
	if err != nil {
		t.Fatalf("CID(b): %v", err)
	}
	if !ca.Equals(cb) {
		t.Errorf("expected equal CIDs for equal logical values, got %s != %s", ca, cb)
	}
}

func TestCIDOfDecodedMatchesOriginal(t *testing.T) {
	n := List(Int(1), String("two"), Bool(true))
	data, err := Encode(n)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	c1, err := CID(n)
	if err != nil {
		t.Fatalf("CID(n): %v", err)
	}
	c2, err := CID(decoded)
	if err != nil {
		t.Fatalf("CID(decoded): %v", err)
	}
	if !c1.Equals(c2) {
		t.Errorf("cid(x) != cid(decode(encode(x))): %s != %s", c1, c2)
	}
}

func TestDecodeUnsupportedTag(t *testing.T) {
	// CBOR tag 0 (RFC3339 date string) is not a link and must be rejected.
	data := []byte{0xc0, 0x64, 't', 'e', 's', 't'}
	if _, err := Decode(data); err == nil {
		t.Errorf("expected error decoding unsupported tag")
	}
}

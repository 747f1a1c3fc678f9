// Package ipld implements the schema-less content-addressed value model
// (null, bool, integer, float, bytes, string, list, map, link) used to
// describe invocations, tasks, workflows and receipts, along with the
// canonical DAG-CBOR encoding that backs content addressing.
package ipld

import "fmt"

// Kind identifies the shape of a Node.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindBytes
	KindString
	KindList
	KindMap
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// Node is an immutable Ipld value. The zero value is Null.
type Node struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	by   []byte
	s    string
	list []Node
	m    map[string]Node
	link Cid
}

// Null returns the Ipld null value.
func Null() Node { return Node{kind: KindNull} }

// Bool wraps a boolean value.
func Bool(v bool) Node { return Node{kind: KindBool, b: v} }

// Int wraps a signed integer value. Homestar represents integers as
// int64; values outside that range are rejected at decode time.
func Int(v int64) Node { return Node{kind: KindInt, i: v} }

// Float wraps a float64 value.
func Float(v float64) Node { return Node{kind: KindFloat, f: v} }

// Bytes wraps a byte-string value. The slice is not copied; callers must
// not mutate it after constructing the Node.
func Bytes(v []byte) Node { return Node{kind: KindBytes, by: v} }

// String wraps a UTF-8 string value.
func String(v string) Node { return Node{kind: KindString, s: v} }

// List wraps an ordered sequence of values.
func List(items ...Node) Node { return Node{kind: KindList, list: items} }

// Map wraps a string-keyed map of values. Key order does not affect
// equality or the encoded CID; Encode sorts keys length-first, then
// bytewise (see Encode).
func Map(fields map[string]Node) Node { return Node{kind: KindMap, m: fields} }

// Link wraps a reference to another content-addressed value.
func Link(c Cid) Node { return Node{kind: KindLink, link: c} }

// Kind reports the Node's shape.
func (n Node) Kind() Kind { return n.kind }

// AsBool returns the wrapped boolean; ok is false if Kind() != KindBool.
func (n Node) AsBool() (v bool, ok bool) { return n.b, n.kind == KindBool }

// AsInt returns the wrapped integer; ok is false if Kind() != KindInt.
func (n Node) AsInt() (v int64, ok bool) { return n.i, n.kind == KindInt }

// AsFloat returns the wrapped float; ok is false if Kind() != KindFloat.
func (n Node) AsFloat() (v float64, ok bool) { return n.f, n.kind == KindFloat }

// AsBytes returns the wrapped byte string; ok is false if Kind() != KindBytes.
func (n Node) AsBytes() (v []byte, ok bool) { return n.by, n.kind == KindBytes }

// AsString returns the wrapped string; ok is false if Kind() != KindString.
func (n Node) AsString() (v string, ok bool) { return n.s, n.kind == KindString }

// AsList returns the wrapped slice; ok is false if Kind() != KindList.
func (n Node) AsList() (v []Node, ok bool) { return n.list, n.kind == KindList }

// AsMap returns the wrapped map; ok is false if Kind() != KindMap.
func (n Node) AsMap() (v map[string]Node, ok bool) { return n.m, n.kind == KindMap }

// AsLink returns the wrapped CID; ok is false if Kind() != KindLink.
func (n Node) AsLink() (v Cid, ok bool) { return n.link, n.kind == KindLink }

// Equal reports whether n and other are structurally identical.
func (n Node) Equal(other Node) bool {
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindNull:
		return true
	case KindBool:
		return n.b == other.b
	case KindInt:
		return n.i == other.i
	case KindFloat:
		return n.f == other.f
	case KindBytes:
		return string(n.by) == string(other.by)
	case KindString:
		return n.s == other.s
	case KindList:
		if len(n.list) != len(other.list) {
			return false
		}
		for i := range n.list {
			if !n.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(n.m) != len(other.m) {
			return false
		}
		for k, v := range n.m {
			ov, ok := other.m[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	case KindLink:
		return n.link.Equals(other.link)
	default:
		return false
	}
}

func (n Node) String() string {
	switch n.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", n.b)
	case KindInt:
		return fmt.Sprintf("%d", n.i)
	case KindFloat:
		return fmt.Sprintf("%g", n.f)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(n.by))
	case KindString:
		return fmt.Sprintf("%q", n.s)
	case KindList:
		return fmt.Sprintf("list(%d)", len(n.list))
	case KindMap:
		return fmt.Sprintf("map(%d)", len(n.m))
	case KindLink:
		return fmt.Sprintf("link(%s)", n.link.String())
	default:
		return "invalid"
	}
}

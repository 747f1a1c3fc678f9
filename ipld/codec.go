package ipld

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// linkTag is the CBOR tag reserved for IPLD links (CIDs) in DAG-CBOR.
const linkTag = 42

// multibaseIdentityPrefix marks an identity (no further encoding) multibase
// prefix byte, prepended to CID bytes inside a tag-42 link per the DAG-CBOR
// convention.
const multibaseIdentityPrefix = 0x00

var canonicalEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("ipld: building canonical encode mode: %v", err))
	}
	return mode
}()

// Encode produces the canonical DAG-CBOR encoding of n: map keys sorted
// length-first (shorter keys before longer ones, keys of equal length in
// byte order), which is not plain lexicographic order ("b" sorts before
// "aa"); integers encoded in their minimal form. Two structurally-equal
// Nodes always encode to the same bytes.
func Encode(n Node) ([]byte, error) {
	v, err := toPlain(n)
	if err != nil {
		return nil, err
	}
	return canonicalEncMode.Marshal(v)
}

// Decode parses DAG-CBOR bytes back into a Node.
func Decode(data []byte) (Node, error) {
	var v interface{}
	if err := cbor.Unmarshal(data, &v); err != nil {
		return Node{}, fmt.Errorf("ipld: decode: %w", err)
	}
	return fromPlain(v)
}

// toPlain converts a Node into the plain Go value cbor.Marshal expects,
// recursively. Links become CBOR tag 42 per the DAG-CBOR convention.
func toPlain(n Node) (interface{}, error) {
	switch n.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return n.b, nil
	case KindInt:
		return n.i, nil
	case KindFloat:
		return n.f, nil
	case KindBytes:
		return n.by, nil
	case KindString:
		return n.s, nil
	case KindList:
		out := make([]interface{}, len(n.list))
		for i, item := range n.list {
			v, err := toPlain(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case KindMap:
		out := make(map[string]interface{}, len(n.m))
		for k, item := range n.m {
			v, err := toPlain(item)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case KindLink:
		content := append([]byte{multibaseIdentityPrefix}, n.link.Bytes()...)
		return cbor.Tag{Number: linkTag, Content: content}, nil
	default:
		return nil, fmt.Errorf("ipld: encode: unknown kind %v", n.kind)
	}
}

// fromPlain converts a cbor.Unmarshal(&interface{}) result back into a Node.
func fromPlain(v interface{}) (Node, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Node{}, fmt.Errorf("ipld: decode: integer %d overflows int64", x)
		}
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case []byte:
		return Bytes(x), nil
	case string:
		return String(x), nil
	case []interface{}:
		items := make([]Node, len(x))
		for i, e := range x {
			item, err := fromPlain(e)
			if err != nil {
				return Node{}, err
			}
			items[i] = item
		}
		return List(items...), nil
	case map[interface{}]interface{}:
		out := make(map[string]Node, len(x))
		for k, val := range x {
			ks, ok := k.(string)
			if !ok {
				return Node{}, fmt.Errorf("ipld: decode: non-string map key %T", k)
			}
			item, err := fromPlain(val)
			if err != nil {
				return Node{}, err
			}
			out[ks] = item
		}
		return Map(out), nil
	case map[string]interface{}:
		out := make(map[string]Node, len(x))
		for k, val := range x {
			item, err := fromPlain(val)
			if err != nil {
				return Node{}, err
			}
			out[k] = item
		}
		return Map(out), nil
	case cbor.Tag:
		if x.Number != linkTag {
			return Node{}, fmt.Errorf("ipld: decode: unsupported cbor tag %d", x.Number)
		}
		content, ok := x.Content.([]byte)
		if !ok || len(content) == 0 || content[0] != multibaseIdentityPrefix {
			return Node{}, fmt.Errorf("ipld: decode: malformed link tag")
		}
		c, err := ParseCidBytes(content[1:])
		if err != nil {
			return Node{}, fmt.Errorf("ipld: decode: malformed link cid: %w", err)
		}
		return Link(c), nil
	default:
		return Node{}, fmt.Errorf("ipld: decode: unsupported cbor value %T", v)
	}
}

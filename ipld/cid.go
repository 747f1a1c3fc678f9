package ipld

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"golang.org/x/crypto/sha3"
)

// Cid is a content identifier: a self-describing hash of codec + multihash.
type Cid = cid.Cid

// DagCBORCodec is the multicodec for DAG-CBOR (0x71), used for every CID
// minted by this package.
const DagCBORCodec = cid.DagCBOR

// UndefCid is the zero value of Cid, returned alongside errors.
var UndefCid = cid.Undef

// ParseCid parses the string form of a CID (base32-lower multibase by
// convention, per the component-model string mapping in the Wasm host).
func ParseCid(s string) (Cid, error) {
	return cid.Decode(s)
}

// ParseCidBytes casts the raw binary form of a CID (as embedded in a
// DAG-CBOR tag-42 link) back into a Cid.
func ParseCidBytes(b []byte) (Cid, error) {
	return cid.Cast(b)
}

// computeCID hashes data with SHA3-256 and wraps it as a CIDv1 DAG-CBOR
// multihash, per the Content Addresser contract.
func computeCID(data []byte) (Cid, error) {
	sum := sha3.Sum256(data)
	mhBytes, err := multihash.Encode(sum[:], multihash.SHA3_256)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(DagCBORCodec, mhBytes), nil
}

// CID computes the canonical CID of an Ipld value: DAG-CBOR encode, then
// SHA3-256 hash, then CIDv1 wrap. Equal logical values always produce equal
// CIDs (see Encode for the canonicalization rules).
func CID(n Node) (Cid, error) {
	data, err := Encode(n)
	if err != nil {
		return cid.Undef, err
	}
	return computeCID(data)
}

// CIDOfBytes wraps pre-encoded DAG-CBOR bytes (e.g. a wire payload received
// from a peer) as a CID, without re-encoding. Used to verify that a peer's
// claimed CID matches the bytes it actually sent.
func CIDOfBytes(dagCBOR []byte) (Cid, error) {
	return computeCID(dagCBOR)
}

// Package blobstore fetches the Wasm component bytes a Task's Resource CID
// refers to.
package blobstore

import (
	"context"

	"github.com/homestar-labs/homestar/ipld"
)

// Fetcher retrieves the bytes addressed by a component CID.
type Fetcher interface {
	Fetch(ctx context.Context, component ipld.Cid) ([]byte, error)
}

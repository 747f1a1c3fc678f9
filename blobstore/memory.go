package blobstore

import (
	"context"
	"fmt"

	"github.com/homestar-labs/homestar/ipld"
)

// MemoryFetcher is a Fetcher backed by an in-memory map, for tests.
type MemoryFetcher struct {
	components map[string][]byte
}

// NewMemoryFetcher builds a MemoryFetcher from a CID-keyed map of component
// bytes.
func NewMemoryFetcher(components map[ipld.Cid][]byte) *MemoryFetcher {
	m := make(map[string][]byte, len(components))
	for c, b := range components {
		m[c.String()] = b
	}
	return &MemoryFetcher{components: m}
}

func (f *MemoryFetcher) Fetch(_ context.Context, component ipld.Cid) ([]byte, error) {
	b, ok := f.components[component.String()]
	if !ok {
		return nil, fmt.Errorf("blobstore: no component registered for %s", component)
	}
	return b, nil
}

var _ Fetcher = (*MemoryFetcher)(nil)

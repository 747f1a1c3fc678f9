package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/homestar-labs/homestar/ipld"
)

// HTTPFetcher fetches component bytes from an IPFS HTTP gateway:
// "<gateway>/ipfs/<cid>".
type HTTPFetcher struct {
	Gateway string
	Client  *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher against the given gateway base URL
// (e.g. "https://ipfs.io").
func NewHTTPFetcher(gateway string) *HTTPFetcher {
	return &HTTPFetcher{Gateway: strings.TrimRight(gateway, "/"), Client: http.DefaultClient}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, component ipld.Cid) ([]byte, error) {
	url := fmt.Sprintf("%s/ipfs/%s", f.Gateway, component.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: build request: %w", err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blobstore: fetch %s: %w", component, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blobstore: fetch %s: gateway returned %s", component, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read body for %s: %w", component, err)
	}
	return data, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)

package receipt

import (
	"context"
	"sync"
	"time"

	"github.com/homestar-labs/homestar/ipld"
)

// MemoryStore is an in-memory Store, used by the core tests and by
// single-node runs that do not need durability across restarts.
type MemoryStore struct {
	mu         sync.RWMutex
	byTaskCID  map[string]Receipt
	links      map[string][]string
	completed  map[string]time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byTaskCID: make(map[string]Receipt),
		links:     make(map[string][]string),
		completed: make(map[string]time.Time),
	}
}

func (s *MemoryStore) FindReceipt(_ context.Context, taskCID ipld.Cid) (*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byTaskCID[taskCID.String()]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryStore) PutReceipt(_ context.Context, r Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.Ran.String()
	if _, exists := s.byTaskCID[key]; exists {
		return nil
	}
	s.byTaskCID[key] = r
	return nil
}

func (s *MemoryStore) LinkReceipt(_ context.Context, workflowCID, receiptCID ipld.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := workflowCID.String()
	s.links[key] = append(s.links[key], receiptCID.String())
	return nil
}

func (s *MemoryStore) MarkWorkflowComplete(_ context.Context, workflowCID ipld.Cid, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[workflowCID.String()] = at
	return nil
}

// CompletedAt reports when a workflow was marked complete, for tests.
func (s *MemoryStore) CompletedAt(workflowCID ipld.Cid) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.completed[workflowCID.String()]
	return t, ok
}

// LinkedReceipts returns the receipt CIDs linked to a workflow, for tests.
func (s *MemoryStore) LinkedReceipts(workflowCID ipld.Cid) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.links[workflowCID.String()]))
	copy(out, s.links[workflowCID.String()])
	return out
}

var _ Store = (*MemoryStore)(nil)

package memo

import (
	"context"
	"sync"
)

// MemoryPubSub is an in-process PubSub, used for single-node runs and
// tests. Each call to Subscribe gets its own buffered channel; Publish
// fans a payload out to every subscriber currently registered on the
// subject.
type MemoryPubSub struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

// NewMemoryPubSub returns an empty MemoryPubSub.
func NewMemoryPubSub() *MemoryPubSub {
	return &MemoryPubSub{subs: make(map[string][]chan []byte)}
}

func (m *MemoryPubSub) Publish(_ context.Context, subject string, payload []byte) error {
	m.mu.Lock()
	subs := append([]chan []byte(nil), m.subs[subject]...)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
	return nil
}

func (m *MemoryPubSub) Subscribe(_ context.Context, subject string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 16)
	m.mu.Lock()
	m.subs[subject] = append(m.subs[subject], ch)
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		peers := m.subs[subject]
		for i, c := range peers {
			if c == ch {
				m.subs[subject] = append(peers[:i], peers[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, unsubscribe, nil
}

var _ PubSub = (*MemoryPubSub)(nil)

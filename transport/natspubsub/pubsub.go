// Package natspubsub implements memo.PubSub over a raw NATS core
// connection, for peer want/receipt gossip between Homestar nodes.
// It uses plain pub/sub, not JetStream: receipts and wants are
// best-effort broadcast, not a durable stream.
package natspubsub

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// PubSub adapts a *nats.Conn to memo.PubSub.
type PubSub struct {
	nc *nats.Conn
}

// New wraps an already-connected *nats.Conn. The caller owns the
// connection's lifecycle (Close, reconnection policy, and so on).
func New(nc *nats.Conn) *PubSub {
	return &PubSub{nc: nc}
}

// Publish broadcasts payload on subject. Delivery is fire-and-forget: NATS
// core gives no guarantee a subscriber receives it.
func (p *PubSub) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("natspubsub: publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe returns a channel fed by a NATS core subscription on subject,
// and an unsubscribe function that unsubscribes (without draining) and
// closes the channel. The subscription is created synchronously so no message
// published after Subscribe returns is missed.
func (p *PubSub) Subscribe(ctx context.Context, subject string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)

	sub, err := p.nc.Subscribe(subject, func(m *nats.Msg) {
		select {
		case ch <- m.Data:
		default:
			// Slow consumer: drop rather than block NATS's delivery goroutine.
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("natspubsub: subscribe %s: %w", subject, err)
	}

	unsubscribe := func() {
		_ = sub.Unsubscribe()
		close(ch)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	return ch, unsubscribe, nil
}

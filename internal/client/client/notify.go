package client

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/jonboulle/clockwork"
)

const subscriberBuffer = 8

// notifier fans token events out to subscribers. A slow subscriber misses
// events rather than blocking the publisher.
type notifier struct {
	mu   sync.Mutex
	subs []chan models.TokenEvent
}

func (n *notifier) Subscribe() <-chan models.TokenEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan models.TokenEvent, subscriberBuffer)
	n.subs = append(n.subs, ch)
	return ch
}

func (n *notifier) publish(ev models.TokenEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// autoRefresh calls fn every interval until ctx is done.
func autoRefresh(ctx context.Context, clock clockwork.Clock, interval time.Duration, fn func(context.Context)) {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			fn(ctx)
		}
	}
}

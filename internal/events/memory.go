package events

import (
	"context"
	"sync"

	"github.com/careeros/careeros-back/internal/domain"
)

// MemoryBus is an in-process bus used when every component runs in one
// binary, and by tests. Same contract as the Redis bus: no delivery
// guarantee to a subscriber that cannot keep up.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[int]chan domain.Event
	next int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]chan domain.Event)}
}

func (b *MemoryBus) Publish(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, 64)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	stop := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, stop, nil
}

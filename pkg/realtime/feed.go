// Package realtime delivers row-change notifications to live cart views.
package realtime

import (
	"context"
	"sync"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Feed is a change-notification channel. Subscribe returns a receive channel
// and a disposer; the disposer must be called exactly once and closes the channel.
type Feed interface {
	Publish(ctx context.Context, c models.Change) error
	Subscribe(ctx context.Context, f models.ChangeFilter) (<-chan models.Change, func(), error)
}

const subscriberBuffer = 16

// MemoryFeed is an in-process broker. It is the delivery half of the Postgres
// and Redis feeds and can be used on its own for a single instance.
type MemoryFeed struct {
	mu     sync.Mutex
	subs   map[uint64]*memSub
	nextID uint64
}

type memSub struct {
	filter models.ChangeFilter
	ch     chan models.Change
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[uint64]*memSub)}
}

// Publish delivers c to every matching subscriber without blocking. A full
// subscriber buffer already holds a pending change, and receivers recompute
// from the store on every change, so dropping is safe.
func (f *MemoryFeed) Publish(_ context.Context, c models.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.subs {
		if !s.filter.Matches(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(_ context.Context, filter models.ChangeFilter) (<-chan models.Change, func(), error) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	s := &memSub{filter: filter, ch: make(chan models.Change, subscriberBuffer)}
	f.subs[id] = s
	f.mu.Unlock()

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, dispose, nil
}

// Subscribers returns the number of live subscriptions.
func (f *MemoryFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

package cart

import (
	"context"
	"sync"
)

// CountService owns the cart badge value for one user. Sessions push counts
// into it directly, and the live bridge calls Refresh; both converge on the
// number of in_cart lines in the store.
type CountService struct {
	store  Store
	userID string

	mu     sync.Mutex
	value  int
	known  bool
	subs   map[uint64]func(int)
	nextID uint64
}

func NewCountService(store Store, userID string) *CountService {
	return &CountService{store: store, userID: userID, subs: make(map[uint64]func(int))}
}

// Value returns the last known count. Anonymous users always have zero.
func (c *CountService) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set records n and notifies subscribers if it changed.
func (c *CountService) Set(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.known && c.value == n {
		return
	}
	c.value = n
	c.known = true
	for _, fn := range c.subs {
		fn(n)
	}
}

// Refresh recounts from the store.
func (c *CountService) Refresh(ctx context.Context) error {
	if c.userID == "" {
		c.Set(0)
		return nil
	}
	n, err := c.store.CountInCart(ctx, c.userID)
	if err != nil {
		return Wrap(ErrStoreUnavailable, err)
	}
	c.Set(n)
	return nil
}

// Subscribe calls fn with the current value and on every change. fn must not
// block. The disposer may be called any number of times.
func (c *CountService) Subscribe(fn func(int)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	fn(c.value)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"julianmorley.ca/con-plar/storefront/pkg/realtime"
)

// Attacher connects refreshers to the change feed for one user.
type Attacher interface {
	Attach(ctx context.Context, userID string, targets ...realtime.Refresher) (func(), error)
}

// Registry shares one Session and CountService per user across concurrent
// requests and event streams on this instance. Entries are reference counted;
// the live subscription lives exactly as long as the entry.
type Registry struct {
	store  Store
	bridge Attacher
	cfg    SessionConfig
	log    *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	session *Session
	count   *CountService
	refs    int
	detach  func()

	// loaded is closed once the first Acquire has read the cart; loadErr is
	// its result and is read only after loaded is closed.
	loaded  chan struct{}
	loadErr error
}

// Handle is a reference to a user's shared cart state.
type Handle struct {
	Session *Session
	Count   *CountService
	once    sync.Once
	release func()
}

// Release drops the reference. It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(h.release)
}

func NewRegistry(store Store, bridge Attacher, cfg SessionConfig) *Registry {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Registry{
		store:   store,
		bridge:  bridge,
		cfg:     cfg,
		log:     cfg.Log,
		entries: make(map[string]*entry),
	}
}

// Acquire returns the shared state for userID, loading it on first use.
// Anonymous users get a private empty session that is never registered.
func (r *Registry) Acquire(ctx context.Context, userID string) (*Handle, error) {
	if userID == "" {
		count := NewCountService(r.store, "")
		s := NewSession(r.store, "", SessionConfig{Policy: r.cfg.Policy, Count: count, Log: r.log})
		return &Handle{Session: s, Count: count, release: s.Close}, nil
	}

	r.mu.Lock()
	e, ok := r.entries[userID]
	if !ok {
		count := NewCountService(r.store, userID)
		e = &entry{
			count:   count,
			session: NewSession(r.store, userID, SessionConfig{Policy: r.cfg.Policy, Count: count, Log: r.log}),
			loaded:  make(chan struct{}),
		}
		if r.bridge != nil {
			detach, err := r.bridge.Attach(ctx, userID, e.session, e.count)
			if err != nil {
				r.mu.Unlock()
				return nil, fmt.Errorf("attach live updates: %w", err)
			}
			e.detach = detach
		}
		r.entries[userID] = e
	}
	e.refs++
	r.mu.Unlock()

	h := &Handle{Session: e.session, Count: e.count, release: func() { r.release(userID, e) }}
	if !ok {
		_, e.loadErr = e.session.Load(ctx)
		close(e.loaded)
	} else {
		// Later callers must not act on the empty cart a first load is replacing.
		select {
		case <-e.loaded:
		case <-ctx.Done():
			h.Release()
			return nil, Wrap(ErrStoreUnavailable, ctx.Err())
		}
	}
	if e.loadErr != nil {
		h.Release()
		return nil, e.loadErr
	}
	return h, nil
}

func (r *Registry) release(userID string, e *entry) {
	r.mu.Lock()
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	if r.entries[userID] == e {
		delete(r.entries, userID)
	}
	r.mu.Unlock()

	if e.detach != nil {
		e.detach()
	}
	e.session.Close()
}

// Refresh reloads a user's shared state if any is live on this instance.
func (r *Registry) Refresh(ctx context.Context, userID string) error {
	r.mu.Lock()
	e, ok := r.entries[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := e.session.Refresh(ctx); err != nil {
		return err
	}
	return e.count.Refresh(ctx)
}

// Active reports how many users currently hold shared state.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

package cart

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Observer receives every aggregate a session displays. It is called with the
// session lock held and must not block or call back into the session.
type Observer func(Aggregate)

type SessionConfig struct {
	Policy models.AddPolicy
	Count  *CountService
	Log    *slog.Logger
}

// Session is one user's live cart. What it displays is the last authoritative
// aggregate with every in-flight mutation applied on top, so an optimistic
// change shows immediately and a failed one disappears as soon as it settles.
type Session struct {
	store  Store
	userID string
	policy models.AddPolicy
	count  *CountService
	log    *slog.Logger

	mu        sync.Mutex
	base      Aggregate
	view      Aggregate
	pending   []pendingOp
	nextOp    uint64
	epoch     uint64 // bumped whenever a mutation settles
	loadSeq   uint64
	applied   uint64
	tails     map[string]chan struct{}
	observers map[uint64]Observer
	nextObs   uint64
	closed    bool
}

type pendingOp struct {
	id    uint64
	apply func(Aggregate) Aggregate
}

type mutation struct {
	key    string
	apply  func(Aggregate) Aggregate
	write  func(ctx context.Context) error
	commit func(Aggregate) Aggregate
	// notFound is the kind reported when the store says the target row is gone.
	notFound *Error
}

// NewSession builds a session for userID. An empty userID yields an anonymous
// session that always shows the empty cart.
func NewSession(store Store, userID string, cfg SessionConfig) *Session {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Policy == "" {
		cfg.Policy = models.AddOverwrite
	}
	base := Aggregate{UserID: userID}
	return &Session{
		store:     store,
		userID:    userID,
		policy:    cfg.Policy,
		count:     cfg.Count,
		log:       cfg.Log.With(slog.String("user_id", userID)),
		base:      base,
		view:      base,
		tails:     make(map[string]chan struct{}),
		observers: make(map[uint64]Observer),
	}
}

func (s *Session) UserID() string { return s.userID }

// Snapshot returns the aggregate currently displayed.
func (s *Session) Snapshot() Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Subscribe registers fn and calls it once with the current aggregate.
// The returned disposer is safe to call more than once.
func (s *Session) Subscribe(fn Observer) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	fn(s.view)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Load reads the authoritative cart and returns what the session displays,
// which includes mutations still in flight. Anonymous sessions get the empty
// aggregate and no error. A read that overlaps a settling mutation is dropped,
// because that mutation reloads on its own.
func (s *Session) Load(ctx context.Context) (Aggregate, error) {
	_, view, err := s.load(ctx)
	return view, err
}

// Authoritative returns the cart exactly as the store holds it, without any
// optimistic change that has not committed. Checkout is priced from this.
func (s *Session) Authoritative(ctx context.Context) (Aggregate, error) {
	stored, _, err := s.load(ctx)
	return stored, err
}

func (s *Session) load(ctx context.Context) (stored, view Aggregate, err error) {
	if s.userID == "" {
		return Empty, Empty, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Empty, Empty, ErrSessionClosed
	}
	epoch := s.epoch
	s.loadSeq++
	seq := s.loadSeq
	s.mu.Unlock()

	lines, err := s.store.ListCartLines(ctx, s.userID)
	if err != nil {
		return Empty, s.Snapshot(), Wrap(ErrStoreUnavailable, err)
	}
	stored = NewAggregate(s.userID, lines)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Empty, Empty, ErrSessionClosed
	}
	if s.epoch == epoch && seq > s.applied {
		s.applied = seq
		s.base = stored
		s.recomputeLocked()
	}
	return stored, s.view, nil
}

// Refresh reloads from the store. It lets the live bridge drive the session.
func (s *Session) Refresh(ctx context.Context) error {
	_, err := s.Load(ctx)
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// AddOrIncrement puts product into the cart. Under the overwrite policy an
// existing line is reset to quantity 1; under increment it gains one.
func (s *Session) AddOrIncrement(ctx context.Context, productID string) (Aggregate, error) {
	if s.userID == "" {
		return Empty, ErrUnauthenticated
	}
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return s.Snapshot(), Wrap(ErrProductNotFound, err)
		}
		return s.Snapshot(), Wrap(ErrStoreUnavailable, err)
	}

	key := "product:" + productID
	if line, ok := s.Snapshot().LineForProduct(productID); ok && line.ID != "" {
		key = line.ID
	}

	var saved models.CartLineItem
	return s.mutate(ctx, mutation{
		key: key,
		apply: func(a Aggregate) Aggregate {
			return a.WithAdded(product, s.policy)
		},
		write: func(ctx context.Context) error {
			item, err := s.store.UpsertCartLine(ctx, s.userID, productID, s.policy)
			saved = item
			return err
		},
		commit: func(a Aggregate) Aggregate {
			return a.WithLine(models.CartLine{CartLineItem: saved, Product: product})
		},
		notFound: ErrProductNotFound,
	})
}

// SetQuantity changes a line's quantity. Quantities below 1 are ignored.
func (s *Session) SetQuantity(ctx context.Context, lineID string, quantity int) (Aggregate, error) {
	if s.userID == "" {
		return Empty, ErrUnauthenticated
	}
	if quantity < 1 {
		return s.Snapshot(), nil
	}
	if _, ok := s.Snapshot().Line(lineID); !ok {
		return s.Snapshot(), ErrLineNotFound
	}

	apply := func(a Aggregate) Aggregate {
		next, _ := a.WithQuantity(lineID, quantity)
		return next
	}
	return s.mutate(ctx, mutation{
		key:   lineID,
		apply: apply,
		write: func(ctx context.Context) error {
			return s.store.UpdateQuantity(ctx, s.userID, lineID, quantity)
		},
		commit:   apply,
		notFound: ErrLineNotFound,
	})
}

// Remove deletes a line from the cart.
func (s *Session) Remove(ctx context.Context, lineID string) (Aggregate, error) {
	if s.userID == "" {
		return Empty, ErrUnauthenticated
	}
	if _, ok := s.Snapshot().Line(lineID); !ok {
		return s.Snapshot(), ErrLineNotFound
	}

	apply := func(a Aggregate) Aggregate {
		next, _ := a.Without(lineID)
		return next
	}
	return s.mutate(ctx, mutation{
		key:   lineID,
		apply: apply,
		write: func(ctx context.Context) error {
			return s.store.DeleteLine(ctx, s.userID, lineID)
		},
		commit:   apply,
		notFound: ErrLineNotFound,
	})
}

// Close detaches observers. Results of calls still in flight are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.observers = make(map[uint64]Observer)
	s.pending = nil
}

func (s *Session) mutate(ctx context.Context, m mutation) (Aggregate, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Empty, ErrSessionClosed
	}
	id := s.nextOp
	s.nextOp++
	s.pending = append(s.pending, pendingOp{id: id, apply: m.apply})
	prev := s.tails[m.key]
	ticket := make(chan struct{})
	s.tails[m.key] = ticket
	s.recomputeLocked()
	s.mu.Unlock()

	// Writes to one line reach the store in the order they were issued.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			go func() {
				<-prev
				s.release(m.key, ticket)
			}()
			return s.settle(ctx, id, nil, m, ctx.Err())
		}
	}

	err := m.write(ctx)
	s.release(m.key, ticket)
	return s.settle(ctx, id, m.commit, m, err)
}

func (s *Session) release(key string, ticket chan struct{}) {
	close(ticket)
	s.mu.Lock()
	if s.tails[key] == ticket {
		delete(s.tails, key)
	}
	s.mu.Unlock()
}

// settle retires a pending op, folds it into the base on success, and reloads
// so the displayed cart converges on the store either way.
func (s *Session) settle(ctx context.Context, id uint64, commit func(Aggregate) Aggregate, m mutation, writeErr error) (Aggregate, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Empty, ErrSessionClosed
	}
	for i, op := range s.pending {
		if op.id == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	if writeErr == nil && commit != nil {
		s.base = commit(s.base)
	}
	s.epoch++
	s.recomputeLocked()
	s.mu.Unlock()

	if writeErr != nil {
		s.log.Warn("cart write failed, reloading", slog.String("key", m.key), slog.Any("err", writeErr))
	}

	// The reload must run even when the caller's context is already done.
	reloadCtx := context.WithoutCancel(ctx)
	agg, loadErr := s.Load(reloadCtx)
	if loadErr != nil && !errors.Is(loadErr, ErrSessionClosed) {
		s.log.Warn("cart reload failed", slog.Any("err", loadErr))
	}
	if errors.Is(loadErr, ErrSessionClosed) {
		return Empty, ErrSessionClosed
	}

	if writeErr != nil {
		return agg, classifyWrite(writeErr, m.notFound)
	}
	return agg, nil
}

func (s *Session) recomputeLocked() {
	v := s.base
	for _, op := range s.pending {
		v = op.apply(v)
	}
	s.view = v
	for _, fn := range s.observers {
		fn(v)
	}
	if s.count != nil {
		s.count.Set(v.Count())
	}
}

func classifyWrite(err error, notFound *Error) error {
	switch {
	case errors.Is(err, models.ErrUniqueViolation):
		return Wrap(ErrConflictResolutionFailed, err)
	case errors.Is(err, models.ErrNotFound) && notFound != nil:
		return Wrap(notFound, err)
	default:
		return Wrap(ErrRemoteWriteFailed, err)
	}
}

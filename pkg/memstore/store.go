// Package memstore keeps the catalog and carts in process memory. It backs
// local development when no database is configured and doubles as a fake in
// tests, with per-operation failure injection.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Op names a store operation for failure injection and call counting.
type Op string

const (
	OpGetProduct     Op = "get_product"
	OpListProducts   Op = "list_products"
	OpListCartLines  Op = "list_cart_lines"
	OpCountInCart    Op = "count_in_cart"
	OpUpsertCartLine Op = "upsert_cart_line"
	OpUpdateQuantity Op = "update_quantity"
	OpDeleteLine     Op = "delete_line"
	OpMarkPurchased  Op = "mark_purchased"
)

type Store struct {
	mu       sync.Mutex
	products map[string]models.Product
	lines    map[string]*row
	seq      int64
	failNext map[Op][]error
	calls    map[Op]int
	now      func() time.Time
}

type row struct {
	item models.CartLineItem
	seq  int64
}

func New() *Store {
	return &Store{
		products: make(map[string]models.Product),
		lines:    make(map[string]*row),
		failNext: make(map[Op][]error),
		calls:    make(map[Op]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddProduct inserts or replaces a catalog product, assigning an id if needed.
func (s *Store) AddProduct(p models.Product) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.products[p.ID] = p
	return p
}

// FailNext makes the next call to op return err. Calls queue in order.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = append(s.failNext[op], err)
}

// Calls reports how many times op has been invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Lines returns every row for userID regardless of status, oldest first.
func (s *Store) Lines(userID string) []models.CartLineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CartLineItem
	for _, r := range s.sortedLocked() {
		if r.item.UserID == userID {
			out = append(out, r.item)
		}
	}
	return out
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// enter counts the call and pops an injected failure. Caller holds s.mu.
func (s *Store) enter(ctx context.Context, op Op) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := s.failNext[op]; len(q) > 0 {
		s.failNext[op] = q[1:]
		return q[0]
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpGetProduct); err != nil {
		return models.Product{}, err
	}
	p, ok := s.products[productID]
	if !ok {
		return models.Product{}, models.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpListProducts); err != nil {
		return nil, err
	}
	filter = filter.Normalize()
	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.Matches(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListCartLines(ctx context.Context, userID string) ([]models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpListCartLines); err != nil {
		return nil, err
	}
	var out []models.CartLine
	for _, r := range s.sortedLocked() {
		if r.item.UserID != userID || r.item.Status != models.StatusInCart {
			continue
		}
		p, ok := s.products[r.item.ProductID]
		if !ok {
			continue
		}
		out = append(out, models.CartLine{CartLineItem: r.item, Product: p})
	}
	return out, nil
}

func (s *Store) CountInCart(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCountInCart); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range s.lines {
		if r.item.UserID == userID && r.item.Status == models.StatusInCart {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpsertCartLine(ctx context.Context, userID, productID string, policy models.AddPolicy) (models.CartLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpUpsertCartLine); err != nil {
		return models.CartLineItem{}, err
	}
	if _, ok := s.products[productID]; !ok {
		return models.CartLineItem{}, models.ErrNotFound
	}
	for _, r := range s.lines {
		if r.item.UserID == userID && r.item.ProductID == productID && r.item.Status == models.StatusInCart {
			if policy == models.AddIncrement {
				r.item.Quantity++
			} else {
				r.item.Quantity = 1
			}
			return r.item, nil
		}
	}
	s.seq++
	item := models.CartLineItem{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  1,
		Status:    models.StatusInCart,
		CreatedAt: s.now(),
	}
	s.lines[item.ID] = &row{item: item, seq: s.seq}
	return item, nil
}

func (s *Store) UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpUpdateQuantity); err != nil {
		return err
	}
	r, ok := s.lines[lineID]
	if !ok || r.item.UserID != userID || r.item.Status != models.StatusInCart {
		return models.ErrNotFound
	}
	r.item.Quantity = quantity
	return nil
}

func (s *Store) DeleteLine(ctx context.Context, userID, lineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpDeleteLine); err != nil {
		return err
	}
	r, ok := s.lines[lineID]
	if !ok || r.item.UserID != userID || r.item.Status != models.StatusInCart {
		return models.ErrNotFound
	}
	delete(s.lines, lineID)
	return nil
}

// MarkPurchased flips every in_cart row of userID in one step.
func (s *Store) MarkPurchased(ctx context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpMarkPurchased); err != nil {
		return 0, err
	}
	var n int64
	for _, r := range s.lines {
		if r.item.UserID == userID && r.item.Status == models.StatusInCart {
			d := at
			r.item.Status = models.StatusPurchased
			r.item.PurchaseDate = &d
			n++
		}
	}
	return n, nil
}

func (s *Store) sortedLocked() []*row {
	rows := make([]*row, 0, len(s.lines))
	for _, r := range s.lines {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows
}

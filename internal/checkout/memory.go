package checkout

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// MemoryAttempts keeps attempts in process memory. It is only consistent
// within one instance.
type MemoryAttempts struct {
	mu       sync.Mutex
	attempts map[string]models.CheckoutAttempt
}

func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{attempts: make(map[string]models.CheckoutAttempt)}
}

func (m *MemoryAttempts) Save(_ context.Context, a models.CheckoutAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[a.SessionID] = a
	return nil
}

func (m *MemoryAttempts) Get(_ context.Context, sessionID string) (models.CheckoutAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[sessionID]
	if !ok {
		return models.CheckoutAttempt{}, models.ErrNotFound
	}
	return a, nil
}

func (m *MemoryAttempts) CompareAndSwap(_ context.Context, from models.CheckoutState, a models.CheckoutAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.attempts[a.SessionID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.State != from {
		return models.ErrStateConflict
	}
	m.attempts[a.SessionID] = a
	return nil
}

// MemoryJournal is the reconciliation journal used when no MongoDB is configured.
type MemoryJournal struct {
	mu    sync.Mutex
	cases []models.ReconciliationCase
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) RecordCase(_ context.Context, c models.ReconciliationCase) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, existing := range j.cases {
		if existing.SessionID == c.SessionID {
			return nil
		}
	}
	if c.Status == "" {
		c.Status = models.CaseOpen
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.ID = bson.NewObjectID()
	j.cases = append(j.cases, c)
	return nil
}

func (j *MemoryJournal) OpenCases(_ context.Context, limit int64) ([]models.ReconciliationCase, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := []models.ReconciliationCase{}
	for _, c := range j.cases {
		if c.Status == models.CaseOpen && int64(len(out)) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (j *MemoryJournal) Resolve(_ context.Context, id string, note string) (models.ReconciliationCase, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := range j.cases {
		c := &j.cases[i]
		if c.ID.Hex() != id || c.Status != models.CaseOpen {
			continue
		}
		now := time.Now().UTC()
		c.Status = models.CaseResolved
		c.Note = note
		c.ResolvedAt = &now
		return *c, nil
	}
	return models.ReconciliationCase{}, models.ErrNotFound
}

func (j *MemoryJournal) OpenExposure(_ context.Context) ([]models.CurrencyExposure, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	byCurrency := map[string]*models.CurrencyExposure{}
	for _, c := range j.cases {
		if c.Status != models.CaseOpen {
			continue
		}
		e, ok := byCurrency[c.Currency]
		if !ok {
			e = &models.CurrencyExposure{Currency: c.Currency}
			byCurrency[c.Currency] = e
		}
		e.Cases++
		e.AmountMinor += c.AmountMinor
	}
	out := make([]models.CurrencyExposure, 0, len(byCurrency))
	for _, e := range byCurrency {
		out = append(out, *e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Currency < out[b].Currency })
	return out, nil
}

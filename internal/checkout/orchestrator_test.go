package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/storefront/internal/cart"
	"julianmorley.ca/con-plar/storefront/pkg/auth"
	"julianmorley.ca/con-plar/storefront/pkg/memstore"
	"julianmorley.ca/con-plar/storefront/pkg/models"
	"julianmorley.ca/con-plar/storefront/pkg/payment"
)

var (
	buyer   = auth.Identity{UserID: "0b5c4c52-5f3e-4c1e-9d55-0e7c2e1f6a01", Email: "buyer@example.com"}
	someone = auth.Identity{UserID: "3d9e0f8a-1b2c-4d5e-8f70-1a2b3c4d5e6f"}
	fixedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeProvider struct {
	mu          sync.Mutex
	createErr   error
	statusErr   error
	status      models.PaymentStatus
	requests    []models.SessionRequest
	statusCalls int
}

func (p *fakeProvider) CreateSession(_ context.Context, req models.SessionRequest) (models.PaymentSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.createErr != nil {
		return models.PaymentSession{}, p.createErr
	}
	id := fmt.Sprintf("cs_test_%d", len(p.requests))
	return models.PaymentSession{ID: id, URL: "https://pay.example/" + id}, nil
}

func (p *fakeProvider) SessionStatus(_ context.Context, sessionID string) (models.PaymentStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.statusErr != nil {
		return models.PaymentUnknown, p.statusErr
	}
	return p.status, nil
}

func (p *fakeProvider) setStatus(st models.PaymentStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = st
}

type harness struct {
	store    *memstore.Store
	provider *fakeProvider
	attempts *MemoryAttempts
	journal  *MemoryJournal
	orch     *Orchestrator
	session  *cart.Session
}

func newHarness(t *testing.T, currency string) *harness {
	t.Helper()
	h := &harness{
		store:    memstore.New(),
		provider: &fakeProvider{status: models.PaymentPaid},
		attempts: NewMemoryAttempts(),
		journal:  NewMemoryJournal(),
	}
	h.orch = New(h.provider, h.attempts, h.store, h.journal, Config{
		Currency: currency,
		Now:      func() time.Time { return fixedAt },
	})
	h.session = cart.NewSession(h.store, buyer.UserID, cart.SessionConfig{})
	return h
}

// fill puts A(500)x2 and B(1200)x1 in the buyer's cart.
func (h *harness) fill(t *testing.T) cart.Aggregate {
	t.Helper()
	ctx := context.Background()
	a := h.store.AddProduct(models.Product{Name: "Linen Shirt", Price: 500})
	b := h.store.AddProduct(models.Product{Name: "Denim Jacket", Price: 1200})

	_, err := h.session.AddOrIncrement(ctx, a.ID)
	require.NoError(t, err)
	_, err = h.session.AddOrIncrement(ctx, b.ID)
	require.NoError(t, err)
	line, ok := h.session.Snapshot().LineForProduct(a.ID)
	require.True(t, ok)
	agg, err := h.session.SetQuantity(ctx, line.ID, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2200), agg.Subtotal())
	return agg
}

func (h *harness) inCart() int {
	n, _ := h.store.CountInCart(context.Background(), buyer.UserID)
	return n
}

func TestBegin_CreatesRedirectedAttempt(t *testing.T) {
	h := newHarness(t, "INR")
	agg := h.fill(t)

	attempt, err := h.orch.Begin(context.Background(), buyer, agg)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutRedirected, attempt.State)
	assert.Equal(t, "cs_test_1", attempt.SessionID)
	assert.Equal(t, "https://pay.example/cs_test_1", attempt.RedirectURL)
	assert.Equal(t, int64(220000), attempt.AmountMinor)
	assert.Equal(t, 2, attempt.LineCount)

	require.Len(t, h.provider.requests, 1)
	req := h.provider.requests[0]
	assert.Equal(t, attempt.ID, req.AttemptID)
	assert.Equal(t, "INR", req.Currency)
	assert.Equal(t, buyer.Email, req.Customer.Email)
	assert.ElementsMatch(t, []models.PaymentLineItem{
		{Name: "Linen Shirt", UnitAmount: 50000, Quantity: 2},
		{Name: "Denim Jacket", UnitAmount: 120000, Quantity: 1},
	}, req.Items)

	stored, err := h.attempts.Get(context.Background(), attempt.SessionID)
	require.NoError(t, err)
	assert.Equal(t, attempt, stored)
	assert.Equal(t, 2, h.inCart())
}

func TestBegin_EmptyCartAndAnonymous(t *testing.T) {
	h := newHarness(t, "INR")
	ctx := context.Background()

	_, err := h.orch.Begin(ctx, buyer, cart.NewAggregate(buyer.UserID, nil))
	assert.ErrorIs(t, err, cart.ErrEmptyCart)

	agg := h.fill(t)
	_, err = h.orch.Begin(ctx, auth.Identity{}, agg)
	assert.ErrorIs(t, err, cart.ErrUnauthenticated)

	_, err = h.orch.Begin(ctx, someone, agg)
	assert.ErrorIs(t, err, cart.ErrUnauthenticated)

	assert.Empty(t, h.provider.requests)
}

func TestBegin_ProviderFailureReturnsToIdle(t *testing.T) {
	h := newHarness(t, "INR")
	agg := h.fill(t)
	h.provider.createErr = errors.New("stripe: connection reset")

	attempt, err := h.orch.Begin(context.Background(), buyer, agg)
	assert.ErrorIs(t, err, cart.ErrPaymentSessionFailed)
	assert.Equal(t, models.CheckoutIdle, attempt.State)
	assert.Contains(t, attempt.Error, "connection reset")
	assert.Empty(t, attempt.SessionID)
	assert.Equal(t, 2, h.inCart())
	assert.Equal(t, 0, h.store.Calls(memstore.OpMarkPurchased))
}

func TestBegin_UnsupportedCurrencyNeverReachesProvider(t *testing.T) {
	h := newHarness(t, "XTS")
	agg := h.fill(t)

	_, err := h.orch.Begin(context.Background(), buyer, agg)
	assert.ErrorIs(t, err, cart.ErrPaymentSessionFailed)
	assert.Empty(t, h.provider.requests)
}

func TestBegin_TotalOverflowNeverReachesProvider(t *testing.T) {
	h := newHarness(t, "INR")
	ctx := context.Background()
	p := h.store.AddProduct(models.Product{Name: "Gold Bar", Price: math.MaxInt64 / 100})

	_, err := h.session.AddOrIncrement(ctx, p.ID)
	require.NoError(t, err)
	line, ok := h.session.Snapshot().LineForProduct(p.ID)
	require.True(t, ok)
	agg, err := h.session.SetQuantity(ctx, line.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), agg.Subtotal())

	_, err = h.orch.Begin(ctx, buyer, agg)
	assert.ErrorIs(t, err, cart.ErrPaymentSessionFailed)
	assert.Contains(t, err.Error(), "overflows")
	assert.Empty(t, h.provider.requests)
}

func TestBegin_ConvertsToCurrencyMinorUnits(t *testing.T) {
	h := newHarness(t, "jpy")
	agg := h.fill(t)

	attempt, err := h.orch.Begin(context.Background(), buyer, agg)
	require.NoError(t, err)
	assert.Equal(t, "JPY", attempt.Currency)
	assert.Equal(t, int64(2200), attempt.AmountMinor)
}

func TestConfirm_PurchasesOnceAndIsIdempotent(t *testing.T) {
	h := newHarness(t, "INR")
	ctx := context.Background()
	attempt, err := h.orch.Begin(ctx, buyer, h.fill(t))
	require.NoError(t, err)

	done, err := h.orch.Confirm(ctx, buyer, attempt.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutConfirmed, done.State)
	assert.Equal(t, int64(2), done.Purchased)
	require.NotNil(t, done.ConfirmedAt)
	assert.True(t, done.ConfirmedAt.Equal(fixedAt))

	assert.Equal(t, 0, h.inCart())
	for _, row := range h.store.Lines(buyer.UserID) {
		assert.Equal(t, models.StatusPurchased, row.Status)
		require.NotNil(t, row.PurchaseDate)
		assert.True(t, row.PurchaseDate.Equal(fixedAt))
	}

	again, err := h.orch.Confirm(ctx, buyer, attempt.SessionID)
	require.NoError(t, err)
	assert.Equal(t, done.ID, again.ID)
	assert.Equal(t, models.CheckoutConfirmed, again.State)
	assert.Equal(t, 1, h.store.Calls(memstore.OpMarkPurchased))

	require.NoError(t, h.session.Refresh(ctx))
	assert.True(t, h.session.Snapshot().IsEmpty())
}

func TestConfirm_UnpaidLeavesAttemptRedirected(t *testing.T) {
	h := newHarness(t, "INR")
	ctx := context.Background()
	attempt, err := h.orch.Begin(ctx, buyer, h.fill(t))
	require.NoError(t, err)

	h.provider.setStatus(models.PaymentUnpaid)
	_, err = h.orch.Confirm(ctx, buyer, attempt.SessionID)
	assert.ErrorIs(t, err, cart.ErrPaymentNotCompleted)

	stored, err := h.attempts.Get(ctx, attempt.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutRedirected, stored.State)
	assert.Equal(t, 2, h.inCart())

	h.provider.setStatus(models.PaymentPaid)
	done, err := h.orch.Confirm(ctx, buyer, attempt.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutConfirmed, done.State)
}

func TestConfirm_UnknownSessions(t *testing.T) {
	h := newHarness(t, "INR")
	ctx := context.Background()
	attempt, err := h.orch.Begin(ctx, buyer, h.fill(t))
	require.NoError(t, err)

	_, err = h.orch.Confirm(ctx, buyer, "cs_missing")
	assert.ErrorIs(t, err, cart.ErrUnknownSession)

	_, err = h.orch.Confirm(ctx, buyer, "")
	assert.ErrorIs(t, err, cart.ErrUnknownSession)

	_, err = h.orch.Confirm(ctx, someone, attempt.SessionID)
	assert.ErrorIs(t, err, cart.ErrUnknownSession)

	_, err = h.orch.Confirm(ctx, auth.Identity{}, attempt.SessionID)
	assert.ErrorIs(t, err, cart.ErrUnauthenticated)

	assert.Equal(t, 0, h.store.Calls(memstore.OpMarkPurchased))
	assert.Equal(t, 2, h.inCart())
}

func TestConfirm_StoreFailureIsJournaledAndTerminal(t *testing.T) {
	h := newHarness(t, "INR")
	ctx := context.Background()
	attempt, err := h.orch.Begin(ctx, buyer, h.fill(t))
	require.NoError(t, err)

	h.store.FailNext(memstore.OpMarkPurchased, errors.New("connection refused"))
	failed, err := h.orch.Confirm(ctx, buyer, attempt.SessionID)
	require.ErrorIs(t, err, cart.ErrConfirmationFailed)
	assert.Contains(t, err.Error(), "contact support")
	assert.Equal(t, models.CheckoutFailed, failed.State)

	cases, err := h.journal.OpenCases(ctx, 0)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, attempt.SessionID, cases[0].SessionID)
	assert.Equal(t, int64(220000), cases[0].AmountMinor)
	assert.Equal(t, "2200.00 INR", cases[0].Amount)
	assert.Equal(t, "INR", cases[0].Currency)

	_, err = h.orch.Confirm(ctx, buyer, attempt.SessionID)
	assert.ErrorIs(t, err, cart.ErrConfirmationFailed)
	assert.Equal(t, 1, h.store.Calls(memstore.OpMarkPurchased))
	assert.Equal(t, 2, h.inCart())
}

func TestConfirm_ProviderLookupFailure(t *testing.T) {
	h := newHarness(t, "INR")
	ctx := context.Background()
	attempt, err := h.orch.Begin(ctx, buyer, h.fill(t))
	require.NoError(t, err)

	h.provider.statusErr = models.ErrNotFound
	_, err = h.orch.Confirm(ctx, buyer, attempt.SessionID)
	assert.ErrorIs(t, err, cart.ErrUnknownSession)

	h.provider.statusErr = errors.New("timeout")
	_, err = h.orch.Confirm(ctx, buyer, attempt.SessionID)
	assert.ErrorIs(t, err, cart.ErrPaymentSessionFailed)
	assert.Equal(t, 0, h.store.Calls(memstore.OpMarkPurchased))
}

func TestConfirm_ConcurrentConfirmsPurchaseOnce(t *testing.T) {
	h := newHarness(t, "INR")
	ctx := context.Background()
	attempt, err := h.orch.Begin(ctx, buyer, h.fill(t))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.orch.Confirm(ctx, buyer, attempt.SessionID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, cart.ErrCheckoutInProgress)
		}
	}
	assert.Equal(t, 1, h.store.Calls(memstore.OpMarkPurchased))
	assert.Equal(t, 0, h.inCart())
}

func TestCheckoutScenarioWithSandbox(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := st.AddProduct(models.Product{Name: "Linen Shirt", Price: 500})
	b := st.AddProduct(models.Product{Name: "Denim Jacket", Price: 1200})
	sandbox := payment.NewSandbox("https://shop.example/checkout/success?session_id={CHECKOUT_SESSION_ID}")
	orch := New(sandbox, NewMemoryAttempts(), st, NewMemoryJournal(), Config{Currency: "INR"})
	s := cart.NewSession(st, buyer.UserID, cart.SessionConfig{})

	_, err := s.AddOrIncrement(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.AddOrIncrement(ctx, b.ID)
	require.NoError(t, err)
	lineA, _ := s.Snapshot().LineForProduct(a.ID)
	lineB, _ := s.Snapshot().LineForProduct(b.ID)

	agg, err := s.SetQuantity(ctx, lineA.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2200), agg.Subtotal())
	agg, err = s.SetQuantity(ctx, lineA.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4700), agg.Subtotal())
	agg, err = s.Remove(ctx, lineB.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), agg.Subtotal())

	attempt, err := orch.Begin(ctx, buyer, agg)
	require.NoError(t, err)
	req, ok := sandbox.Request(attempt.SessionID)
	require.True(t, ok)
	assert.Equal(t, []models.PaymentLineItem{{Name: "Linen Shirt", UnitAmount: 50000, Quantity: 3}}, req.Items)

	done, err := orch.Confirm(ctx, buyer, attempt.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutConfirmed, done.State)

	require.NoError(t, s.Refresh(ctx))
	assert.True(t, s.Snapshot().IsEmpty())
	assert.Equal(t, int64(0), s.Snapshot().Subtotal())
}

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()
	require.NoError(t, j.RecordCase(ctx, models.ReconciliationCase{SessionID: "cs_1", Currency: "INR", AmountMinor: 1000}))
	require.NoError(t, j.RecordCase(ctx, models.ReconciliationCase{SessionID: "cs_1", Currency: "INR", AmountMinor: 9999}))
	require.NoError(t, j.RecordCase(ctx, models.ReconciliationCase{SessionID: "cs_2", Currency: "INR", AmountMinor: 500}))
	require.NoError(t, j.RecordCase(ctx, models.ReconciliationCase{SessionID: "cs_3", Currency: "USD", AmountMinor: 700}))

	open, err := j.OpenCases(ctx, 0)
	require.NoError(t, err)
	require.Len(t, open, 3)

	resolved, err := j.Resolve(ctx, open[1].ID.Hex(), "refunded")
	require.NoError(t, err)
	assert.Equal(t, models.CaseResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	_, err = j.Resolve(ctx, open[1].ID.Hex(), "again")
	assert.ErrorIs(t, err, models.ErrNotFound)

	exposure, err := j.OpenExposure(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CurrencyExposure{
		{Currency: "INR", Cases: 1, AmountMinor: 1000},
		{Currency: "USD", Cases: 1, AmountMinor: 700},
	}, exposure)
}

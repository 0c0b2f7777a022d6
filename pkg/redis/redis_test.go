package redis

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/storefront/pkg/memstore"
	"julianmorley.ca/con-plar/storefront/pkg/models"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(Config{Address: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func sampleAttempt() models.CheckoutAttempt {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.CheckoutAttempt{
		ID:          "att-1",
		SessionID:   "cs_test_123",
		UserID:      "user-1",
		State:       models.CheckoutRedirected,
		Currency:    "INR",
		AmountMinor: 470000,
		LineCount:   2,
		RedirectURL: "https://checkout.stripe.com/c/pay/cs_test_123",
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestAttemptStore_SaveAndGet(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewAttemptStore(client, time.Hour)
	ctx := context.Background()

	a := sampleAttempt()
	require.NoError(t, store.Save(ctx, a))

	got, err := store.Get(ctx, a.SessionID)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Equal(t, time.Hour, mr.TTL(attemptKey(a.SessionID)))

	_, err = store.Get(ctx, "cs_unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAttemptStore_CompareAndSwap(t *testing.T) {
	_, client := newTestClient(t)
	store := NewAttemptStore(client, 0)
	ctx := context.Background()

	a := sampleAttempt()
	require.NoError(t, store.Save(ctx, a))

	next := a
	require.NoError(t, next.Transition(models.CheckoutConfirming, a.CreatedAt.Add(time.Minute)))
	require.NoError(t, store.CompareAndSwap(ctx, models.CheckoutRedirected, next))

	// A second confirmer still expecting redirected loses.
	assert.ErrorIs(t, store.CompareAndSwap(ctx, models.CheckoutRedirected, next), models.ErrStateConflict)

	done := next
	require.NoError(t, done.Transition(models.CheckoutConfirmed, a.CreatedAt.Add(2*time.Minute)))
	done.Purchased = 2
	require.NoError(t, store.CompareAndSwap(ctx, models.CheckoutConfirming, done))

	got, err := store.Get(ctx, a.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutConfirmed, got.State)
	assert.Equal(t, int64(2), got.Purchased)
	require.NotNil(t, got.ConfirmedAt)
	assert.True(t, got.ConfirmedAt.Equal(*done.ConfirmedAt))

	missing := sampleAttempt()
	missing.SessionID = "cs_missing"
	assert.ErrorIs(t, store.CompareAndSwap(ctx, models.CheckoutRedirected, missing), models.ErrNotFound)
}

func TestAttemptStore_ConcurrentSwapHasOneWinner(t *testing.T) {
	_, client := newTestClient(t)
	store := NewAttemptStore(client, 0)
	ctx := context.Background()

	a := sampleAttempt()
	require.NoError(t, store.Save(ctx, a))
	next := a
	require.NoError(t, next.Transition(models.CheckoutConfirming, time.Now()))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.CompareAndSwap(ctx, models.CheckoutRedirected, next); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestFeed_RelaysPublishedChanges(t *testing.T) {
	_, client := newTestClient(t)
	feed := NewFeed(client, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- feed.Run(ctx) }()

	select {
	case <-feed.Ready():
	case err := <-errc:
		t.Fatalf("feed stopped early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("feed never subscribed")
	}

	events, unsubscribe, err := feed.Subscribe(ctx, models.ChangeFilter{Table: models.TableUserProducts, UserID: "user-1"})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, feed.Publish(ctx, models.Change{Table: models.TableUserProducts, Event: models.ChangeUpdate, UserID: "user-2"}))
	require.NoError(t, feed.Publish(ctx, models.Change{Table: models.TableUserProducts, Event: models.ChangeDelete, UserID: "user-1", RowID: "line-9"}))

	select {
	case c := <-events:
		assert.Equal(t, "user-1", c.UserID)
		assert.Equal(t, models.ChangeDelete, c.Event)
		assert.Equal(t, "line-9", c.RowID)
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered")
	}

	cancel()
	assert.NoError(t, <-errc)
}

func TestCachedStore_ServesProductsFromRedis(t *testing.T) {
	mr, client := newTestClient(t)
	backend := memstore.New()
	p := backend.AddProduct(models.Product{Name: "Linen Shirt", Price: 500, AvailableSizes: []string{"S", "M"}})

	store := NewCachedStore(backend, client, time.Minute, slog.Default())
	ctx := context.Background()

	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, mr.Exists(productKey(p.ID)))

	got, err = store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"S", "M"}, got.AvailableSizes)
	assert.Equal(t, 1, backend.Calls(memstore.OpGetProduct))

	_, err = store.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCachedStore_CacheOutageFallsBack(t *testing.T) {
	mr, client := newTestClient(t)
	backend := memstore.New()
	p := backend.AddProduct(models.Product{Name: "Wool Scarf", Price: 350})
	store := NewCachedStore(backend, client, time.Minute, slog.Default())

	mr.Close()
	got, err := store.GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Wool Scarf", got.Name)
}

func TestCachedStore_ListWarmsEntries(t *testing.T) {
	mr, client := newTestClient(t)
	backend := memstore.New()
	a := backend.AddProduct(models.Product{Name: "Linen Shirt", Price: 500})
	b := backend.AddProduct(models.Product{Name: "Denim Jacket", Price: 1200})
	store := NewCachedStore(backend, client, time.Minute, slog.Default())

	products, err := store.ListProducts(context.Background(), models.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.True(t, mr.Exists(productKey(a.ID)))
	assert.True(t, mr.Exists(productKey(b.ID)))
}

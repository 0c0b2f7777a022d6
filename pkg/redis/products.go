package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Backend is the store behind the product cache.
type Backend interface {
	Ping(ctx context.Context) error
	GetProduct(ctx context.Context, productID string) (models.Product, error)
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
	ListCartLines(ctx context.Context, userID string) ([]models.CartLine, error)
	CountInCart(ctx context.Context, userID string) (int, error)
	UpsertCartLine(ctx context.Context, userID, productID string, policy models.AddPolicy) (models.CartLineItem, error)
	UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) error
	DeleteLine(ctx context.Context, userID, lineID string) error
	MarkPurchased(ctx context.Context, userID string, at time.Time) (int64, error)
}

// CachedStore serves product lookups from Redis and passes everything else
// through. Products are read-only here, so entries only expire.
type CachedStore struct {
	Backend
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func NewCachedStore(backend Backend, client *redis.Client, ttl time.Duration, log *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedStore{Backend: backend, client: client, ttl: ttl, log: log}
}

func productKey(id string) string {
	return fmt.Sprintf("product:%s", id)
}

func (s *CachedStore) GetProduct(ctx context.Context, productID string) (models.Product, error) {
	raw, err := s.client.Get(ctx, productKey(productID)).Result()
	if err == nil {
		var p models.Product
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return p, nil
		}
		s.log.Warn("discarding corrupt product cache entry", slog.String("product_id", productID))
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn("product cache read failed", slog.String("product_id", productID), slog.Any("err", err))
	}

	p, err := s.Backend.GetProduct(ctx, productID)
	if err != nil {
		return p, err
	}
	if err := s.cache(ctx, p); err != nil {
		s.log.Warn("product cache write failed", slog.String("product_id", productID), slog.Any("err", err))
	}
	return p, nil
}

// ListProducts reads through to the store and warms the per-product entries.
func (s *CachedStore) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	products, err := s.Backend.ListProducts(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return products, nil
	}

	pipe := s.client.TxPipeline()
	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			continue
		}
		pipe.Set(ctx, productKey(p.ID), data, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn("product cache warm failed", slog.Any("err", err))
	}
	return products, nil
}

func (s *CachedStore) cache(ctx context.Context, p models.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal product %s: %w", p.ID, err)
	}
	return s.client.Set(ctx, productKey(p.ID), data, s.ttl).Err()
}

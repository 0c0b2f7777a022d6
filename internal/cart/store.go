package cart

import (
	"context"
	"log/slog"
	"time"

	"julianmorley.ca/con-plar/storefront/pkg/models"
	"julianmorley.ca/con-plar/storefront/pkg/realtime"
)

// Store is the part of the remote data store the cart needs. Every method is
// scoped to userID; implementations must never touch another user's rows.
type Store interface {
	GetProduct(ctx context.Context, productID string) (models.Product, error)
	ListCartLines(ctx context.Context, userID string) ([]models.CartLine, error)
	CountInCart(ctx context.Context, userID string) (int, error)
	UpsertCartLine(ctx context.Context, userID, productID string, policy models.AddPolicy) (models.CartLineItem, error)
	UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) error
	DeleteLine(ctx context.Context, userID, lineID string) error
}

// Purchaser performs the checkout status transition. Only the checkout
// orchestrator calls it.
type Purchaser interface {
	MarkPurchased(ctx context.Context, userID string, at time.Time) (int64, error)
}

// PublishingStore announces successful writes on a feed. It is used with feeds
// that are not driven by the database itself.
type PublishingStore struct {
	Store
	purchaser Purchaser
	feed      realtime.Feed
	log       *slog.Logger
}

func NewPublishingStore(inner interface {
	Store
	Purchaser
}, feed realtime.Feed, log *slog.Logger) *PublishingStore {
	if log == nil {
		log = slog.Default()
	}
	return &PublishingStore{Store: inner, purchaser: inner, feed: feed, log: log}
}

func (s *PublishingStore) UpsertCartLine(ctx context.Context, userID, productID string, policy models.AddPolicy) (models.CartLineItem, error) {
	item, err := s.Store.UpsertCartLine(ctx, userID, productID, policy)
	if err == nil {
		s.publish(ctx, models.ChangeInsert, userID, item.ID)
	}
	return item, err
}

func (s *PublishingStore) UpdateQuantity(ctx context.Context, userID, lineID string, quantity int) error {
	err := s.Store.UpdateQuantity(ctx, userID, lineID, quantity)
	if err == nil {
		s.publish(ctx, models.ChangeUpdate, userID, lineID)
	}
	return err
}

func (s *PublishingStore) DeleteLine(ctx context.Context, userID, lineID string) error {
	err := s.Store.DeleteLine(ctx, userID, lineID)
	if err == nil {
		s.publish(ctx, models.ChangeDelete, userID, lineID)
	}
	return err
}

func (s *PublishingStore) MarkPurchased(ctx context.Context, userID string, at time.Time) (int64, error) {
	n, err := s.purchaser.MarkPurchased(ctx, userID, at)
	if err == nil && n > 0 {
		s.publish(ctx, models.ChangeUpdate, userID, "")
	}
	return n, err
}

func (s *PublishingStore) publish(ctx context.Context, ev models.ChangeEvent, userID, rowID string) {
	c := models.Change{Table: models.TableUserProducts, Event: ev, UserID: userID, RowID: rowID, At: time.Now().UTC()}
	if err := s.feed.Publish(ctx, c); err != nil {
		s.log.Warn("change publish failed", slog.String("user_id", userID), slog.Any("err", err))
	}
}

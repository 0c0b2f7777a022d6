package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"julianmorley.ca/con-plar/storefront/pkg/models"
	"julianmorley.ca/con-plar/storefront/pkg/realtime"
)

// ChangeChannel carries user_products changes between instances.
const ChangeChannel = "storefront:changes:user_products"

// Feed fans cart changes out through Redis pub/sub. Each instance runs one
// subscription and delivers locally through an in-process broker.
type Feed struct {
	client *redis.Client
	broker *realtime.MemoryFeed
	log    *slog.Logger
	ready  chan struct{}
}

func NewFeed(client *redis.Client, log *slog.Logger) *Feed {
	return &Feed{client: client, broker: realtime.NewMemoryFeed(), log: log, ready: make(chan struct{})}
}

func (f *Feed) Publish(ctx context.Context, c models.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := f.client.Publish(ctx, ChangeChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

func (f *Feed) Subscribe(ctx context.Context, filter models.ChangeFilter) (<-chan models.Change, func(), error) {
	return f.broker.Subscribe(ctx, filter)
}

// Ready is closed once the Redis subscription is confirmed.
func (f *Feed) Ready() <-chan struct{} {
	return f.ready
}

// Run relays messages from Redis until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	pubsub := f.client.Subscribe(ctx, ChangeChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChangeChannel, err)
	}
	close(f.ready)
	f.log.Info("listening for cart changes", slog.String("channel", ChangeChannel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var c models.Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				f.log.Warn("dropping malformed change", slog.Any("err", err))
				continue
			}
			_ = f.broker.Publish(ctx, c)
		}
	}
}

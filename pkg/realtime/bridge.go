package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Refresher recomputes derived state from the authoritative store.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Bridge turns change notifications on user_products into full refreshes of
// every attached view. It never patches state incrementally.
type Bridge struct {
	feed    Feed
	log     *slog.Logger
	timeout time.Duration
}

func NewBridge(feed Feed, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{feed: feed, log: log, timeout: 10 * time.Second}
}

// Attach subscribes to changes for userID and refreshes targets on each one.
// The returned disposer is idempotent; once it returns, no target is refreshed again.
func (b *Bridge) Attach(ctx context.Context, userID string, targets ...Refresher) (func(), error) {
	events, unsubscribe, err := b.feed.Subscribe(ctx, models.ChangeFilter{
		Table:  models.TableUserProducts,
		Event:  models.ChangeAny,
		UserID: userID,
	})
	if err != nil {
		return nil, err
	}

	runCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			select {
			case <-runCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				if !drain(runCtx, events) {
					return
				}
				b.refresh(runCtx, userID, targets)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			unsubscribe()
			<-done
		})
	}, nil
}

// drain swallows queued changes so a burst costs one refresh.
// It returns false when the subscription closed.
func drain(ctx context.Context, events <-chan models.Change) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-events:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func (b *Bridge) refresh(ctx context.Context, userID string, targets []Refresher) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	for _, t := range targets {
		if err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
			b.log.Warn("live refresh failed", slog.String("user_id", userID), slog.Any("err", err))
		}
	}
}

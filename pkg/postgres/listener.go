package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"julianmorley.ca/con-plar/storefront/pkg/models"
	"julianmorley.ca/con-plar/storefront/pkg/realtime"
)

// Channel is the NOTIFY channel the user_products trigger writes to.
const Channel = "user_products_changes"

// Listener is a change feed driven by LISTEN/NOTIFY. Row changes reach it
// through the table trigger, so writers do not need to publish.
type Listener struct {
	db       *sql.DB
	listener *pq.Listener
	broker   *realtime.MemoryFeed
	log      *slog.Logger
}

func NewListener(dsn string, db *sql.DB, log *slog.Logger) *Listener {
	l := &Listener{db: db, broker: realtime.NewMemoryFeed(), log: log}
	l.listener = pq.NewListener(dsn, 2*time.Second, time.Minute, l.onEvent)
	return l
}

func (l *Listener) onEvent(ev pq.ListenerEventType, err error) {
	if err != nil {
		l.log.Warn("postgres listener event", slog.Int("event", int(ev)), slog.Any("err", err))
	}
}

// Run listens until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.listener.Listen(Channel); err != nil {
		return fmt.Errorf("listen %s: %w", Channel, err)
	}
	defer l.listener.Close()
	l.log.Info("listening for cart changes", slog.String("channel", Channel))

	ticker := time.NewTicker(90 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.listener.Notify:
			l.dispatch(ctx, n)
		case <-ticker.C:
			go func() {
				if err := l.listener.Ping(); err != nil {
					l.log.Warn("postgres listener ping failed", slog.Any("err", err))
				}
			}()
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, n *pq.Notification) {
	c, err := decodeNotification(n)
	if err != nil {
		l.log.Warn("dropping malformed notification", slog.Any("err", err))
		return
	}
	_ = l.broker.Publish(ctx, c)
}

// decodeNotification parses a trigger payload. A nil notification means the
// connection was re-established and changes may have been missed, so it
// becomes a change that concerns every user.
func decodeNotification(n *pq.Notification) (models.Change, error) {
	if n == nil {
		return models.Change{Table: models.TableUserProducts, Event: models.ChangeAny, At: time.Now().UTC()}, nil
	}
	var c models.Change
	if err := json.Unmarshal([]byte(n.Extra), &c); err != nil {
		return models.Change{}, fmt.Errorf("decode %s payload: %w", n.Channel, err)
	}
	if c.Table == "" {
		c.Table = models.TableUserProducts
	}
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	return c, nil
}

// Publish sends c through NOTIFY so every listening instance sees it.
func (l *Listener) Publish(ctx context.Context, c models.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", Channel, err)
	}
	return nil
}

func (l *Listener) Subscribe(ctx context.Context, f models.ChangeFilter) (<-chan models.Change, func(), error) {
	return l.broker.Subscribe(ctx, f)
}

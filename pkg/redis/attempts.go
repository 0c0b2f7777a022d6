package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// DefaultAttemptTTL outlives the provider's hosted checkout page.
const DefaultAttemptTTL = 48 * time.Hour

// AttemptStore keeps checkout attempts in Redis hashes so the state machine
// survives the redirect to the payment provider and is shared by instances.
type AttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAttemptStore(client *redis.Client, ttl time.Duration) *AttemptStore {
	if ttl <= 0 {
		ttl = DefaultAttemptTTL
	}
	return &AttemptStore{client: client, ttl: ttl}
}

func attemptKey(sessionID string) string {
	return fmt.Sprintf("checkout:%s", sessionID)
}

// Save writes the whole attempt and refreshes its TTL.
func (s *AttemptStore) Save(ctx context.Context, a models.CheckoutAttempt) error {
	key := attemptKey(a.SessionID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, attemptFields(a))
	if a.ConfirmedAt == nil {
		pipe.HDel(ctx, key, "confirmed_at")
	}
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkout attempt %s: %w", a.SessionID, err)
	}
	return nil
}

func (s *AttemptStore) Get(ctx context.Context, sessionID string) (models.CheckoutAttempt, error) {
	data, err := s.client.HGetAll(ctx, attemptKey(sessionID)).Result()
	if err != nil {
		return models.CheckoutAttempt{}, fmt.Errorf("failed to load checkout attempt %s: %w", sessionID, err)
	}
	if len(data) == 0 {
		return models.CheckoutAttempt{}, models.ErrNotFound
	}
	return parseAttempt(data)
}

// CompareAndSwap replaces the attempt only if its stored state is still from.
// The check and the write run under WATCH, so two instances confirming the
// same session cannot both win.
func (s *AttemptStore) CompareAndSwap(ctx context.Context, from models.CheckoutState, a models.CheckoutAttempt) error {
	key := attemptKey(a.SessionID)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		state, err := tx.HGet(ctx, key, "state").Result()
		if errors.Is(err, redis.Nil) {
			return models.ErrNotFound
		}
		if err != nil {
			return err
		}
		if models.CheckoutState(state) != from {
			return models.ErrStateConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, attemptFields(a))
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return models.ErrStateConflict
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrStateConflict):
		return err
	default:
		return fmt.Errorf("failed to update checkout attempt %s: %w", a.SessionID, err)
	}
}

func attemptFields(a models.CheckoutAttempt) map[string]interface{} {
	fields := map[string]interface{}{
		"id":           a.ID,
		"session_id":   a.SessionID,
		"user_id":      a.UserID,
		"state":        string(a.State),
		"currency":     a.Currency,
		"amount_minor": strconv.FormatInt(a.AmountMinor, 10),
		"line_count":   strconv.Itoa(a.LineCount),
		"redirect_url": a.RedirectURL,
		"purchased":    strconv.FormatInt(a.Purchased, 10),
		"error":        a.Error,
		"created_at":   a.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":   a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if a.ConfirmedAt != nil {
		fields["confirmed_at"] = a.ConfirmedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func parseAttempt(data map[string]string) (models.CheckoutAttempt, error) {
	a := models.CheckoutAttempt{
		ID:          data["id"],
		SessionID:   data["session_id"],
		UserID:      data["user_id"],
		State:       models.CheckoutState(data["state"]),
		Currency:    data["currency"],
		RedirectURL: data["redirect_url"],
		Error:       data["error"],
	}

	var err error
	if v, ok := data["amount_minor"]; ok {
		if a.AmountMinor, err = strconv.ParseInt(v, 10, 64); err != nil {
			return a, fmt.Errorf("bad amount_minor %q: %w", v, err)
		}
	}
	if v, ok := data["line_count"]; ok {
		if a.LineCount, err = strconv.Atoi(v); err != nil {
			return a, fmt.Errorf("bad line_count %q: %w", v, err)
		}
	}
	if v, ok := data["purchased"]; ok {
		if a.Purchased, err = strconv.ParseInt(v, 10, 64); err != nil {
			return a, fmt.Errorf("bad purchased %q: %w", v, err)
		}
	}
	if a.CreatedAt, err = parseTime(data["created_at"]); err != nil {
		return a, err
	}
	if a.UpdatedAt, err = parseTime(data["updated_at"]); err != nil {
		return a, err
	}
	if v, ok := data["confirmed_at"]; ok && v != "" {
		t, err := parseTime(v)
		if err != nil {
			return a, err
		}
		a.ConfirmedAt = &t
	}
	return a, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", v, err)
	}
	return t, nil
}

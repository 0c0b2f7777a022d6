// Package checkout turns a cart into a paid order: it asks the payment
// provider for a hosted checkout page and, when the shopper comes back, moves
// every in-cart line to purchased in one bulk update.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"julianmorley.ca/con-plar/storefront/internal/cart"
	"julianmorley.ca/con-plar/storefront/pkg/auth"
	"julianmorley.ca/con-plar/storefront/pkg/models"
	"julianmorley.ca/con-plar/storefront/pkg/money"
)

// PaymentProvider hosts the payment page.
type PaymentProvider interface {
	CreateSession(ctx context.Context, req models.SessionRequest) (models.PaymentSession, error)
	SessionStatus(ctx context.Context, sessionID string) (models.PaymentStatus, error)
}

// AttemptStore persists attempts across the redirect, keyed by session id.
type AttemptStore interface {
	Save(ctx context.Context, a models.CheckoutAttempt) error
	Get(ctx context.Context, sessionID string) (models.CheckoutAttempt, error)
	CompareAndSwap(ctx context.Context, from models.CheckoutState, a models.CheckoutAttempt) error
}

// Journal records payments that need manual reconciliation.
type Journal interface {
	RecordCase(ctx context.Context, c models.ReconciliationCase) error
}

type Config struct {
	Currency string
	Log      *slog.Logger
	Now      func() time.Time
}

type Orchestrator struct {
	provider  PaymentProvider
	attempts  AttemptStore
	purchaser cart.Purchaser
	journal   Journal
	currency  string
	log       *slog.Logger
	now       func() time.Time
}

func New(provider PaymentProvider, attempts AttemptStore, purchaser cart.Purchaser, journal Journal, cfg Config) *Orchestrator {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		provider:  provider,
		attempts:  attempts,
		purchaser: purchaser,
		journal:   journal,
		currency:  money.Normalize(cfg.Currency),
		log:       cfg.Log.With("component", "checkout"),
		now:       cfg.Now,
	}
}

// Currency is the store currency attempts are priced in.
func (o *Orchestrator) Currency() string { return o.currency }

// Begin requests a payment session for the cart and returns the attempt in the
// redirected state. On a provider failure the returned attempt is back in idle
// and nothing in the store has changed.
func (o *Orchestrator) Begin(ctx context.Context, user auth.Identity, agg cart.Aggregate) (models.CheckoutAttempt, error) {
	if user.Anonymous() || agg.UserID != user.UserID {
		return models.CheckoutAttempt{}, cart.ErrUnauthenticated
	}
	if agg.IsEmpty() {
		return models.CheckoutAttempt{}, cart.ErrEmptyCart
	}

	now := o.now()
	attempt := models.CheckoutAttempt{
		ID:        uuid.NewString(),
		UserID:    user.UserID,
		State:     models.CheckoutIdle,
		Currency:  o.currency,
		LineCount: agg.Count(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	items, total, err := o.lineItems(agg)
	if err != nil {
		attempt.Error = err.Error()
		return attempt, cart.Wrap(cart.ErrPaymentSessionFailed, err)
	}
	attempt.AmountMinor = total

	if err := attempt.Transition(models.CheckoutSessionRequested, now); err != nil {
		return attempt, err
	}
	sess, err := o.provider.CreateSession(ctx, models.SessionRequest{
		AttemptID: attempt.ID,
		Currency:  o.currency,
		Items:     items,
		Customer:  models.Customer{UserID: user.UserID, Email: user.Email},
	})
	if err != nil {
		_ = attempt.Transition(models.CheckoutIdle, o.now())
		attempt.Error = err.Error()
		o.log.Warn("payment session request failed", "attempt", attempt.ID, "user", user.UserID, "error", err)
		return attempt, cart.Wrap(cart.ErrPaymentSessionFailed, err)
	}

	attempt.SessionID = sess.ID
	attempt.RedirectURL = sess.URL
	if err := attempt.Transition(models.CheckoutRedirected, o.now()); err != nil {
		return attempt, err
	}
	if err := o.attempts.Save(ctx, attempt); err != nil {
		o.log.Error("could not save checkout attempt", "attempt", attempt.ID, "session", sess.ID, "error", err)
		return attempt, cart.Wrap(cart.ErrPaymentSessionFailed, err)
	}

	o.log.Info("checkout started", "attempt", attempt.ID, "session", sess.ID, "user", user.UserID,
		"lines", attempt.LineCount, "amount_minor", attempt.AmountMinor, "currency", attempt.Currency)
	return attempt, nil
}

func (o *Orchestrator) lineItems(agg cart.Aggregate) ([]models.PaymentLineItem, int64, error) {
	lines := agg.Lines()
	items := make([]models.PaymentLineItem, 0, len(lines))
	var total int64
	for _, l := range lines {
		unit, err := money.MinorUnits(l.Product.Price, o.currency)
		if err != nil {
			return nil, 0, fmt.Errorf("price %s: %w", l.Product.Name, err)
		}
		items = append(items, models.PaymentLineItem{
			Name:       l.Product.Name,
			UnitAmount: unit,
			Quantity:   int64(l.Quantity),
		})
		if total, err = money.AddLine(total, unit, int64(l.Quantity)); err != nil {
			return nil, 0, fmt.Errorf("total %s: %w", l.Product.Name, err)
		}
	}
	return items, total, nil
}

// Confirm completes the attempt behind sessionID once the provider reports it
// paid. Confirming an already confirmed attempt returns it without touching
// the store again.
func (o *Orchestrator) Confirm(ctx context.Context, user auth.Identity, sessionID string) (models.CheckoutAttempt, error) {
	if user.Anonymous() {
		return models.CheckoutAttempt{}, cart.ErrUnauthenticated
	}
	if sessionID == "" {
		return models.CheckoutAttempt{}, cart.ErrUnknownSession
	}

	attempt, err := o.attempts.Get(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return models.CheckoutAttempt{}, cart.ErrUnknownSession
	}
	if err != nil {
		return models.CheckoutAttempt{}, cart.Wrap(cart.ErrStoreUnavailable, err)
	}
	if attempt.UserID != user.UserID {
		o.log.Warn("checkout session presented by another user", "session", sessionID, "user", user.UserID)
		return models.CheckoutAttempt{}, cart.ErrUnknownSession
	}
	if attempt.State != models.CheckoutRedirected {
		return o.settled(attempt)
	}

	status, err := o.provider.SessionStatus(ctx, sessionID)
	if errors.Is(err, models.ErrNotFound) {
		return attempt, cart.ErrUnknownSession
	}
	if err != nil {
		return attempt, cart.Wrap(cart.ErrPaymentSessionFailed, err)
	}
	if !status.Settled() {
		return attempt, cart.Wrap(cart.ErrPaymentNotCompleted, fmt.Errorf("payment status %s", status))
	}

	// Money has moved. Finish even if the shopper goes away.
	ctx = context.WithoutCancel(ctx)

	now := o.now()
	confirming := attempt
	if err := confirming.Transition(models.CheckoutConfirming, now); err != nil {
		return attempt, err
	}
	if err := o.attempts.CompareAndSwap(ctx, models.CheckoutRedirected, confirming); err != nil {
		if errors.Is(err, models.ErrStateConflict) {
			return o.reload(ctx, sessionID)
		}
		return attempt, cart.Wrap(cart.ErrStoreUnavailable, err)
	}
	attempt = confirming

	n, err := o.purchaser.MarkPurchased(ctx, attempt.UserID, now)
	if err != nil {
		return o.fail(ctx, attempt, err)
	}
	attempt.Purchased = n
	if err := attempt.Transition(models.CheckoutConfirmed, now); err != nil {
		return attempt, err
	}
	if err := o.attempts.CompareAndSwap(ctx, models.CheckoutConfirming, attempt); err != nil {
		o.log.Error("could not record confirmed checkout", "attempt", attempt.ID, "session", sessionID, "error", err)
	}
	if n != int64(attempt.LineCount) {
		o.log.Warn("purchased line count differs from checkout", "session", sessionID, "expected", attempt.LineCount, "purchased", n)
	}

	o.log.Info("checkout confirmed", "attempt", attempt.ID, "session", sessionID, "user", attempt.UserID, "purchased", n)
	return attempt, nil
}

// reload reports the outcome decided by whoever won the confirmation race.
func (o *Orchestrator) reload(ctx context.Context, sessionID string) (models.CheckoutAttempt, error) {
	attempt, err := o.attempts.Get(ctx, sessionID)
	if err != nil {
		return attempt, cart.Wrap(cart.ErrStoreUnavailable, err)
	}
	return o.settled(attempt)
}

func (o *Orchestrator) settled(attempt models.CheckoutAttempt) (models.CheckoutAttempt, error) {
	switch attempt.State {
	case models.CheckoutConfirmed:
		return attempt, nil
	case models.CheckoutFailed:
		return attempt, cart.Wrap(cart.ErrConfirmationFailed, errors.New(attempt.Error))
	case models.CheckoutConfirming, models.CheckoutRedirected:
		return attempt, cart.ErrCheckoutInProgress
	default:
		return attempt, cart.ErrUnknownSession
	}
}

func (o *Orchestrator) fail(ctx context.Context, attempt models.CheckoutAttempt, cause error) (models.CheckoutAttempt, error) {
	attempt.Error = cause.Error()
	if err := attempt.Transition(models.CheckoutFailed, o.now()); err != nil {
		return attempt, err
	}
	o.log.Error("paid checkout could not be completed", "attempt", attempt.ID, "session", attempt.SessionID,
		"user", attempt.UserID, "amount_minor", attempt.AmountMinor, "currency", attempt.Currency, "error", cause)

	if err := o.attempts.CompareAndSwap(ctx, models.CheckoutConfirming, attempt); err != nil {
		o.log.Error("could not record failed checkout", "attempt", attempt.ID, "error", err)
	}
	if o.journal != nil {
		amount, _ := money.FormatMinor(attempt.AmountMinor, attempt.Currency)
		err := o.journal.RecordCase(ctx, models.ReconciliationCase{
			AttemptID:   attempt.ID,
			SessionID:   attempt.SessionID,
			UserID:      attempt.UserID,
			Currency:    attempt.Currency,
			AmountMinor: attempt.AmountMinor,
			Amount:      amount,
			Reason:      cause.Error(),
			Status:      models.CaseOpen,
			CreatedAt:   attempt.UpdatedAt,
		})
		if err != nil {
			o.log.Error("could not journal reconciliation case", "session", attempt.SessionID, "error", err)
		}
	}
	return attempt, cart.Wrap(cart.ErrConfirmationFailed, cause)
}

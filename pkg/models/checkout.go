package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// CheckoutState is the state of one checkout attempt.
type CheckoutState string

const (
	CheckoutIdle             CheckoutState = "idle"
	CheckoutSessionRequested CheckoutState = "session_requested"
	CheckoutRedirected       CheckoutState = "redirected"
	CheckoutConfirming       CheckoutState = "confirming"
	CheckoutConfirmed        CheckoutState = "confirmed"
	CheckoutFailed           CheckoutState = "failed"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutIdle:             {CheckoutSessionRequested},
	CheckoutSessionRequested: {CheckoutRedirected, CheckoutIdle},
	CheckoutRedirected:       {CheckoutConfirming},
	CheckoutConfirming:       {CheckoutConfirmed, CheckoutFailed},
}

// CanTransition reports whether moving from s to next is allowed.
// Confirmed and Failed are terminal.
func (s CheckoutState) CanTransition(next CheckoutState) bool {
	for _, allowed := range checkoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s CheckoutState) Terminal() bool {
	return s == CheckoutConfirmed || s == CheckoutFailed
}

// PaymentLineItem is one line of a payment-session request.
type PaymentLineItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"` // provider minor units
	Quantity   int64  `json:"quantity"`
}

// Customer carries the details forwarded to the payment provider.
type Customer struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// SessionRequest asks the payment provider for a hosted checkout page.
type SessionRequest struct {
	AttemptID string            `json:"attempt_id"` // idempotency key
	Currency  string            `json:"currency"`
	Items     []PaymentLineItem `json:"items"`
	Customer  Customer          `json:"customer"`
}

// PaymentSession is the provider's handle for a hosted checkout page.
type PaymentSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentNoneDue PaymentStatus = "no_payment_required"
	PaymentExpired PaymentStatus = "expired"
	PaymentUnknown PaymentStatus = "unknown"
)

// Settled reports whether the provider considers the session paid.
func (s PaymentStatus) Settled() bool {
	return s == PaymentPaid || s == PaymentNoneDue
}

// CheckoutAttempt tracks one checkout from session request to confirmation.
// It is keyed by the provider session id once the session exists.
type CheckoutAttempt struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	UserID      string        `json:"user_id"`
	State       CheckoutState `json:"state"`
	Currency    string        `json:"currency"`
	AmountMinor int64         `json:"amount_minor"`
	LineCount   int           `json:"line_count"`
	RedirectURL string        `json:"redirect_url,omitempty"`
	Purchased   int64         `json:"purchased"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
}

// Transition moves the attempt to next and stamps UpdatedAt.
func (a *CheckoutAttempt) Transition(next CheckoutState, now time.Time) error {
	if a.State.Terminal() {
		return fmt.Errorf("checkout attempt %s is already %s", a.ID, a.State)
	}
	if !a.State.CanTransition(next) {
		return fmt.Errorf("checkout attempt %s: illegal transition %s -> %s", a.ID, a.State, next)
	}
	a.State = next
	a.UpdatedAt = now
	if next == CheckoutConfirmed {
		a.ConfirmedAt = &now
	}
	return nil
}

// ReconciliationCase records a payment that was captured but whose cart could
// not be transitioned to purchased. Support resolves these by hand.
type ReconciliationCase struct {
	ID          bson.ObjectID `json:"id" bson:"_id,omitempty"`
	AttemptID   string        `json:"attempt_id" bson:"attempt_id"`
	SessionID   string        `json:"session_id" bson:"session_id"`
	UserID      string        `json:"user_id" bson:"user_id"`
	Currency    string        `json:"currency" bson:"currency"`
	AmountMinor int64         `json:"amount_minor" bson:"amount_minor"`
	Amount      string        `json:"amount,omitempty" bson:"amount,omitempty"` // e.g. "2200.00 INR"
	Reason      string        `json:"reason" bson:"reason"`
	Status      string        `json:"status" bson:"status"` // open, resolved
	Note        string        `json:"note,omitempty" bson:"note,omitempty"`
	CreatedAt   time.Time     `json:"created_at" bson:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

const (
	CaseOpen     = "open"
	CaseResolved = "resolved"
)

// CurrencyExposure totals the captured money stuck in open cases.
type CurrencyExposure struct {
	Currency    string `json:"currency" bson:"_id"`
	Cases       int    `json:"cases" bson:"cases"`
	AmountMinor int64  `json:"amount_minor" bson:"amount_minor"`
}

type ResolveCaseRequest struct {
	Note string `json:"note" binding:"required,min=2,max=1000"`
}

// Package payment adapts hosted checkout providers.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

var ErrInvalidRequest = errors.New("invalid payment session request")

type StripeConfig struct {
	SecretKey  string
	SuccessURL string // must contain {CHECKOUT_SESSION_ID}
	CancelURL  string
	// Backend overrides the API endpoint, for tests.
	Backend stripe.Backend
}

// Stripe creates and inspects Stripe Checkout Sessions.
type Stripe struct {
	api        *client.API
	successURL string
	cancelURL  string
}

func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if !strings.Contains(cfg.SuccessURL, "{CHECKOUT_SESSION_ID}") {
		return nil, fmt.Errorf("success URL %q must contain {CHECKOUT_SESSION_ID}", cfg.SuccessURL)
	}

	var backends *stripe.Backends
	if cfg.Backend != nil {
		backends = &stripe.Backends{API: cfg.Backend, Connect: cfg.Backend, Uploads: cfg.Backend}
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &Stripe{api: api, successURL: cfg.SuccessURL, cancelURL: cfg.CancelURL}, nil
}

func (s *Stripe) CreateSession(ctx context.Context, req models.SessionRequest) (models.PaymentSession, error) {
	if len(req.Items) == 0 {
		return models.PaymentSession{}, fmt.Errorf("%w: no line items", ErrInvalidRequest)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.AttemptID)

	currency := strings.ToLower(req.Currency)
	for _, item := range req.Items {
		if item.UnitAmount < 0 || item.Quantity < 1 {
			return models.PaymentSession{}, fmt.Errorf("%w: %s has amount %d quantity %d", ErrInvalidRequest, item.Name, item.UnitAmount, item.Quantity)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(item.UnitAmount),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	if req.Customer.UserID != "" {
		params.ClientReferenceID = stripe.String(req.Customer.UserID)
		params.AddMetadata("user_id", req.Customer.UserID)
	}
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	params.AddMetadata("attempt_id", req.AttemptID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return models.PaymentSession{}, fmt.Errorf("create checkout session: %w", err)
	}
	return models.PaymentSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) SessionStatus(ctx context.Context, sessionID string) (models.PaymentStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return models.PaymentUnknown, models.ErrNotFound
		}
		return models.PaymentUnknown, fmt.Errorf("get checkout session: %w", err)
	}

	if sess.Status == stripe.CheckoutSessionStatusExpired {
		return models.PaymentExpired, nil
	}
	switch sess.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid:
		return models.PaymentPaid, nil
	case stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return models.PaymentNoneDue, nil
	case stripe.CheckoutSessionPaymentStatusUnpaid:
		return models.PaymentUnpaid, nil
	default:
		return models.PaymentUnknown, nil
	}
}

package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

const successURL = "https://shop.example/checkout/success?session_id={CHECKOUT_SESSION_ID}"

func newStripe(t *testing.T, handler http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	s, err := NewStripe(StripeConfig{
		SecretKey:  "sk_test_123",
		SuccessURL: successURL,
		CancelURL:  "https://shop.example/cart",
		Backend:    backend,
	})
	require.NoError(t, err)
	return s
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestStripe_CreateSessionSendsLineItems(t *testing.T) {
	s := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.NoError(t, r.ParseForm())

		assert.Equal(t, "payment", r.Form.Get("mode"))
		assert.Equal(t, successURL, r.Form.Get("success_url"))
		assert.Equal(t, "user-1", r.Form.Get("client_reference_id"))
		assert.Equal(t, "buyer@example.com", r.Form.Get("customer_email"))
		assert.Equal(t, "inr", r.Form.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "Linen Shirt", r.Form.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "50000", r.Form.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "3", r.Form.Get("line_items[0][quantity]"))
		assert.Equal(t, "120000", r.Form.Get("line_items[1][price_data][unit_amount]"))
		assert.Equal(t, "att-1", r.Header.Get("Idempotency-Key"))

		writeJSON(w, http.StatusOK, map[string]any{
			"id":     "cs_test_1",
			"object": "checkout.session",
			"url":    "https://checkout.stripe.com/c/pay/cs_test_1",
		})
	})

	sess, err := s.CreateSession(context.Background(), models.SessionRequest{
		AttemptID: "att-1",
		Currency:  "INR",
		Items: []models.PaymentLineItem{
			{Name: "Linen Shirt", UnitAmount: 50000, Quantity: 3},
			{Name: "Denim Jacket", UnitAmount: 120000, Quantity: 1},
		},
		Customer: models.Customer{UserID: "user-1", Email: "buyer@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.URL)
}

func TestStripe_CreateSessionProviderError(t *testing.T) {
	s := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{"type": "invalid_request_error", "message": "Amount must convert to at least 50 cents"},
		})
	})

	_, err := s.CreateSession(context.Background(), models.SessionRequest{
		AttemptID: "att-2",
		Currency:  "INR",
		Items:     []models.PaymentLineItem{{Name: "Sticker", UnitAmount: 100, Quantity: 1}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create checkout session")
}

func TestStripe_CreateSessionRejectsBadItems(t *testing.T) {
	s := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called")
	})

	_, err := s.CreateSession(context.Background(), models.SessionRequest{AttemptID: "a"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.CreateSession(context.Background(), models.SessionRequest{
		AttemptID: "a",
		Items:     []models.PaymentLineItem{{Name: "x", UnitAmount: 100, Quantity: 0}},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStripe_SessionStatus(t *testing.T) {
	sessions := map[string]map[string]any{
		"cs_paid":    {"id": "cs_paid", "object": "checkout.session", "status": "complete", "payment_status": "paid"},
		"cs_open":    {"id": "cs_open", "object": "checkout.session", "status": "open", "payment_status": "unpaid"},
		"cs_expired": {"id": "cs_expired", "object": "checkout.session", "status": "expired", "payment_status": "unpaid"},
		"cs_free":    {"id": "cs_free", "object": "checkout.session", "status": "complete", "payment_status": "no_payment_required"},
	}
	s := newStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		id := strings.TrimPrefix(r.URL.Path, "/v1/checkout/sessions/")
		body, ok := sessions[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"type": "invalid_request_error", "message": "No such checkout.session"},
			})
			return
		}
		writeJSON(w, http.StatusOK, body)
	})

	tests := []struct {
		id   string
		want models.PaymentStatus
	}{
		{"cs_paid", models.PaymentPaid},
		{"cs_open", models.PaymentUnpaid},
		{"cs_expired", models.PaymentExpired},
		{"cs_free", models.PaymentNoneDue},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := s.SessionStatus(context.Background(), tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := s.SessionStatus(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestNewStripe_ValidatesConfig(t *testing.T) {
	_, err := NewStripe(StripeConfig{SuccessURL: successURL})
	assert.Error(t, err)

	_, err = NewStripe(StripeConfig{SecretKey: "sk_test", SuccessURL: "https://shop.example/success"})
	assert.Error(t, err)
}

func TestSandbox(t *testing.T) {
	sb := NewSandbox(successURL)
	ctx := context.Background()

	sess, err := sb.CreateSession(ctx, models.SessionRequest{
		AttemptID: "att-1",
		Items:     []models.PaymentLineItem{{Name: "Linen Shirt", UnitAmount: 50000, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sess.ID, "cs_sandbox_"))
	assert.Equal(t, "https://shop.example/checkout/success?session_id="+sess.ID, sess.URL)

	st, err := sb.SessionStatus(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, st)

	sb.SetStatus(sess.ID, models.PaymentUnpaid)
	st, _ = sb.SessionStatus(ctx, sess.ID)
	assert.Equal(t, models.PaymentUnpaid, st)

	_, err = sb.SessionStatus(ctx, "cs_nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

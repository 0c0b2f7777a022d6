package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Sandbox is an in-process provider for local development. Sessions are paid
// as soon as they are created and the redirect goes straight to the success URL.
type Sandbox struct {
	successURL string

	mu       sync.Mutex
	sessions map[string]models.PaymentStatus
	requests map[string]models.SessionRequest
}

func NewSandbox(successURL string) *Sandbox {
	return &Sandbox{
		successURL: successURL,
		sessions:   make(map[string]models.PaymentStatus),
		requests:   make(map[string]models.SessionRequest),
	}
}

func (s *Sandbox) CreateSession(_ context.Context, req models.SessionRequest) (models.PaymentSession, error) {
	if len(req.Items) == 0 {
		return models.PaymentSession{}, fmt.Errorf("%w: no line items", ErrInvalidRequest)
	}
	id := "cs_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	s.sessions[id] = models.PaymentPaid
	s.requests[id] = req
	s.mu.Unlock()

	return models.PaymentSession{ID: id, URL: strings.ReplaceAll(s.successURL, "{CHECKOUT_SESSION_ID}", id)}, nil
}

func (s *Sandbox) SessionStatus(_ context.Context, sessionID string) (models.PaymentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionID]
	if !ok {
		return models.PaymentUnknown, models.ErrNotFound
	}
	return st, nil
}

// SetStatus overrides a session's status.
func (s *Sandbox) SetStatus(sessionID string, st models.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = st
}

// Request returns what was asked for when sessionID was created.
func (s *Sandbox) Request(sessionID string) (models.SessionRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[sessionID]
	return r, ok
}

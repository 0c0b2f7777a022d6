package cart

// Kind classifies cart and checkout failures for callers and the HTTP layer.
type Kind int

const (
	KindUnauthenticated Kind = iota + 1
	KindRemoteWriteFailed
	KindConflictResolutionFailed
	KindStoreUnavailable
	KindProductNotFound
	KindLineNotFound
	KindSessionClosed
	KindEmptyCart
	KindPaymentSessionFailed
	KindPaymentNotCompleted
	KindUnknownSession
	KindCheckoutInProgress
	KindConfirmationFailed
)

// Error is a kinded failure. Two Errors match under errors.Is when their kinds
// match; a conflict-resolution failure also matches ErrRemoteWriteFailed.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == KindConflictResolutionFailed && t.Kind == KindRemoteWriteFailed
}

var (
	ErrUnauthenticated          = &Error{Kind: KindUnauthenticated, Message: "please log in to continue"}
	ErrRemoteWriteFailed        = &Error{Kind: KindRemoteWriteFailed, Message: "could not save your cart, please try again"}
	ErrConflictResolutionFailed = &Error{Kind: KindConflictResolutionFailed, Message: "cart update conflicted, please try again"}
	ErrStoreUnavailable         = &Error{Kind: KindStoreUnavailable, Message: "cart is temporarily unavailable"}
	ErrProductNotFound          = &Error{Kind: KindProductNotFound, Message: "product not found"}
	ErrLineNotFound             = &Error{Kind: KindLineNotFound, Message: "item is no longer in your cart"}
	ErrSessionClosed            = &Error{Kind: KindSessionClosed, Message: "cart session closed"}
	ErrEmptyCart                = &Error{Kind: KindEmptyCart, Message: "your cart is empty"}
	ErrPaymentSessionFailed     = &Error{Kind: KindPaymentSessionFailed, Message: "could not start payment, please try again"}
	ErrPaymentNotCompleted      = &Error{Kind: KindPaymentNotCompleted, Message: "payment has not been completed"}
	ErrUnknownSession           = &Error{Kind: KindUnknownSession, Message: "unknown checkout session"}
	ErrCheckoutInProgress       = &Error{Kind: KindCheckoutInProgress, Message: "checkout is already being confirmed"}
	ErrConfirmationFailed       = &Error{Kind: KindConfirmationFailed, Message: "your payment was received but we could not complete your order, please contact support"}
)

// Wrap returns a copy of the sentinel carrying cause.
func Wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Message: sentinel.Message, Cause: cause}
}

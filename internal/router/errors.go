package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"julianmorley.ca/con-plar/storefront/internal/cart"
	"julianmorley.ca/con-plar/storefront/pkg/global"
	"julianmorley.ca/con-plar/storefront/pkg/models"
)

var kindStatus = map[cart.Kind]int{
	cart.KindUnauthenticated:          http.StatusUnauthorized,
	cart.KindRemoteWriteFailed:        http.StatusServiceUnavailable,
	cart.KindConflictResolutionFailed: http.StatusServiceUnavailable,
	cart.KindStoreUnavailable:         http.StatusServiceUnavailable,
	cart.KindProductNotFound:          http.StatusNotFound,
	cart.KindLineNotFound:             http.StatusNotFound,
	cart.KindSessionClosed:            http.StatusServiceUnavailable,
	cart.KindEmptyCart:                http.StatusBadRequest,
	cart.KindPaymentSessionFailed:     http.StatusBadGateway,
	cart.KindPaymentNotCompleted:      http.StatusPaymentRequired,
	cart.KindUnknownSession:           http.StatusNotFound,
	cart.KindCheckoutInProgress:       http.StatusConflict,
	cart.KindConfirmationFailed:       http.StatusInternalServerError,
}

var kindCode = map[cart.Kind]string{
	cart.KindUnauthenticated:          "unauthenticated",
	cart.KindRemoteWriteFailed:        "remote_write_failed",
	cart.KindConflictResolutionFailed: "conflict",
	cart.KindStoreUnavailable:         "store_unavailable",
	cart.KindProductNotFound:          "product_not_found",
	cart.KindLineNotFound:             "line_not_found",
	cart.KindSessionClosed:            "session_closed",
	cart.KindEmptyCart:                "empty_cart",
	cart.KindPaymentSessionFailed:     "payment_session_failed",
	cart.KindPaymentNotCompleted:      "payment_not_completed",
	cart.KindUnknownSession:           "unknown_session",
	cart.KindCheckoutInProgress:       "checkout_in_progress",
	cart.KindConfirmationFailed:       "confirmation_failed",
}

// writeError is the single place where failures become HTTP responses.
// Only the user-facing message of a kinded error is sent; causes are logged.
func (h *Handler) writeError(c *gin.Context, err error) {
	var kerr *cart.Error
	if errors.As(err, &kerr) {
		status, ok := kindStatus[kerr.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		if status >= 500 {
			h.log.Error("request failed", "path", c.FullPath(), "kind", kindCode[kerr.Kind], "error", err)
		}
		c.JSON(status, global.ErrorResponse(kerr.Message, []global.ValidationError{
			{Field: "request", Message: kerr.Message, Code: kindCode[kerr.Kind]},
		}))
		return
	}

	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, global.ErrorResponse("Not found", nil))
		return
	}

	h.log.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, global.ErrorResponse("Something went wrong", nil))
}

func badRequest(c *gin.Context, field, message, code string) {
	c.JSON(http.StatusBadRequest, global.ErrorResponse("Invalid request", []global.ValidationError{
		{Field: field, Message: message, Code: code},
	}))
}

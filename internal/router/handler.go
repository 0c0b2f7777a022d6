package router

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"julianmorley.ca/con-plar/storefront/internal/cart"
	"julianmorley.ca/con-plar/storefront/internal/checkout"
	"julianmorley.ca/con-plar/storefront/pkg/global"
	"julianmorley.ca/con-plar/storefront/pkg/models"
)

// Catalog is the read side of the product store.
type Catalog interface {
	Ping(ctx context.Context) error
	GetProduct(ctx context.Context, productID string) (models.Product, error)
	ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, error)
}

// Reconciliation is what support needs from the journal.
type Reconciliation interface {
	OpenCases(ctx context.Context, limit int64) ([]models.ReconciliationCase, error)
	Resolve(ctx context.Context, id string, note string) (models.ReconciliationCase, error)
	OpenExposure(ctx context.Context) ([]models.CurrencyExposure, error)
}

type Handler struct {
	catalog   Catalog
	carts     *cart.Registry
	checkout  *checkout.Orchestrator
	cases     Reconciliation
	log       *slog.Logger
	heartbeat time.Duration
}

func NewHandler(catalog Catalog, carts *cart.Registry, orch *checkout.Orchestrator, cases Reconciliation, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		catalog:   catalog,
		carts:     carts,
		checkout:  orch,
		cases:     cases,
		log:       log.With("component", "http"),
		heartbeat: 25 * time.Second,
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.catalog.Ping(ctx); err != nil {
		h.log.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, global.ErrorResponse("Database connection failed", nil))
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(map[string]string{"status": "OK", "database": "Connected"}))
}

func (h *Handler) ListProducts(c *gin.Context) {
	var filter models.ProductFilter
	for _, bound := range []struct {
		name string
		dst  **int64
	}{{"min_price", &filter.MinPrice}, {"max_price", &filter.MaxPrice}} {
		raw := c.Query(bound.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			badRequest(c, bound.name, bound.name+" must be a non-negative whole number", "invalid_format")
			return
		}
		*bound.dst = &v
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && *filter.MinPrice > *filter.MaxPrice {
		badRequest(c, "min_price", "min_price cannot exceed max_price", "invalid_range")
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "limit", "limit must be a positive number", "invalid_format")
			return
		}
		filter.Limit = n
	}
	filter.Query = c.Query("q")

	products, err := h.catalog.ListProducts(c.Request.Context(), filter.Normalize())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Header("X-Total-Count", strconv.Itoa(len(products)))
	c.JSON(http.StatusOK, global.SuccessResponse(products))
}

func (h *Handler) GetProduct(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		badRequest(c, "id", "product id must be a UUID", "invalid_format")
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		h.writeError(c, cart.ErrProductNotFound)
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(product))
}

// withCart runs fn against the caller's shared cart state.
func (h *Handler) withCart(c *gin.Context, fn func(*cart.Handle) (cart.Aggregate, error)) {
	handle, err := h.carts.Acquire(c.Request.Context(), identity(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer handle.Release()

	agg, err := fn(handle)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(agg.View(h.checkout.Currency())))
}

func (h *Handler) GetCart(c *gin.Context) {
	h.withCart(c, func(handle *cart.Handle) (cart.Aggregate, error) {
		return handle.Session.Load(c.Request.Context())
	})
}

func (h *Handler) GetCartCount(c *gin.Context) {
	handle, err := h.carts.Acquire(c.Request.Context(), identity(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer handle.Release()

	if err := handle.Count.Refresh(c.Request.Context()); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(gin.H{"count": handle.Count.Value()}))
}

func (h *Handler) AddToCart(c *gin.Context) {
	var req models.AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "product_id", "product_id must be a UUID", "invalid_format")
		return
	}
	h.withCart(c, func(handle *cart.Handle) (cart.Aggregate, error) {
		return handle.Session.AddOrIncrement(c.Request.Context(), req.ProductID)
	})
}

func (h *Handler) UpdateCartItem(c *gin.Context) {
	var req models.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Quantity == nil {
		badRequest(c, "quantity", "quantity is required", "required")
		return
	}
	lineID := c.Param("id")
	h.withCart(c, func(handle *cart.Handle) (cart.Aggregate, error) {
		return handle.Session.SetQuantity(c.Request.Context(), lineID, *req.Quantity)
	})
}

func (h *Handler) RemoveFromCart(c *gin.Context) {
	lineID := c.Param("id")
	h.withCart(c, func(handle *cart.Handle) (cart.Aggregate, error) {
		return handle.Session.Remove(c.Request.Context(), lineID)
	})
}

type checkoutResponse struct {
	AttemptID string `json:"attempt_id"`
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// BeginCheckout answers with the provider URL, or redirects to it when the
// caller asks with ?redirect=1.
func (h *Handler) BeginCheckout(c *gin.Context) {
	user := identity(c)
	handle, err := h.carts.Acquire(c.Request.Context(), user.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer handle.Release()

	// Only committed lines are charged for.
	agg, err := handle.Session.Authoritative(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	attempt, err := h.checkout.Begin(c.Request.Context(), user, agg)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if c.Query("redirect") == "1" {
		c.Redirect(http.StatusSeeOther, attempt.RedirectURL)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(checkoutResponse{
		AttemptID: attempt.ID,
		SessionID: attempt.SessionID,
		URL:       attempt.RedirectURL,
	}))
}

func (h *Handler) ConfirmCheckout(c *gin.Context) {
	user := identity(c)
	sessionID := c.Query("session_id")
	if sessionID == "" {
		badRequest(c, "session_id", "session_id query parameter is required", "required")
		return
	}

	attempt, err := h.checkout.Confirm(c.Request.Context(), user, sessionID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.carts.Refresh(c.Request.Context(), user.UserID); err != nil {
		h.log.Warn("cart refresh after checkout failed", "user", user.UserID, "error", err)
	}
	c.JSON(http.StatusOK, global.SuccessResponse(attempt))
}

func (h *Handler) ListReconciliationCases(c *gin.Context) {
	var limit int64
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			badRequest(c, "limit", "limit must be a positive number", "invalid_format")
			return
		}
		limit = n
	}
	cases, err := h.cases.OpenCases(c.Request.Context(), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(cases))
}

func (h *Handler) ResolveReconciliationCase(c *gin.Context) {
	var req models.ResolveCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "note", "note must be between 2 and 1000 characters", "invalid_format")
		return
	}
	resolved, err := h.cases.Resolve(c.Request.Context(), c.Param("id"), req.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.log.Info("reconciliation case resolved", "case", c.Param("id"), "session", resolved.SessionID)
	c.JSON(http.StatusOK, global.SuccessResponse(resolved))
}

func (h *Handler) ReconciliationExposure(c *gin.Context) {
	exposure, err := h.cases.OpenExposure(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, global.SuccessResponse(exposure))
}

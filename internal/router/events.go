package router

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"julianmorley.ca/con-plar/storefront/internal/cart"
)

// latest keeps only the newest value so observers never block.
func latest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// CartEvents streams the caller's cart as server-sent events: a "cart" event
// with the full view and a "count" event with the badge value, each sent
// whenever it changes on this instance or in the store.
func (h *Handler) CartEvents(c *gin.Context) {
	user := identity(c)
	handle, err := h.carts.Acquire(c.Request.Context(), user.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	defer handle.Release()

	views := make(chan cart.Aggregate, 1)
	counts := make(chan int, 1)
	stopViews := handle.Session.Subscribe(func(a cart.Aggregate) { latest(views, a) })
	defer stopViews()
	stopCounts := handle.Count.Subscribe(func(n int) { latest(counts, n) })
	defer stopCounts()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	currency := h.checkout.Currency()
	ctx := c.Request.Context()

	h.log.Debug("cart stream opened", "user", user.UserID)
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case a := <-views:
			c.SSEvent("cart", a.View(currency))
		case n := <-counts:
			c.SSEvent("count", gin.H{"count": n})
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
		}
		return true
	})
	h.log.Debug("cart stream closed", "user", user.UserID)
}

package router

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"julianmorley.ca/con-plar/storefront/pkg/auth"
)

type EngineConfig struct {
	Production     bool
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	AdminToken     string
	Verifier       *auth.Verifier
	Log            *slog.Logger
}

func NewEngine(cfg EngineConfig) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Log))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", "X-Admin-Token"},
		ExposeHeaders:    []string{"Content-Length", "X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(Authenticate(cfg.Verifier))
	return router
}

func InitializeRoutes(router *gin.Engine, h *Handler, cfg EngineConfig) {
	limit := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware()

	api := router.Group("/api")
	{
		api.GET("/health", h.HealthCheck)

		products := api.Group("/products")
		{
			products.GET("", h.ListProducts)
			products.GET("/:id", h.GetProduct)
		}

		cart := api.Group("/cart")
		{
			cart.GET("", h.GetCart)
			cart.GET("/count", h.GetCartCount)
			cart.GET("/events", RequireUser(), h.CartEvents)
			cart.POST("/items", RequireUser(), limit, h.AddToCart)
			cart.PUT("/items/:id", RequireUser(), limit, h.UpdateCartItem)
			cart.DELETE("/items/:id", RequireUser(), limit, h.RemoveFromCart)
		}

		checkout := api.Group("/checkout", RequireUser())
		{
			checkout.POST("", limit, h.BeginCheckout)
			checkout.GET("/success", h.ConfirmCheckout)
		}

		admin := api.Group("/admin", AdminOnly(cfg.AdminToken))
		{
			admin.GET("/reconciliation", h.ListReconciliationCases)
			admin.GET("/reconciliation/exposure", h.ReconciliationExposure)
			admin.POST("/reconciliation/:id/resolve", h.ResolveReconciliationCase)
		}
	}
}

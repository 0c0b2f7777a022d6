package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"julianmorley.ca/con-plar/storefront/internal/cart"
	"julianmorley.ca/con-plar/storefront/internal/checkout"
	"julianmorley.ca/con-plar/storefront/internal/router"
	"julianmorley.ca/con-plar/storefront/pkg/auth"
	"julianmorley.ca/con-plar/storefront/pkg/global"
	"julianmorley.ca/con-plar/storefront/pkg/logger"
	"julianmorley.ca/con-plar/storefront/pkg/memstore"
	mongostore "julianmorley.ca/con-plar/storefront/pkg/mongo"
	"julianmorley.ca/con-plar/storefront/pkg/payment"
	"julianmorley.ca/con-plar/storefront/pkg/postgres"
	"julianmorley.ca/con-plar/storefront/pkg/realtime"
	redisstore "julianmorley.ca/con-plar/storefront/pkg/redis"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("error loading .env file", "error", err)
		os.Exit(1)
	}

	cfg, err := global.LoadConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(logger.Options{Service: "storefront", Env: cfg.AppEnv, Level: cfg.LogLevel, AddSource: cfg.Production()})
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("bye")
}

// journal is both where checkout files cases and where support reads them.
type journal interface {
	checkout.Journal
	router.Reconciliation
}

func run(ctx context.Context, cfg global.Config, log *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	var (
		backend redisstore.Backend
		feed    realtime.Feed
		// dbFeed means the database announces its own writes.
		dbFeed bool
	)
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, postgres.Config{URL: cfg.DatabaseURL}, log)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		backend = postgres.NewStore(db)

		if cfg.ChangeFeed == global.FeedPostgres {
			listener := postgres.NewListener(cfg.DatabaseURL, db, log)
			g.Go(func() error { return listener.Run(ctx) })
			feed, dbFeed = listener, true
		}
	} else {
		mem := memstore.New()
		log.Warn("DATABASE_URL not set, carts live in process memory", "sample_products", len(mem.Seed()))
		backend = mem
	}

	var attempts checkout.AttemptStore = checkout.NewMemoryAttempts()
	if cfg.RedisAddress != "" {
		rdb := redisstore.NewClient(redisstore.Config{Address: cfg.RedisAddress, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := redisstore.Ping(ctx, rdb); err != nil {
			return err
		}
		backend = redisstore.NewCachedStore(backend, rdb, cfg.ProductCacheTTL, log)
		attempts = redisstore.NewAttemptStore(rdb, redisstore.DefaultAttemptTTL)

		if cfg.ChangeFeed == global.FeedRedis {
			rf := redisstore.NewFeed(rdb, log)
			g.Go(func() error { return rf.Run(ctx) })
			feed = rf
		}
	} else {
		log.Warn("REDIS_ADDRESS not set, checkout attempts are kept in process memory")
	}
	if feed == nil {
		feed = realtime.NewMemoryFeed()
	}

	var store interface {
		cart.Store
		cart.Purchaser
	} = backend
	if !dbFeed {
		store = cart.NewPublishingStore(backend, feed, log)
	}

	var cases journal = checkout.NewMemoryJournal()
	if cfg.MongoURI != "" {
		client, err := mongostore.Connect(ctx, cfg.MongoURI, log)
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		db := client.Database(cfg.MongoDatabase)
		if err := mongostore.EnsureIndexes(ctx, db, log); err != nil {
			return err
		}
		cases = mongostore.NewJournal(db)
	} else {
		log.Warn("MONGODB_URI not set, reconciliation cases are kept in process memory")
	}

	var provider checkout.PaymentProvider
	if cfg.StripeSecretKey != "" {
		stripe, err := payment.NewStripe(payment.StripeConfig{
			SecretKey:  cfg.StripeSecretKey,
			SuccessURL: cfg.SuccessURL,
			CancelURL:  cfg.CancelURL,
		})
		if err != nil {
			return err
		}
		provider = stripe
	} else {
		if cfg.Production() {
			return errors.New("STRIPE_SECRET_KEY is required in production")
		}
		log.Warn("STRIPE_SECRET_KEY not set, using the sandbox payment provider")
		provider = payment.NewSandbox(cfg.SuccessURL)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		return err
	}

	registry := cart.NewRegistry(store, realtime.NewBridge(feed, log), cart.SessionConfig{Policy: cfg.AddPolicy, Log: log})
	orch := checkout.New(provider, attempts, store, cases, checkout.Config{Currency: cfg.StoreCurrency, Log: log})

	engineCfg := router.EngineConfig{
		Production:     cfg.Production(),
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AdminToken:     cfg.AdminToken,
		Verifier:       verifier,
		Log:            log,
	}
	engine := router.NewEngine(engineCfg)
	router.InitializeRoutes(engine, router.NewHandler(backend, registry, orch, cases, log), engineCfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end when the server shuts down.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		log.Info("server is running", "port", cfg.Port, "feed", cfg.ChangeFeed, "currency", cfg.StoreCurrency)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

package global

import (
	"errors"
	"fmt"
	"time"

	"julianmorley.ca/con-plar/storefront/pkg/models"
	"julianmorley.ca/con-plar/storefront/pkg/money"
)

// Change feed backends.
const (
	FeedMemory   = "memory"
	FeedPostgres = "postgres"
	FeedRedis    = "redis"
)

type Config struct {
	AppEnv   string
	LogLevel string
	Port     string

	DatabaseURL     string
	RedisAddress    string
	RedisPassword   string
	RedisDB         int
	ProductCacheTTL time.Duration
	MongoURI        string
	MongoDatabase   string

	JWTSecret   string
	JWTAudience string
	AdminToken  string

	StripeSecretKey string
	StoreCurrency   string
	SuccessURL      string
	CancelURL       string

	AddPolicy  models.AddPolicy
	ChangeFeed string

	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadConfig reads the environment. Call Validate before using the result.
func LoadConfig() (Config, error) {
	policy, err := models.ParseAddPolicy(GetEnvOrDefault("CART_ADD_POLICY", string(models.AddOverwrite)))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:   GetEnvOrDefault("APP_ENV", "dev"),
		LogLevel: GetEnvOrDefault("LOG_LEVEL", "info"),
		Port:     GetEnvOrDefault("PORT", "8000"),

		DatabaseURL:     GetEnvOrDefault("DATABASE_URL", ""),
		RedisAddress:    GetEnvOrDefault("REDIS_ADDRESS", ""),
		RedisPassword:   GetEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:         GetEnvInt("REDIS_DB", 0),
		ProductCacheTTL: GetEnvDuration("PRODUCT_CACHE_TTL", 10*time.Minute),
		MongoURI:        GetEnvOrDefault("MONGODB_URI", ""),
		MongoDatabase:   GetEnvOrDefault("MONGODB_DATABASE", "storefront"),

		JWTSecret:   GetEnvOrDefault("SUPABASE_JWT_SECRET", ""),
		JWTAudience: GetEnvOrDefault("SUPABASE_JWT_AUDIENCE", "authenticated"),
		AdminToken:  GetEnvOrDefault("ADMIN_TOKEN", ""),

		StripeSecretKey: GetEnvOrDefault("STRIPE_SECRET_KEY", ""),
		StoreCurrency:   money.Normalize(GetEnvOrDefault("STORE_CURRENCY", "INR")),
		SuccessURL:      GetEnvOrDefault("CHECKOUT_SUCCESS_URL", "http://localhost:3000/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:       GetEnvOrDefault("CHECKOUT_CANCEL_URL", "http://localhost:3000/cart"),

		AddPolicy:  policy,
		ChangeFeed: GetEnvOrDefault("CHANGE_FEED", ""),

		CORSOrigins:    GetEnvList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		RateLimitRPS:   GetEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: GetEnvInt("RATE_LIMIT_BURST", 20),
	}

	if cfg.ChangeFeed == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.ChangeFeed = FeedPostgres
		case cfg.RedisAddress != "":
			cfg.ChangeFeed = FeedRedis
		default:
			cfg.ChangeFeed = FeedMemory
		}
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("SUPABASE_JWT_SECRET is required"))
	}
	if !money.Supported(c.StoreCurrency) {
		errs = append(errs, fmt.Errorf("STORE_CURRENCY %q is not supported", c.StoreCurrency))
	}
	switch c.ChangeFeed {
	case FeedMemory:
	case FeedPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("CHANGE_FEED=postgres needs DATABASE_URL"))
		}
	case FeedRedis:
		if c.RedisAddress == "" {
			errs = append(errs, errors.New("CHANGE_FEED=redis needs REDIS_ADDRESS"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CHANGE_FEED %q", c.ChangeFeed))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) Production() bool {
	return c.AppEnv == "production"
}

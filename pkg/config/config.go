package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "FLABLE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv             = "FLABLE_APP_ENV"
	EnvPort               = "FLABLE_APP_PORT"
	EnvDBDSN              = "FLABLE_DB_DSN"
	EnvDBHost             = "FLABLE_DB_HOST"
	EnvDBUser             = "FLABLE_DB_USER"
	EnvDBName             = "FLABLE_DB_NAME"
	EnvRedisURL           = "FLABLE_REDIS_URL"
	EnvJWTSecret          = "FLABLE_JWT_SECRET"
	EnvJWTIssuer          = "FLABLE_JWT_ISSUER"
	EnvShopifyClientID    = "FLABLE_SHOPIFY_CLIENT_ID"
	EnvShopifySecret      = "FLABLE_SHOPIFY_CLIENT_SECRET"
	EnvVaultKey           = "FLABLE_VAULT_ENCRYPTION_KEY"
	EnvSyncBatchSize      = "FLABLE_SYNC_BATCH_SIZE"
	EnvOptimizerWindow    = "FLABLE_OPTIMIZER_WINDOW_DAYS"
	EnvOptimizerCooldown  = "FLABLE_OPTIMIZER_COOLDOWN"
	EnvOptimizerMinConvs  = "FLABLE_OPTIMIZER_MIN_CONVERSIONS"
	EnvShopifyRedirectURL = "FLABLE_SHOPIFY_REDIRECT_URL"

	minSyncBatchSize = 100
	maxSyncBatchSize = 500
	vaultKeyBytes    = 32
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	Shopify      ShopifyConfig
	Vault        VaultConfig
	Sync         SyncConfig
	Optimizer    OptimizerConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Sync.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Optimizer.validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Vault.Key(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"FLABLE_APP_ENV" required:"true"`
	Port         string `envconfig:"FLABLE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"FLABLE_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"FLABLE_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"FLABLE_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"FLABLE_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"FLABLE_DB_DSN"`
	Driver string `envconfig:"FLABLE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"FLABLE_DB_HOST"`
	LegacyPort     int    `envconfig:"FLABLE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"FLABLE_DB_USER"`
	LegacyPassword string `envconfig:"FLABLE_DB_PASSWORD"`
	LegacyName     string `envconfig:"FLABLE_DB_NAME"`
	LegacySSLMode  string `envconfig:"FLABLE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"FLABLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"FLABLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"FLABLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"FLABLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"FLABLE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"FLABLE_REDIS_ADDR"`
	Password     string        `envconfig:"FLABLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"FLABLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"FLABLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"FLABLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"FLABLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"FLABLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"FLABLE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"FLABLE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"FLABLE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"FLABLE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// RateLimitConfig bounds API requests per account in a fixed window.
type RateLimitConfig struct {
	Window      time.Duration `envconfig:"FLABLE_RATE_LIMIT_WINDOW" default:"1m"`
	PerAccount  int64         `envconfig:"FLABLE_RATE_LIMIT_PER_ACCOUNT" default:"120"`
	SyncTrigger int64         `envconfig:"FLABLE_RATE_LIMIT_SYNC_TRIGGER" default:"6"`
}

type ShopifyConfig struct {
	ClientID     string        `envconfig:"FLABLE_SHOPIFY_CLIENT_ID" required:"true"`
	ClientSecret string        `envconfig:"FLABLE_SHOPIFY_CLIENT_SECRET" required:"true"`
	RedirectURL  string        `envconfig:"FLABLE_SHOPIFY_REDIRECT_URL" default:"http://localhost:8000/api/v1/integrations/shopify/callback"`
	Scopes       string        `envconfig:"FLABLE_SHOPIFY_SCOPES" default:"read_products,write_products,read_orders,write_orders,read_customers,read_analytics,read_marketing_events"`
	APIVersion   string        `envconfig:"FLABLE_SHOPIFY_API_VERSION" default:"2024-01"`
	StateTTL     time.Duration `envconfig:"FLABLE_SHOPIFY_STATE_TTL" default:"10m"`
	HTTPTimeout  time.Duration `envconfig:"FLABLE_SHOPIFY_HTTP_TIMEOUT" default:"30s"`
	RatePerSec   float64       `envconfig:"FLABLE_SHOPIFY_RATE_PER_SEC" default:"2"`
	RateBurst    int           `envconfig:"FLABLE_SHOPIFY_RATE_BURST" default:"40"`
	MaxAttempts  int           `envconfig:"FLABLE_SHOPIFY_MAX_ATTEMPTS" default:"5"`
	BackoffBase  time.Duration `envconfig:"FLABLE_SHOPIFY_BACKOFF_BASE" default:"500ms"`
	BackoffMax   time.Duration `envconfig:"FLABLE_SHOPIFY_BACKOFF_MAX" default:"30s"`
}

// ScopeList splits the comma separated scope string.
func (s ShopifyConfig) ScopeList() []string {
	var out []string
	for _, scope := range strings.Split(s.Scopes, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}

type VaultConfig struct {
	EncryptionKey string        `envconfig:"FLABLE_VAULT_ENCRYPTION_KEY" required:"true"`
	RefreshMargin time.Duration `envconfig:"FLABLE_VAULT_REFRESH_MARGIN" default:"5m"`
	CacheEnabled  bool          `envconfig:"FLABLE_VAULT_CACHE_ENABLED" default:"true"`
}

// Key decodes the base64 encryption key used for tokens at rest.
func (v VaultConfig) Key() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("%s must be base64: %w", EnvVaultKey, err)
	}
	if len(key) != vaultKeyBytes {
		return nil, fmt.Errorf("%s must decode to %d bytes, got %d", EnvVaultKey, vaultKeyBytes, len(key))
	}
	return key, nil
}

type SyncConfig struct {
	BatchSize        int           `envconfig:"FLABLE_SYNC_BATCH_SIZE" default:"250"`
	MaxDuration      time.Duration `envconfig:"FLABLE_SYNC_MAX_DURATION" default:"15m"`
	Interval         time.Duration `envconfig:"FLABLE_SYNC_INTERVAL" default:"30m"`
	Concurrency      int           `envconfig:"FLABLE_SYNC_CONCURRENCY" default:"4"`
	FullResyncAfter  int           `envconfig:"FLABLE_SYNC_FULL_RESYNC_AFTER" default:"3"`
	ErrorAfter       int           `envconfig:"FLABLE_SYNC_ERROR_AFTER" default:"5"`
	// WatermarkOverlap is subtracted from each new watermark to absorb clock
	// skew between this service and the platform.
	WatermarkOverlap time.Duration `envconfig:"FLABLE_SYNC_WATERMARK_OVERLAP" default:"5m"`
}

func (s SyncConfig) validate() error {
	if s.BatchSize < minSyncBatchSize || s.BatchSize > maxSyncBatchSize {
		return fmt.Errorf("%s must be between %d and %d", EnvSyncBatchSize, minSyncBatchSize, maxSyncBatchSize)
	}
	if s.MaxDuration <= 0 {
		return fmt.Errorf("sync max duration must be positive")
	}
	if s.WatermarkOverlap < 0 {
		return fmt.Errorf("sync watermark overlap must not be negative")
	}
	return nil
}

type OptimizerConfig struct {
	Interval       time.Duration `envconfig:"FLABLE_OPTIMIZER_INTERVAL" default:"1h"`
	WindowDays     int           `envconfig:"FLABLE_OPTIMIZER_WINDOW_DAYS" default:"7"`
	MinConversions int           `envconfig:"FLABLE_OPTIMIZER_MIN_CONVERSIONS" default:"10"`
	UpperMargin    float64       `envconfig:"FLABLE_OPTIMIZER_UPPER_MARGIN" default:"0.10"`
	LowerMargin    float64       `envconfig:"FLABLE_OPTIMIZER_LOWER_MARGIN" default:"0.10"`
	StepUp         float64       `envconfig:"FLABLE_OPTIMIZER_STEP_UP" default:"0.20"`
	StepDown       float64       `envconfig:"FLABLE_OPTIMIZER_STEP_DOWN" default:"0.20"`
	Cooldown       time.Duration `envconfig:"FLABLE_OPTIMIZER_COOLDOWN" default:"24h"`
}

func (o OptimizerConfig) validate() error {
	if o.WindowDays <= 0 {
		return fmt.Errorf("%s must be positive", EnvOptimizerWindow)
	}
	if o.MinConversions < 0 {
		return fmt.Errorf("%s must not be negative", EnvOptimizerMinConvs)
	}
	if o.Cooldown < 0 {
		return fmt.Errorf("%s must not be negative", EnvOptimizerCooldown)
	}
	if o.StepUp <= 0 || o.StepDown <= 0 || o.StepDown >= 1 {
		return fmt.Errorf("optimizer steps must be positive and step down below 1")
	}
	return nil
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"FLABLE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"FLABLE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

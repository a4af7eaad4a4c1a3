package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the server. Values come from the process
// environment, optionally seeded from a .env file.
type Config struct {
	Port      int    `env:"PORT,default=8080"`
	Env       string `env:"APP_ENV,default=development"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	MongoURI      string `env:"MONGODB_URI,default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGODB_DATABASE,default=houseparty"`
	StoreDriver   string `env:"STORE_DRIVER,default=mongo"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB,default=0"`
	UserCacheTTL  time.Duration `env:"USER_CACHE_TTL,default=10m"`

	AccessTokenSecret  string        `env:"JWT_ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret string        `env:"JWT_REFRESH_TOKEN_SECRET"`
	AccessTokenTTL     time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRY,default=15m"`
	RefreshTokenTTL    time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRY,default=168h"`

	OTPTTL         time.Duration `env:"OTP_TTL,default=10m"`
	OTPMaxAttempts int           `env:"OTP_MAX_ATTEMPTS,default=5"`

	FriendInviteTTL time.Duration `env:"FRIEND_INVITE_TTL,default=720h"`
	PartyInviteTTL  time.Duration `env:"PARTY_INVITE_TTL,default=24h"`

	AgoraAppID          string        `env:"AGORA_APP_ID"`
	AgoraAppCertificate string        `env:"AGORA_APP_CERTIFICATE"`
	AgoraTokenTTL       time.Duration `env:"AGORA_TOKEN_EXPIRY,default=1h"`

	// Firebase service account, inline JSON or a file path.
	FirebaseServiceAccount  string        `env:"FIREBASE_SERVICE_ACCOUNT"`
	FirebaseCredentialsFile string        `env:"FIREBASE_CREDENTIALS_FILE"`
	PushBatchSize           int           `env:"PUSH_BATCH_SIZE,default=10"`
	PushBatchDelay          time.Duration `env:"PUSH_BATCH_DELAY,default=100ms"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	EmailFrom    string `env:"EMAIL_FROM,default=noreply@houseparty.app"`

	CORSOrigins string `env:"CORS_ORIGINS,default=*"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS,default=5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST,default=10"`
	// TrustedProxies lists proxies (IPs or CIDRs) whose X-Forwarded-For is believed.
	TrustedProxies string `env:"TRUSTED_PROXIES"`

	SweepSchedule string `env:"SWEEP_SCHEDULE,default=@every 1m"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Load reads .env (if present) and decodes the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. Development mode falls back to
// throwaway secrets so a fresh checkout boots without a .env.
func (c *Config) Validate() error {
	if !c.IsProduction() {
		if c.AccessTokenSecret == "" {
			c.AccessTokenSecret = "dev-access-secret"
		}
		if c.RefreshTokenSecret == "" {
			c.RefreshTokenSecret = "dev-refresh-secret"
		}
	}
	if c.AccessTokenSecret == "" || c.RefreshTokenSecret == "" {
		return errors.New("JWT_ACCESS_TOKEN_SECRET and JWT_REFRESH_TOKEN_SECRET are required")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("access and refresh token secrets must differ")
	}
	if c.AccessTokenTTL <= 0 || c.AccessTokenTTL >= c.RefreshTokenTTL {
		return fmt.Errorf("access token expiry %s must be positive and shorter than refresh expiry %s", c.AccessTokenTTL, c.RefreshTokenTTL)
	}
	switch c.StoreDriver {
	case DriverMongo, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.PushBatchSize <= 0 {
		return fmt.Errorf("PUSH_BATCH_SIZE must be positive, got %d", c.PushBatchSize)
	}
	if c.OTPMaxAttempts <= 0 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", c.OTPMaxAttempts)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSOrigins)
}

func (c *Config) TrustedProxyList() []string {
	return splitList(c.TrustedProxies)
}

func (c *Config) VideoConfigured() bool {
	return c.AgoraAppID != "" && c.AgoraAppCertificate != ""
}

func (c *Config) PushConfigured() bool {
	return c.FirebaseServiceAccount != "" || c.FirebaseCredentialsFile != ""
}

func (c *Config) EmailConfigured() bool {
	return c.SMTPHost != ""
}

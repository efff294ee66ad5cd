package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Provider   ProviderConfig
	Billing    BillingConfig
	Dispatcher DispatcherConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// ProviderConfig holds the voice-AI provider credentials and webhook guard settings.
type ProviderConfig struct {
	Name          string
	APIKey        string
	BaseURL       string
	PhoneNumberID string

	WebhookSecret string
	// WebhookTolerance bounds the accepted age of a signed webhook timestamp.
	WebhookTolerance time.Duration
}

type BillingConfig struct {
	Currency string
	// DefaultRatePerMinuteMinor applies when a workspace has no rate override row.
	DefaultRatePerMinuteMinor int64
}

// DispatcherConfig tunes outbound dispatch pacing.
// ChunkSize is deliberately small: the provider limit counts active calls, not API requests.
type DispatcherConfig struct {
	ChunkSize          int
	ChunkDelay         time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	ConcurrencyBackoff time.Duration

	// ConcurrencyTarget sizes refill waves after webhook completions.
	ConcurrencyTarget int

	// DialSlotCap bounds simultaneous dial attempts per workspace (Redis-guarded).
	DialSlotCap int
	DialSlotTTL time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	c.Provider.Name = strings.TrimSpace(os.Getenv("PROVIDER_NAME"))
	c.Provider.APIKey = os.Getenv("PROVIDER_API_KEY")
	c.Provider.BaseURL = strings.TrimSpace(os.Getenv("PROVIDER_BASE_URL"))
	c.Provider.PhoneNumberID = strings.TrimSpace(os.Getenv("PROVIDER_PHONE_NUMBER_ID"))
	c.Provider.WebhookSecret = os.Getenv("PROVIDER_WEBHOOK_SECRET")
	c.Provider.WebhookTolerance = optDuration("PROVIDER_WEBHOOK_TOLERANCE")

	c.Billing.Currency = strings.TrimSpace(os.Getenv("BILLING_CURRENCY"))
	c.Billing.DefaultRatePerMinuteMinor = optInt64("BILLING_RATE_PER_MINUTE_MINOR")

	c.Dispatcher.ChunkSize = optInt("DISPATCH_CHUNK_SIZE")
	c.Dispatcher.ChunkDelay = optDuration("DISPATCH_CHUNK_DELAY")
	c.Dispatcher.MaxRetries = optInt("DISPATCH_MAX_RETRIES")
	c.Dispatcher.RetryDelay = optDuration("DISPATCH_RETRY_DELAY")
	c.Dispatcher.ConcurrencyBackoff = optDuration("DISPATCH_CONCURRENCY_BACKOFF")
	c.Dispatcher.ConcurrencyTarget = optInt("DISPATCH_CONCURRENCY_TARGET")
	c.Dispatcher.DialSlotCap = optInt("DISPATCH_DIAL_SLOT_CAP")
	c.Dispatcher.DialSlotTTL = optDuration("DISPATCH_DIAL_SLOT_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Provider.Name == "" {
		c.Provider.Name = "vapi"
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, errors.New("PROVIDER_API_KEY is required"))
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = "https://api.vapi.ai"
	}
	if c.Provider.PhoneNumberID == "" {
		errs = append(errs, errors.New("PROVIDER_PHONE_NUMBER_ID is required"))
	}
	if c.IsProduction() && c.Provider.WebhookSecret == "" {
		errs = append(errs, errors.New("PROVIDER_WEBHOOK_SECRET is required in production"))
	}
	if c.Provider.WebhookTolerance <= 0 {
		c.Provider.WebhookTolerance = 600 * time.Second
	}

	if c.Billing.Currency == "" {
		c.Billing.Currency = "USD"
	}
	if c.Billing.DefaultRatePerMinuteMinor <= 0 {
		errs = append(errs, errors.New("BILLING_RATE_PER_MINUTE_MINOR must be > 0"))
	}

	if c.Dispatcher.ChunkSize <= 0 {
		c.Dispatcher.ChunkSize = 3
	}
	if c.Dispatcher.ChunkDelay <= 0 {
		c.Dispatcher.ChunkDelay = 2 * time.Second
	}
	if c.Dispatcher.MaxRetries <= 0 {
		c.Dispatcher.MaxRetries = 3
	}
	if c.Dispatcher.RetryDelay <= 0 {
		c.Dispatcher.RetryDelay = 2 * time.Second
	}
	if c.Dispatcher.ConcurrencyBackoff <= 0 {
		c.Dispatcher.ConcurrencyBackoff = 10 * time.Second
	}
	if c.Dispatcher.ConcurrencyTarget <= 0 {
		c.Dispatcher.ConcurrencyTarget = c.Dispatcher.ChunkSize
	}
	if c.Dispatcher.DialSlotCap <= 0 {
		c.Dispatcher.DialSlotCap = 10
	}
	if c.Dispatcher.DialSlotTTL <= 0 {
		c.Dispatcher.DialSlotTTL = 2 * time.Minute
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optInt64(key string) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}

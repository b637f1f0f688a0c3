// Package config loads and validates the server configuration from a .env
// file, the environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	// ErrMissingConfig is returned when a required setting is absent.
	ErrMissingConfig = errors.New("missing configuration")

	// ErrInvalidConfig is returned when a setting is present but unusable.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// MaxMailSubscriptionLifetime is the longest expiration Microsoft Graph accepts
// for subscriptions on mail resources (10080 minutes).
const MaxMailSubscriptionLifetime = 10080 * time.Minute

// Defaults.
const (
	DefaultListenAddr           = ":3000"
	DefaultTenant               = "common"
	DefaultAuthorityHost        = "https://login.microsoftonline.com"
	DefaultGraphBaseURL         = "https://graph.microsoft.com/v1.0"
	DefaultGraphTimeout         = 30 * time.Second
	DefaultGraphRateLimit       = 10.0
	DefaultGraphRateBurst       = 20
	DefaultSessionMaxAge        = 24 * time.Hour
	DefaultChangeType           = "created"
	DefaultSubscriptionLifetime = 72 * time.Hour
	DefaultDeleteConcurrency    = 4
	DefaultRenewConcurrency     = 4
	DefaultRenewInterval        = 15 * time.Minute
	DefaultRenewBefore          = time.Hour
	DefaultDedupTTL             = 10 * time.Minute
	DefaultProcessTimeout       = 30 * time.Second
	DefaultNotificationWorkers  = 4
	DefaultRedisKeyPrefix       = "inboxhook:"
	DefaultMetricsAddr          = ":9090"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	defaultDotEnvFile           = ".env"
	notificationPath            = "/hook/notification"
	callbackPath                = "/auth/callback"
)

// Config holds every setting the server needs.
type Config struct {
	// Identity provider
	ClientID      string
	ClientSecret  string
	Tenant        string
	AuthorityHost string

	// Host is the public base URL of this server, e.g. https://mail.example.com
	Host       string
	ListenAddr string

	// ClientState is the fixed client-state. Empty means one UUID per subscription.
	ClientState string

	SessionSecret string
	SessionMaxAge time.Duration

	GraphBaseURL   string
	GraphTimeout   time.Duration
	GraphRateLimit float64
	GraphRateBurst int

	Subscription SubscriptionConfig
	Notification NotificationConfig

	Store string
	Redis RedisConfig

	MetricsEnabled bool
	MetricsAddr    string

	LogLevel  string
	LogFormat string
}

// SubscriptionConfig controls the webhook subscription lifecycle.
type SubscriptionConfig struct {
	ChangeType        string
	Lifetime          time.Duration
	DeleteConcurrency int
	RenewConcurrency  int
	RenewInterval     time.Duration
	RenewBefore       time.Duration
}

// NotificationConfig controls background processing of change notifications.
type NotificationConfig struct {
	DedupTTL       time.Duration
	ProcessTimeout time.Duration
	Concurrency    int
}

// RedisConfig holds configuration for the Redis store backend.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL
	URL string

	// KeyPrefix is the prefix for all keys (default: "inboxhook:")
	KeyPrefix string
}

// Default returns a Config populated with defaults only.
func Default() Config {
	return Config{
		Tenant:         DefaultTenant,
		AuthorityHost:  DefaultAuthorityHost,
		ListenAddr:     DefaultListenAddr,
		SessionMaxAge:  DefaultSessionMaxAge,
		GraphBaseURL:   DefaultGraphBaseURL,
		GraphTimeout:   DefaultGraphTimeout,
		GraphRateLimit: DefaultGraphRateLimit,
		GraphRateBurst: DefaultGraphRateBurst,
		Subscription: SubscriptionConfig{
			ChangeType:        DefaultChangeType,
			Lifetime:          DefaultSubscriptionLifetime,
			DeleteConcurrency: DefaultDeleteConcurrency,
			RenewConcurrency:  DefaultRenewConcurrency,
			RenewInterval:     DefaultRenewInterval,
			RenewBefore:       DefaultRenewBefore,
		},
		Notification: NotificationConfig{
			DedupTTL:       DefaultDedupTTL,
			ProcessTimeout: DefaultProcessTimeout,
			Concurrency:    DefaultNotificationWorkers,
		},
		Store:          StoreMemory,
		Redis:          RedisConfig{KeyPrefix: DefaultRedisKeyPrefix},
		MetricsEnabled: true,
		MetricsAddr:    DefaultMetricsAddr,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
	}
}

// Load reads .env (if present) and the environment on top of the defaults.
// It does not validate; call Validate once flags have been applied.
func Load() (Config, error) {
	_ = godotenv.Load(defaultDotEnvFile)
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function, typically os.LookupEnv.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := envParser{lookup: lookup}

	p.str("CLIENT_ID", &cfg.ClientID)
	p.str("CLIENT_SECRET", &cfg.ClientSecret)
	p.str("TENANT", &cfg.Tenant)
	p.str("AUTHORITY_HOST", &cfg.AuthorityHost)
	p.str("HOST", &cfg.Host)
	p.str("LISTEN_ADDR", &cfg.ListenAddr)
	if port, ok := lookup("PORT"); ok && port != "" {
		if _, isSet := lookup("LISTEN_ADDR"); !isSet {
			cfg.ListenAddr = ":" + port
		}
	}
	p.str("CLIENT_STATE", &cfg.ClientState)
	p.str("SESSION_SECRET", &cfg.SessionSecret)
	p.duration("SESSION_MAX_AGE", &cfg.SessionMaxAge)

	p.str("GRAPH_BASE_URL", &cfg.GraphBaseURL)
	p.duration("GRAPH_TIMEOUT", &cfg.GraphTimeout)
	p.float("GRAPH_RATE_LIMIT", &cfg.GraphRateLimit)
	p.integer("GRAPH_RATE_BURST", &cfg.GraphRateBurst)

	p.str("SUBSCRIPTION_CHANGE_TYPE", &cfg.Subscription.ChangeType)
	p.duration("SUBSCRIPTION_LIFETIME", &cfg.Subscription.Lifetime)
	p.integer("SUBSCRIPTION_DELETE_CONCURRENCY", &cfg.Subscription.DeleteConcurrency)
	p.integer("SUBSCRIPTION_RENEW_CONCURRENCY", &cfg.Subscription.RenewConcurrency)
	p.duration("SUBSCRIPTION_RENEW_INTERVAL", &cfg.Subscription.RenewInterval)
	p.duration("SUBSCRIPTION_RENEW_BEFORE", &cfg.Subscription.RenewBefore)

	p.duration("NOTIFICATION_DEDUP_TTL", &cfg.Notification.DedupTTL)
	p.duration("NOTIFICATION_PROCESS_TIMEOUT", &cfg.Notification.ProcessTimeout)
	p.integer("NOTIFICATION_CONCURRENCY", &cfg.Notification.Concurrency)

	p.str("STORE", &cfg.Store)
	p.str("REDIS_URL", &cfg.Redis.URL)
	p.str("REDIS_KEY_PREFIX", &cfg.Redis.KeyPrefix)

	p.boolean("METRICS_ENABLED", &cfg.MetricsEnabled)
	p.str("METRICS_ADDR", &cfg.MetricsAddr)

	p.str("LOG_LEVEL", &cfg.LogLevel)
	p.str("LOG_FORMAT", &cfg.LogFormat)

	if len(p.errs) > 0 {
		return cfg, errors.Join(p.errs...)
	}
	return cfg, nil
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if c.Host == "" {
		missing = append(missing, "HOST")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	if err := validateBaseURL("HOST", c.Host); err != nil {
		return err
	}
	if err := validateBaseURL("AUTHORITY_HOST", c.AuthorityHost); err != nil {
		return err
	}
	if err := validateBaseURL("GRAPH_BASE_URL", c.GraphBaseURL); err != nil {
		return err
	}
	if c.Tenant == "" {
		return fmt.Errorf("%w: TENANT must not be empty", ErrInvalidConfig)
	}

	if c.Subscription.Lifetime <= 0 {
		return fmt.Errorf("%w: SUBSCRIPTION_LIFETIME must be positive", ErrInvalidConfig)
	}
	if c.Subscription.Lifetime > MaxMailSubscriptionLifetime {
		return fmt.Errorf("%w: SUBSCRIPTION_LIFETIME %s exceeds the maximum of %s for mail resources",
			ErrInvalidConfig, c.Subscription.Lifetime, MaxMailSubscriptionLifetime)
	}
	if c.Subscription.ChangeType == "" {
		return fmt.Errorf("%w: SUBSCRIPTION_CHANGE_TYPE must not be empty", ErrInvalidConfig)
	}
	if c.Subscription.DeleteConcurrency < 1 {
		return fmt.Errorf("%w: SUBSCRIPTION_DELETE_CONCURRENCY must be at least 1", ErrInvalidConfig)
	}
	if c.Subscription.RenewConcurrency < 1 {
		return fmt.Errorf("%w: SUBSCRIPTION_RENEW_CONCURRENCY must be at least 1", ErrInvalidConfig)
	}
	if c.Subscription.RenewInterval < 0 || c.Subscription.RenewBefore < 0 {
		return fmt.Errorf("%w: subscription renewal durations must not be negative", ErrInvalidConfig)
	}
	if c.Notification.Concurrency < 1 {
		return fmt.Errorf("%w: NOTIFICATION_CONCURRENCY must be at least 1", ErrInvalidConfig)
	}
	if c.Notification.DedupTTL < 0 || c.Notification.ProcessTimeout <= 0 {
		return fmt.Errorf("%w: notification durations out of range", ErrInvalidConfig)
	}
	if c.GraphTimeout <= 0 {
		return fmt.Errorf("%w: GRAPH_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.GraphRateLimit <= 0 || c.GraphRateBurst < 1 {
		return fmt.Errorf("%w: GRAPH_RATE_LIMIT and GRAPH_RATE_BURST must be positive", ErrInvalidConfig)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("%w: SESSION_MAX_AGE must be positive", ErrInvalidConfig)
	}

	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%w: REDIS_URL is required when STORE=redis", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown STORE %q, must be one of: memory, redis", ErrInvalidConfig, c.Store)
	}

	return nil
}

// RedirectURL is the OAuth redirect URI registered with the identity provider.
func (c *Config) RedirectURL() string {
	return strings.TrimRight(c.Host, "/") + callbackPath
}

// NotificationURL is the webhook endpoint handed to Graph when subscribing.
func (c *Config) NotificationURL() string {
	return strings.TrimRight(c.Host, "/") + notificationPath
}

// SecureCookies reports whether session cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(strings.ToLower(c.Host), "https://")
}

func validateBaseURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute http(s) URL, got %q", ErrInvalidConfig, name, raw)
	}
	return nil
}

type envParser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *envParser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *envParser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *envParser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err))
		return
	}
	*dst = d
}

func (p *envParser) integer(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err))
		return
	}
	*dst = n
}

func (p *envParser) float(key string, dst *float64) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err))
		return
	}
	*dst = f
}

func (p *envParser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err))
		return
	}
	*dst = b
}

package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the chat service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode, bearer tokens that are not JWTs are accepted as raw user ids.
	Mode string

	// Datastore
	DatastoreType           string // "postgres" or "sqlite"
	DBURL                   string
	DatastoreMigrateAtStart bool
	DBMaxOpenConns          int
	DBMaxIdleConns          int

	// Participant cache
	CacheType string // "none", "memory", "redis" or "infinispan"
	CacheTTL  time.Duration

	// Infinispan RESP endpoint used by the infinispan cache.
	InfinispanHost           string
	InfinispanUsername       string
	InfinispanPassword       string
	InfinispanStartupTimeout time.Duration

	// Redis (cache, broadcast relay and notification sink)
	RedisURL string

	// Broadcast backend
	BroadcastType         string // "local" or "redis"
	BroadcastRedisChannel string

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string

	// JWTSecret verifies HS256 access tokens when OIDC is not configured.
	JWTSecret string

	// Session cookie carrying an access token for same-origin callers.
	CookieName string
	// CookieSigningKeys is a comma-separated list of HMAC keys. The first key signs,
	// all keys verify. Empty disables signature checks.
	CookieSigningKeys string

	// TrustedUserID allows the websocket handshake to name a user id directly.
	// Only enable behind a trusted transport.
	TrustedUserID bool

	// Websocket gateway
	AllowedWSOrigins string
	WSSendBuffer     int
	TypingRate       float64
	TypingBurst      int

	// Messages
	PreviewLength int

	// Notifications
	NotifySink          string // "log" or "redis"
	NotifyStream        string
	NotifyInterval      time.Duration
	NotifyBatchSize     int
	NotifyRetryDelay    time.Duration
	NotifyMaxRetryCount int

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Server
	Listener                  ListenerConfig
	ManagementListener        ListenerConfig
	ManagementListenerEnabled bool
	ManagementAccessLog       bool
	CORSEnabled               bool
	CORSOrigins               string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                     ModeProd,
		DatastoreType:            "postgres",
		DatastoreMigrateAtStart:  true,
		DBMaxOpenConns:           25,
		DBMaxIdleConns:           5,
		CacheType:                "none",
		CacheTTL:                 5 * time.Minute,
		InfinispanStartupTimeout: 30 * time.Second,
		BroadcastType:            "local",
		BroadcastRedisChannel:    "chat-service:events",
		CookieName:               "chat_session",
		WSSendBuffer:             64,
		TypingRate:               2,
		TypingBurst:              5,
		PreviewLength:            100,
		NotifySink:               "log",
		NotifyStream:             "chat-service:notifications",
		NotifyInterval:           5 * time.Second,
		NotifyBatchSize:          100,
		NotifyRetryDelay:         time.Minute,
		NotifyMaxRetryCount:      10,
		MetricsLabels:            "service=chat-service",
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			Port:              9090,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1 << 20,
		DrainTimeout: 30,
	}
}

// CookieKeys returns the configured cookie signing keys, primary first.
func (c *Config) CookieKeys() [][]byte {
	if c == nil {
		return nil
	}
	var keys [][]byte
	for _, part := range strings.Split(c.CookieSigningKeys, ",") {
		if v := strings.TrimSpace(part); v != "" {
			keys = append(keys, []byte(v))
		}
	}
	return keys
}

// WSOrigins returns the allowed websocket origins. An empty result means same-origin only.
func (c *Config) WSOrigins() map[string]bool {
	origins := map[string]bool{}
	if c == nil {
		return origins
	}
	for _, part := range strings.Split(c.AllowedWSOrigins, ",") {
		if v := strings.TrimSpace(part); v != "" {
			origins[v] = true
		}
	}
	return origins
}

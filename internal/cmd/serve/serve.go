package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/config"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	registrycache "github.com/gigmarket/chat-service/internal/registry/cache"
	registrynotify "github.com/gigmarket/chat-service/internal/registry/notify"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/gigmarket/chat-service/internal/plugin/broadcast/local"
	_ "github.com/gigmarket/chat-service/internal/plugin/broadcast/redis"
	_ "github.com/gigmarket/chat-service/internal/plugin/cache/infinispan"
	_ "github.com/gigmarket/chat-service/internal/plugin/cache/memory"
	_ "github.com/gigmarket/chat-service/internal/plugin/cache/noop"
	_ "github.com/gigmarket/chat-service/internal/plugin/cache/redis"
	_ "github.com/gigmarket/chat-service/internal/plugin/notify/log"
	_ "github.com/gigmarket/chat-service/internal/plugin/notify/redis"
	_ "github.com/gigmarket/chat-service/internal/plugin/route/system"
	_ "github.com/gigmarket/chat-service/internal/plugin/store/postgres"
	_ "github.com/gigmarket/chat-service/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the chat service HTTP and websocket server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Security mode (prod|testing); testing accepts opaque bearer tokens as user ids",
		},
		&cli.StringFlag{
			Name:        "tls-cert-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TLS_CERT_FILE"),
			Destination: &cfg.Listener.TLSCertFile,
			Usage:       "TLS certificate file for single-port TLS mode",
		},
		&cli.StringFlag{
			Name:        "tls-key-file",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TLS_KEY_FILE"),
			Destination: &cfg.Listener.TLSKeyFile,
			Usage:       "TLS private key file for single-port TLS mode",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.BoolFlag{
			Name:        "cors-enabled",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_CORS_ENABLED"),
			Destination: &cfg.CORSEnabled,
			Usage:       "Enable CORS headers on REST responses",
		},
		&cli.StringFlag{
			Name:        "cors-origins",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_CORS_ORIGINS"),
			Destination: &cfg.CORSOrigins,
			Usage:       "Comma-separated allowed CORS origins; empty allows any",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum REST request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout",
			Category:    "Server:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DRAIN_TIMEOUT"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Graceful shutdown drain timeout in seconds",
		},

		// ── Network Listener ──────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.BoolFlag{
			Name:        "plain-text",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_PLAIN_TEXT"),
			Destination: &cfg.Listener.EnablePlainText,
			Value:       cfg.Listener.EnablePlainText,
			Usage:       "Enable plaintext HTTP/1.1 + h2c",
		},
		&cli.BoolFlag{
			Name:        "tls",
			Category:    "Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TLS"),
			Destination: &cfg.Listener.EnableTLS,
			Value:       cfg.Listener.EnableTLS,
			Usage:       "Enable TLS HTTP/1.1 + HTTP/2",
		},

		// ── Management Network Listener ───────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-plain-text",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MANAGEMENT_PLAIN_TEXT"),
			Destination: &cfg.ManagementListener.EnablePlainText,
			Value:       cfg.ManagementListener.EnablePlainText,
			Usage:       "Enable plaintext HTTP for management server",
		},
		&cli.BoolFlag{
			Name:        "management-tls",
			Category:    "Management Network Listener:",
			Sources:     cli.EnvVars("CHAT_SERVICE_MANAGEMENT_TLS"),
			Destination: &cfg.ManagementListener.EnableTLS,
			Value:       cfg.ManagementListener.EnableTLS,
			Usage:       "Enable TLS for management server",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (a file path for sqlite)",
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-pool-max-open",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_POOL_MAX_OPEN"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-pool-max-idle",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_SERVICE_DB_POOL_MAX_IDLE"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Participant cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "Participant cache entry lifetime",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL shared by the cache, broadcast and notification plugins",
		},
		&cli.StringFlag{
			Name:        "infinispan-host",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_INFINISPAN_HOST"),
			Destination: &cfg.InfinispanHost,
			Usage:       "Infinispan RESP endpoint (host:port) for the infinispan cache",
		},
		&cli.StringFlag{
			Name:        "infinispan-username",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_INFINISPAN_USERNAME"),
			Destination: &cfg.InfinispanUsername,
			Usage:       "Infinispan username",
		},
		&cli.StringFlag{
			Name:        "infinispan-password",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_INFINISPAN_PASSWORD"),
			Destination: &cfg.InfinispanPassword,
			Usage:       "Infinispan password",
		},
		&cli.DurationFlag{
			Name:        "infinispan-startup-timeout",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CHAT_SERVICE_INFINISPAN_STARTUP_TIMEOUT"),
			Destination: &cfg.InfinispanStartupTimeout,
			Value:       cfg.InfinispanStartupTimeout,
			Usage:       "How long to wait for the Infinispan RESP endpoint at startup",
		},

		// ── Realtime ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "broadcast-kind",
			Category:    "Realtime:",
			Sources:     cli.EnvVars("CHAT_SERVICE_BROADCAST_KIND"),
			Destination: &cfg.BroadcastType,
			Value:       cfg.BroadcastType,
			Usage:       "Broadcast backend (" + strings.Join(broadcast.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "broadcast-redis-channel",
			Category:    "Realtime:",
			Sources:     cli.EnvVars("CHAT_SERVICE_BROADCAST_REDIS_CHANNEL"),
			Destination: &cfg.BroadcastRedisChannel,
			Value:       cfg.BroadcastRedisChannel,
			Usage:       "Redis pub/sub channel relaying events between instances",
		},
		&cli.StringFlag{
			Name:        "allowed-ws-origins",
			Category:    "Realtime:",
			Sources:     cli.EnvVars("CHAT_SERVICE_ALLOWED_WS_ORIGINS"),
			Destination: &cfg.AllowedWSOrigins,
			Usage:       "Comma-separated origins allowed to open websockets (* for any); empty means same-origin",
		},
		&cli.IntFlag{
			Name:        "ws-send-buffer",
			Category:    "Realtime:",
			Sources:     cli.EnvVars("CHAT_SERVICE_WS_SEND_BUFFER"),
			Destination: &cfg.WSSendBuffer,
			Value:       cfg.WSSendBuffer,
			Usage:       "Outbound events buffered per connection before events are dropped",
		},
		&cli.Float64Flag{
			Name:        "typing-rate",
			Category:    "Realtime:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TYPING_RATE"),
			Destination: &cfg.TypingRate,
			Value:       cfg.TypingRate,
			Usage:       "Typing events accepted per second per connection (0 = unlimited)",
		},
		&cli.IntFlag{
			Name:        "typing-burst",
			Category:    "Realtime:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TYPING_BURST"),
			Destination: &cfg.TypingBurst,
			Value:       cfg.TypingBurst,
			Usage:       "Typing event burst allowance per connection",
		},

		// ── Messages ──────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "preview-length",
			Category:    "Messages:",
			Sources:     cli.EnvVars("CHAT_SERVICE_PREVIEW_LENGTH"),
			Destination: &cfg.PreviewLength,
			Value:       cfg.PreviewLength,
			Usage:       "Characters of message content kept as the conversation preview",
		},

		// ── Notifications ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "notify-sink",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CHAT_SERVICE_NOTIFY_SINK"),
			Destination: &cfg.NotifySink,
			Value:       cfg.NotifySink,
			Usage:       "Notification sink (" + strings.Join(registrynotify.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "notify-stream",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CHAT_SERVICE_NOTIFY_STREAM"),
			Destination: &cfg.NotifyStream,
			Value:       cfg.NotifyStream,
			Usage:       "Redis stream receiving notifications when the redis sink is selected",
		},
		&cli.DurationFlag{
			Name:        "notify-interval",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CHAT_SERVICE_NOTIFY_INTERVAL"),
			Destination: &cfg.NotifyInterval,
			Value:       cfg.NotifyInterval,
			Usage:       "How often the outbox is polled",
		},
		&cli.IntFlag{
			Name:        "notify-batch-size",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CHAT_SERVICE_NOTIFY_BATCH_SIZE"),
			Destination: &cfg.NotifyBatchSize,
			Value:       cfg.NotifyBatchSize,
			Usage:       "Notifications claimed per poll",
		},
		&cli.DurationFlag{
			Name:        "notify-retry-delay",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CHAT_SERVICE_NOTIFY_RETRY_DELAY"),
			Destination: &cfg.NotifyRetryDelay,
			Value:       cfg.NotifyRetryDelay,
			Usage:       "Delay before a failed notification is retried",
		},
		&cli.IntFlag{
			Name:        "notify-max-retries",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CHAT_SERVICE_NOTIFY_MAX_RETRIES"),
			Destination: &cfg.NotifyMaxRetryCount,
			Value:       cfg.NotifyMaxRetryCount,
			Usage:       "Attempts before a notification is abandoned",
		},

		// ── Authorization ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "oidc-issuer",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("CHAT_SERVICE_OIDC_ISSUER"),
			Destination: &cfg.OIDCIssuer,
			Usage:       "OIDC issuer URL (enables OIDC auth)",
		},
		&cli.StringFlag{
			Name:        "oidc-discovery-url",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("CHAT_SERVICE_OIDC_DISCOVERY_URL"),
			Destination: &cfg.OIDCDiscoveryURL,
			Usage:       "OIDC discovery URL (internal URL when issuer is not directly reachable)",
		},
		&cli.StringFlag{
			Name:        "jwt-secret",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("CHAT_SERVICE_JWT_SECRET"),
			Destination: &cfg.JWTSecret,
			Usage:       "Shared secret for HS256 access tokens",
		},
		&cli.StringFlag{
			Name:        "cookie-name",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COOKIE_NAME"),
			Destination: &cfg.CookieName,
			Value:       cfg.CookieName,
			Usage:       "Session cookie carrying an access token",
		},
		&cli.StringFlag{
			Name:        "cookie-signing-keys",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("CHAT_SERVICE_COOKIE_SIGNING_KEYS"),
			Destination: &cfg.CookieSigningKeys,
			Usage:       "Comma-separated HMAC keys for the session cookie; the first signs, all verify",
		},
		&cli.BoolFlag{
			Name:        "trusted-user-id",
			Category:    "Authorization:",
			Sources:     cli.EnvVars("CHAT_SERVICE_TRUSTED_USER_ID"),
			Destination: &cfg.TrustedUserID,
			Usage:       "Accept a raw userId on the websocket handshake (trusted transports only)",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CHAT_SERVICE_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize <= 0 || websocket.IsWebSocketUpgrade(c.Request) {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}

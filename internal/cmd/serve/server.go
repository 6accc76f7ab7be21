package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/chat"
	"github.com/gigmarket/chat-service/internal/config"
	"github.com/gigmarket/chat-service/internal/gateway"
	"github.com/gigmarket/chat-service/internal/notify"
	"github.com/gigmarket/chat-service/internal/plugin/route/conversations"
	"github.com/gigmarket/chat-service/internal/plugin/route/messages"
	"github.com/gigmarket/chat-service/internal/plugin/route/realtime"
	routesystem "github.com/gigmarket/chat-service/internal/plugin/route/system"
	storemetrics "github.com/gigmarket/chat-service/internal/plugin/store/metrics"
	"github.com/gigmarket/chat-service/internal/registry/broadcast"
	registrycache "github.com/gigmarket/chat-service/internal/registry/cache"
	registrymigrate "github.com/gigmarket/chat-service/internal/registry/migrate"
	registrynotify "github.com/gigmarket/chat-service/internal/registry/notify"
	registryroute "github.com/gigmarket/chat-service/internal/registry/route"
	registrystore "github.com/gigmarket/chat-service/internal/registry/store"
	"github.com/gigmarket/chat-service/internal/security"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.ChatStore
	Hub             *gateway.Hub
	Chat            *chat.Service
	Router          *gin.Engine
	Running         *RunningServers
	broadcaster     broadcast.Broadcaster
	sink            registrynotify.Sink
	stopWorkers     context.CancelFunc
	closeManagement func(context.Context) error
	closeStore      func() error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	err := s.Running.Close(ctx)
	s.stopWorkers()
	if s.broadcaster != nil {
		if cErr := s.broadcaster.Close(); cErr != nil {
			log.Warn("Broadcaster close failed", "err", cErr)
		}
	}
	if s.sink != nil {
		if cErr := s.sink.Close(); cErr != nil {
			log.Warn("Notification sink close failed", "err", cErr)
		}
	}
	if s.closeStore != nil {
		if cErr := s.closeStore(); cErr != nil {
			log.Warn("Store close failed", "err", cErr)
		}
	}
	return err
}

// StartServer initializes all subsystems and starts HTTP and websockets on a single
// port. Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	ctx = config.WithContext(ctx, cfg)
	log.Info("Starting chat service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"broadcast", cfg.BroadcastType,
		"notify", cfg.NotifySink,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	// Background workers outlive the request context but stop on Shutdown.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	ok := false
	defer func() {
		if !ok {
			stopWorkers()
		}
	}()

	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	rawStore, err := storeLoader(workerCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if pinger, isPinger := rawStore.(interface{ Ping(context.Context) error }); isPinger {
		routesystem.SetReadinessChecks(pinger.Ping)
	}
	var closeStore func() error
	if closer, isCloser := rawStore.(interface{ Close() error }); isCloser {
		closeStore = closer.Close
	}
	store := storemetrics.Wrap(rawStore)

	// The participant cache is optional; a failure falls back to the store.
	var participants registrycache.ParticipantCache
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if participants, err = cacheLoader(workerCtx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		participants = nil
	}

	hub := gateway.NewHub()
	broadcastLoader, err := broadcast.Select(cfg.BroadcastType)
	if err != nil {
		return nil, err
	}
	broadcaster, err := broadcastLoader(workerCtx, hub)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize broadcaster: %w", err)
	}

	sinkLoader, err := registrynotify.Select(cfg.NotifySink)
	if err != nil {
		_ = broadcaster.Close()
		return nil, err
	}
	sink, err := sinkLoader(workerCtx)
	if err != nil {
		_ = broadcaster.Close()
		return nil, fmt.Errorf("failed to initialize notification sink: %w", err)
	}

	svc := chat.NewService(chat.Options{
		Store:         store,
		Broadcaster:   broadcaster,
		Notifier:      notify.NewOutbox(store),
		Participants:  participants,
		CacheTTL:      cfg.CacheTTL,
		PreviewLength: cfg.PreviewLength,
	})

	dispatcher := notify.NewDispatcher(store, sink, cfg)
	go dispatcher.Start(workerCtx)

	// Shared identity resolution for REST and websocket callers.
	resolver := security.NewTokenResolver(cfg)
	cookies := security.NewCookieCodec(cfg.CookieName, cfg.CookieKeys())
	directory := security.NewStoreDirectory(store)
	auth := security.AuthMiddleware(resolver, cookies)

	gw := gateway.New(gateway.Options{
		Hub:            hub,
		Authenticator:  gateway.NewAuthenticator(resolver, directory, cookies, cfg.TrustedUserID),
		Broadcaster:    broadcaster,
		Conversations:  svc,
		Recorder:       directory,
		AllowedOrigins: cfg.WSOrigins(),
		SendBuffer:     cfg.WSSendBuffer,
		TypingRate:     cfg.TypingRate,
		TypingBurst:    cfg.TypingBurst,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	conversations.MountRoutes(router, svc, auth)
	messages.MountRoutes(router, svc, auth)
	realtime.MountRoutes(router, gw)

	closeManagement, err := mountManagement(cfg, router)
	if err != nil {
		return nil, err
	}

	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		if closeManagement != nil {
			_ = closeManagement(context.Background())
		}
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	ok = true
	return &Server{
		Config:          cfg,
		Store:           store,
		Hub:             hub,
		Chat:            svc,
		Router:          router,
		Running:         running,
		broadcaster:     broadcaster,
		sink:            sink,
		stopWorkers:     stopWorkers,
		closeManagement: closeManagement,
		closeStore:      closeStore,
	}, nil
}

// mountManagement mounts the management route plugins. With a dedicated management
// port they run on their own engine and server, otherwise on the main router.
func mountManagement(cfg *config.Config, router *gin.Engine) (func(context.Context) error, error) {
	if !cfg.ManagementListenerEnabled {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		return nil, nil
	}

	mgmtRouter := gin.New()
	mgmtRouter.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		mgmtRouter.Use(security.AccessLogMiddleware())
	}
	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(mgmtRouter); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}
	// Management listener shares TLS cert/key with the main listener.
	mgmtCfg := cfg.ManagementListener
	mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
	mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
	if !mgmtCfg.EnablePlainText && !mgmtCfg.EnableTLS {
		mgmtCfg.EnablePlainText = true
	}
	running, err := StartSinglePortHTTP(context.Background(), mgmtCfg, mgmtRouter)
	if err != nil {
		return nil, fmt.Errorf("failed to start management server: %w", err)
	}
	log.Info("Management server listening", "addr", running.Addr)
	return running.Close, nil
}

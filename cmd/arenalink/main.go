package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arenalink/internal/core/services"
	httphandlers "arenalink/internal/handlers/http"
	"arenalink/internal/infrastructure/distributed"
	"arenalink/internal/infrastructure/middleware"
	"arenalink/internal/infrastructure/monitoring"
	"arenalink/internal/infrastructure/registry"
	"arenalink/internal/infrastructure/repositories"
	"arenalink/internal/infrastructure/stomp"
	"arenalink/pkg/config"
	"arenalink/pkg/logger"
	"arenalink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	healthInterval = 15 * time.Second
	healthTimeout  = 2 * time.Second
)

func main() {
	configPath := flag.String("config", envOr("ARENALINK_CONFIG", "configs/arenalink.yaml"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err := run(cfg, zapLogger); err != nil {
		log.Errorw("arenalink stopped with error", "error", err)
		_ = zapLogger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Auth.JWTSecret == config.InsecureDefaultSecret {
		log.Warn("auth.jwt_secret is the insecure development default; do not run this in production")
	}

	tracerProvider, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	// Storage
	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log.Named("storage"))
	if err != nil {
		return fmt.Errorf("open account stores: %w", err)
	}
	defer repoFactory.Close()

	if cfg.Storage.SeedPath != "" {
		n, err := repoFactory.Seed(ctx, cfg.Storage.SeedPath)
		if err != nil {
			return fmt.Errorf("seed accounts: %w", err)
		}
		log.Infow("seed accounts loaded", "path", cfg.Storage.SeedPath, "accounts", n)
	}
	stores := repoFactory.AccountStores()

	// Realtime core
	tokens, err := services.NewTokenService(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}
	resolver := services.NewIdentityResolver(stores)
	authenticator := services.NewConnectionAuthenticator(tokens, resolver, cfg.Auth.RejectAnonymous, collector, log.Named("auth"))
	sessions := registry.NewSessionRegistry(cfg.Realtime.RegistryShards, collector, log.Named("registry"))
	broker := services.NewMessageBroker(sessions, collector, log.Named("broker"))

	fanout := services.NewNotificationFanout(broker, services.NotificationFanoutConfig{
		Workers:   cfg.Notifications.Workers,
		QueueSize: cfg.Notifications.QueueSize,
	}, collector, log.Named("notifications"))
	fanout.Start()

	stompServer := stomp.NewServer(stomp.Config{
		PingInterval:   cfg.Realtime.PingInterval,
		PongTimeout:    cfg.Realtime.PongTimeout,
		WriteTimeout:   cfg.Realtime.WriteTimeout,
		ConnectTimeout: cfg.Realtime.ConnectTimeout,
		OutboxSize:     cfg.Realtime.OutboxSize,
		MaxFrameSize:   cfg.Realtime.MaxFrameSize,
		MaxConnections: cfg.Realtime.MaxConnections,
		FrameRate:      cfg.Realtime.FrameRate,
		FrameBurst:     cfg.Realtime.FrameBurst,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
	}, authenticator, sessions, broker, collector, log.Named("stomp"))

	// Domain events from other services
	if cfg.Events.Enabled {
		if client := repoFactory.RedisClient(); client != nil {
			hostname, _ := os.Hostname()
			bus := distributed.NewEventBus(client, cfg.Events.Channel, hostname, fanout, log.Named("events"))
			go func() {
				if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Errorw("event bus stopped", "error", err)
				}
			}()
		} else {
			log.Warn("events.enabled is set but Redis is unavailable; event bus disabled")
		}
	}

	// Health
	checker := monitoring.NewHealthChecker()
	checker.AddAccountStoreCheck(stores, healthInterval, healthTimeout)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, healthInterval, healthTimeout)
	}
	if pool := repoFactory.PostgresPool(); pool != nil {
		checker.AddCheck("postgres", func(ctx context.Context) (bool, error) {
			if err := pool.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		}, healthInterval, healthTimeout)
	}
	checker.StartBackgroundChecks(ctx)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.MetricsMiddleware(collector),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger.Named("http")), "/health", "/ready", cfg.Monitoring.MetricsPath),
		middleware.ErrorHandlerMiddleware(log.Named("http")),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	auth := middleware.AuthMiddleware(tokens, resolver, log.Named("http"))
	router.GET(cfg.Realtime.Path, gin.WrapF(stompServer.HandleWebSocket))
	httphandlers.NewAuthHandler(tokens, resolver, cfg.Auth.TokenTTL, log.Named("http")).SetupRoutes(router, auth)
	httphandlers.NewNotificationHandler(fanout, log.Named("http")).SetupRoutes(router, auth)
	httphandlers.NewRealtimeHandler(sessions).SetupRoutes(router, auth, middleware.OptionalAuthMiddleware(tokens, resolver))
	httphandlers.NewHealthHandler(checker, stompServer.ActiveConnections).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
		log.Infow("Prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting arenalink",
			"address", cfg.Server.Address,
			"websocket_path", cfg.Realtime.Path,
			"storage_backend", repoFactory.Backend(),
			"reject_anonymous", cfg.Auth.RejectAnonymous,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case runErr = <-serverErr:
		log.Errorw("server failed", "error", runErr)
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during HTTP shutdown", "error", err)
		_ = srv.Close()
	}
	// Hijacked WebSocket connections are not covered by srv.Shutdown.
	if err := stompServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error closing STOMP sessions", "error", err)
	}
	if err := fanout.Stop(shutdownCtx); err != nil {
		log.Errorw("error draining notifications", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error flushing traces", "error", err)
	}

	log.Info("arenalink stopped")
	return runErr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

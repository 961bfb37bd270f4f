package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"crm-chat/internal/auth"
	"crm-chat/internal/chat"
	"crm-chat/internal/config"
	"crm-chat/internal/db"
	"crm-chat/internal/handlers"
	"crm-chat/internal/middleware"
	"crm-chat/internal/observability"
	"crm-chat/internal/presence"
	"crm-chat/internal/rabbitmq"
	"crm-chat/internal/relay"
	"crm-chat/internal/repositories"
	"crm-chat/internal/storage"
	"crm-chat/internal/telemetry"
	"crm-chat/internal/tenant"
	"crm-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger(cfg.App.LogLevel, cfg.App.Env)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	control, err := db.Connect(cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer control.Close()
	if err := db.MigrateControl(control); err != nil {
		logger.Fatal("failed to migrate control schema", zap.Error(err))
	}

	resolver := tenant.NewResolver(
		repositories.NewTenantRepo(control),
		tenant.PostgresOpener(cfg.Database.SchemaDSN, cfg.Tenants.AutoMigrate),
		logger,
	)
	authn := auth.NewAuthenticator(auth.NewVerifier(cfg.JWT.Secret), resolver)

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, observability.RoutingAudit, cfg.Tracing.ServiceName, cfg.App.Env, logger)

	hub := ws.NewHub(logger)
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rl := relay.New(client, cfg.Redis.Channel, logger)
		defer rl.Close()
		hub.UseRelay(ctx, rl)
		go func() {
			if err := rl.Run(ctx, hub.Deliver); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("relay stopped", zap.Error(err))
			}
		}()
		logger.Info("relay enabled", zap.String("origin", rl.Origin()), zap.String("channel", cfg.Redis.Channel))
	}

	pres := presence.NewManager(hub, cfg.Presence.Grace, logger)
	svc := chat.NewService(hub, storage.NewFileStore(cfg.Storage.UploadDir), logger, chat.WithAudit(audit))
	wsHandler := ws.NewHandler(hub, ws.NewRouter(hub, svc, pres, logger), authn, logger)

	if cfg.App.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())

	router.GET("/healthz", handlers.Healthz(control))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.Handle)

	api := router.Group("/", middleware.AuthMiddleware(authn))
	handlers.NewChatHandler(svc).Register(api)
	handlers.RegisterDebugRoutes(router, audit, cfg.App.Env == "dev")

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("chat server listening", zap.String("addr", srv.Addr), zap.String("amqp", rabbitmq.PublisherMode(publisher)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	pres.Stop()
	if err := resolver.Close(); err != nil {
		logger.Warn("close tenant pools", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		logger.Warn("close publisher", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

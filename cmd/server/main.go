// Package main runs the live stream signaling server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/livesignal/config"
	"github.com/aura-webinar/livesignal/internal/auth"
	"github.com/aura-webinar/livesignal/internal/middleware"
	"github.com/aura-webinar/livesignal/internal/persistence"
	"github.com/aura-webinar/livesignal/internal/realtime"
	"github.com/aura-webinar/livesignal/internal/sessionlog"
	"github.com/aura-webinar/livesignal/internal/signaling"
	"github.com/aura-webinar/livesignal/internal/streams"
	"github.com/aura-webinar/livesignal/pkg/database"
	"github.com/aura-webinar/livesignal/pkg/queue"
	"github.com/aura-webinar/livesignal/pkg/redis"
	"github.com/aura-webinar/livesignal/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger := newLogger(cfg.Log.Level)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)

	// Durable projection of stream state
	streamRepo := streams.NewRepository(pool)
	sessionLogRepo := sessionlog.NewRepository(pool)
	store := persistence.NewPostgresStore(streamRepo, sessionLogRepo)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	projector := persistence.NewProjector(store, jobQueue, redisPubSub, persistence.Config{
		Workers:     cfg.Persistence.Workers,
		Buffer:      cfg.Persistence.Buffer,
		MaxAttempts: cfg.Persistence.MaxAttempts,
		Backoff:     cfg.Persistence.Backoff,
	}, logger)
	projector.Start()

	// Signaling
	hub := realtime.NewHub(logger)
	coordinator := signaling.NewCoordinator(hub, projector, signaling.Options{
		VerifyTimeout: cfg.Signaling.VerifyTimeout,
		Logger:        logger,
	})

	streamHandler := streams.NewHandler(coordinator, streamRepo, redisPubSub, logger)
	sessionLogHandler := sessionlog.NewHandler(sessionLogRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		status, redisState := http.StatusOK, "ok"
		if err := rdb.Check(ctx); err != nil {
			status, redisState = http.StatusServiceUnavailable, "down"
		}
		response.Status(c, status, gin.H{"connections": hub.ConnectionCount(), "redis": redisState})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Admin API (JWT + admin role)
	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole("admin"))
	{
		admin.GET("/streams", streamHandler.List)
		admin.GET("/streams/:id", streamHandler.Get)
		admin.GET("/streams/:id/events", streamHandler.Events)
		admin.GET("/streams/:id/viewers", sessionLogHandler.GetViewers)
	}

	// WebSocket (token in query or Authorization header; anonymous viewers when allowed)
	router.GET("/ws", realtime.ServeWs(hub, coordinator, jwtService.Authenticate, realtime.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		AllowAnonymous: cfg.Signaling.AllowAnonymousViewers,
	}, logger))

	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		// WriteTimeout would cut long-lived sockets and SSE; writes are bounded per frame instead.
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	projector.Close()
	logger.Info("server stopped")
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, _ := config.Build()
	return logger
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sidharth-m/ripple/internal/api"
	"github.com/sidharth-m/ripple/internal/composer"
	"github.com/sidharth-m/ripple/internal/config"
	"github.com/sidharth-m/ripple/internal/db"
	"github.com/sidharth-m/ripple/internal/directory"
	"github.com/sidharth-m/ripple/internal/feed"
	"github.com/sidharth-m/ripple/internal/livesync"
	"github.com/sidharth-m/ripple/internal/middleware"
	"github.com/sidharth-m/ripple/internal/observ"
	"github.com/sidharth-m/ripple/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	// The change feed rides on Redis when configured; a single-node
	// deployment runs on the in-process bus with identical semantics.
	var bus feed.Bus
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer client.Close()
		bus = feed.NewRedis(client, logger)
		logger.Info("change feed on redis", zap.String("url", cfg.RedisURL))
	} else {
		memory := feed.NewMemory(logger)
		defer memory.Shutdown()
		bus = memory
		logger.Info("change feed in-process")
	}

	pool := database.Pool()
	channelRepo := postgres.NewChannelStore(pool, bus, logger)
	membershipRepo := postgres.NewMembershipStore(pool)
	messageRepo := postgres.NewMessageStore(pool, bus, logger)
	userRepo := postgres.NewUserStore(pool)
	reactionRepo := postgres.NewReactionStore(pool, bus, logger)

	dir := directory.New(channelRepo, membershipRepo, logger)
	cmp := composer.New(messageRepo, logger)
	syncer := livesync.NewSyncer(messageRepo, userRepo, reactionRepo, bus, logger)

	authHandler := api.NewAuthHandler(userRepo, cfg.JWTSecret, logger)
	channelHandler := api.NewChannelHandler(dir, logger)
	messageHandler := api.NewMessageHandler(cmp, messageRepo, logger)
	reactionHandler := api.NewReactionHandler(reactionRepo, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	liveHandler := api.NewLiveHandler(syncer, dir, bus, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.GET("/channels", channelHandler.List)
	v1.POST("/channels", channelHandler.Create)
	v1.GET("/channels/:id", channelHandler.GetByID)
	v1.POST("/channels/:id/join", channelHandler.Join)
	v1.GET("/channels/:id/messages", messageHandler.List)
	v1.POST("/channels/:id/messages", messageHandler.Send)
	v1.POST("/messages/:id/reactions", reactionHandler.Toggle)
	v1.GET("/users/:id", userHandler.GetProfile)
	v1.GET("/channels/:id/live", liveHandler.Stream)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv,
	}

	go func() {
		logger.Info("starting ripple",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	callHandler "pair-backend/internal/handler/http/call"
	wsHandler "pair-backend/internal/handler/ws"
	"pair-backend/internal/middleware"
	"pair-backend/internal/repository/cassandra"
	"pair-backend/internal/repository/cockroach"
	callService "pair-backend/internal/service/call"
	"pair-backend/internal/signaling"
	"pair-backend/pkg/config"
	"pair-backend/pkg/constants"
	"pair-backend/pkg/database"
	"pair-backend/pkg/jwt"
	"pair-backend/pkg/logger"
	"pair-backend/pkg/response"
	"pair-backend/pkg/storage"
)

func main() {
	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger
	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 3. Setup JWT manager
	if cfg.JWT.Secret == "" {
		logger.Log.Fatal("JWT_SECRET environment variable is required")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)

	// 4. Connect to CockroachDB with exponential backoff retry
	db := connectCockroachWithRetry(ctx, cfg)
	if db == nil {
		logger.Log.Fatal("Session store unavailable, cannot serve calls")
	}
	defer db.Close()
	callRepo := cockroach.NewCallRepository(db.Pool)

	// 5. Connect to Redis (signaling transport and call events)
	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()
	logger.Log.Info("Connected to Redis")

	// 6. Connect to Cassandra for feed announcements. Optional: the
	// service runs without it, calls just stop announcing themselves.
	var feedRepo callService.FeedRepository
	cassandraDB, err := database.NewCassandraDB(&cfg.Cassandra)
	if err != nil {
		logger.Log.Warn("Cassandra unavailable, call announcements disabled", zap.Error(err))
	} else {
		defer cassandraDB.Close()
		feedRepo = cassandra.NewFeedRepository(cassandraDB.Session)
		logger.Log.Info("Connected to Cassandra")
	}

	// 7. Avatar presigning. Optional: rosters degrade to raw keys.
	var avatars callService.AvatarPresigner
	avatarStore, err := storage.NewAvatarStore(&cfg.MinIO)
	if err != nil {
		logger.Log.Warn("MinIO unavailable, avatar presigning disabled", zap.Error(err))
	} else {
		avatars = avatarStore
	}

	// 8. Wire up service and handlers
	callSvc := callService.NewService(callRepo, feedRepo, avatars, redisDB.Client)
	callHdlr := callHandler.NewHandler(callSvc)

	transport := signaling.NewRedisTransport(redisDB.Client)
	signalingHub := wsHandler.NewSignalingHub(transport)

	// 9. Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.PrometheusMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	rateLimiter := middleware.NewRateLimiter(redisDB.Client, constants.RateLimitRequests, constants.RateLimitWindow)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	v1.Use(rateLimiter.Middleware())
	{
		calls := v1.Group("/calls")
		{
			calls.POST("", callHdlr.StartCall)
			calls.GET("/:id", callHdlr.GetCall)
			calls.POST("/:id/join", callHdlr.JoinCall)
			calls.POST("/:id/leave", callHdlr.LeaveCall)
			calls.POST("/:id/end", callHdlr.EndCall)
			calls.PATCH("/:id/media", callHdlr.UpdateMedia)

			// WebSocket endpoint for WebRTC signaling
			calls.GET("/ws/signaling", signalingHub.ServeWS)
		}

		v1.GET("/groups/:id/calls", callHdlr.GetGroupCalls)

		// Clients fetch the ICE server list before dialing.
		v1.GET("/webrtc/config", func(c *gin.Context) {
			response.Success(c, http.StatusOK, gin.H{
				"stun_servers": cfg.WebRTC.STUNServers,
			})
		})
	}

	// 10. Start server with graceful shutdown
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Log.Info("Call service starting",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down call service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Forced shutdown", zap.Error(err))
	}
}

// connectCockroachWithRetry attempts the session store connection with
// exponential backoff. Returns nil when every attempt fails.
func connectCockroachWithRetry(ctx context.Context, cfg *config.Config) *database.CockroachDB {
	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err := database.NewCockroachDB(ctx, &cfg.Database)
	if err == nil {
		logger.Log.Info("Connected to CockroachDB")
		return db
	}

	for attempt := 2; attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Log.Warn("CockroachDB connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		time.Sleep(delay)

		db, err = database.NewCockroachDB(ctx, &cfg.Database)
		if err == nil {
			logger.Log.Info("Connected to CockroachDB", zap.Int("attempt", attempt))
			return db
		}
	}

	logger.Log.Error("Failed to connect to CockroachDB", zap.Int("attempts", maxRetries), zap.Error(err))
	return nil
}

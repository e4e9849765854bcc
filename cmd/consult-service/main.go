package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	intDatabase "teleclinic-backend/internal/database"
	consultationHandler "teleclinic-backend/internal/handler/http/consultation"
	pushHandler "teleclinic-backend/internal/handler/http/push"
	wsHandler "teleclinic-backend/internal/handler/ws"
	"teleclinic-backend/internal/middleware"
	"teleclinic-backend/internal/repository/cockroach"
	redisRepo "teleclinic-backend/internal/repository/redis"
	consultationService "teleclinic-backend/internal/service/consultation"
	tokenService "teleclinic-backend/internal/service/token"
	"teleclinic-backend/pkg/constants"
	pkgDatabase "teleclinic-backend/pkg/database"
	"teleclinic-backend/pkg/env"
	"teleclinic-backend/pkg/jwt"
	"teleclinic-backend/pkg/logger"
	"teleclinic-backend/pkg/metrics"
	"teleclinic-backend/pkg/push"
)

func main() {
	ctx := context.Background()

	logger.InitDefault()
	defer logger.Sync()

	// 1. Setup JWT Manager for API authentication
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, constants.AccessTokenExpiry, constants.RefreshTokenExpiry)

	// 2. Setup the room-grant issuer. A separate key so API tokens can never
	// double as room grants.
	roomSecret := env.GetStringFromFile("ROOM_TOKEN_SECRET", "")
	if roomSecret == "" {
		log.Fatal("ROOM_TOKEN_SECRET environment variable is required")
	}
	tokenSvc := tokenService.NewService(roomSecret, env.GetDuration("ROOM_TOKEN_TTL", tokenService.DefaultTTL))

	// 3. Connect to CockroachDB with exponential backoff retry
	dbConfig := &pkgDatabase.CockroachConfig{
		Host:     env.GetString("DB_HOST", "localhost"),
		Port:     env.GetInt("DB_PORT", 26257),
		User:     env.GetString("DB_USER", "root"),
		Password: env.GetStringFromFile("DB_PASSWORD", ""),
		Database: env.GetString("DB_NAME", "teleclinic"),
		SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
	}

	var db *pkgDatabase.CockroachDB
	var err error

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err = pkgDatabase.NewCockroachDB(ctx, dbConfig)
	if err != nil {
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
			time.Sleep(delay)

			db, err = pkgDatabase.NewCockroachDB(ctx, dbConfig)
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		log.Fatalf("Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
	}
	defer db.Close()
	log.Println("Connected to CockroachDB")

	consultationRepo := cockroach.NewConsultationRepository(db.Pool)

	// 4. Initialize Redis with degraded mode support
	intDatabase.InitRedisMetrics()

	redisConfig := &intDatabase.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := intDatabase.NewRedisDB(redisConfig)
	if err != nil {
		log.Printf("Warning: Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()

	redisDB.StartHealthCheck(ctx, 10*time.Second)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)

	// 5. Initialize Push Service
	pushProvider, err := push.NewProvider()
	if err != nil {
		log.Fatalf("Failed to initialize push provider: %v", err)
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	// 6. Initialize Metrics
	appMetrics := metrics.NewMetrics("consult-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 7. Initialize the consultation service and handlers
	consultationSvc := consultationService.NewService(consultationRepo, presenceRepo, pushSvc, appMetrics)

	consultationHdlr := consultationHandler.NewHandler(consultationSvc, tokenSvc, appMetrics)
	pushHdlr := pushHandler.NewHandler(pushSvc)

	// 8. Initialize the room gateway hub
	roomHub := wsHandler.NewRoomHub(redisDB.Client, tokenSvc)

	// 9. Setup Gin Router
	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if err := db.Ping(c.Request.Context()); err != nil {
			status = "degraded"
		}
		c.JSON(200, gin.H{
			"status":         status,
			"service":        "consult-service",
			"redis_degraded": redisDB.IsDegraded(),
			"time":           time.Now().UTC(),
		})
	})

	// Metrics endpoint (for Prometheus scraping)
	router.GET("/metrics", middleware.MetricsHandler())

	// Token issuance gets its own rate limit: a misbehaving client retrying
	// joins must not be able to mint grants unboundedly
	tokenLimiter := middleware.NewRateLimiter(redisDB.Client,
		constants.TokenIssuanceRateLimit, constants.TokenIssuanceRateWindow)

	// Consultation routes (all require an authenticated call party)
	videocall := router.Group("/videocall")
	videocall.Use(middleware.Timeout(constants.DefaultTimeout))
	videocall.Use(middleware.AuthMiddleware(jwtManager))
	videocall.Use(middleware.RequireCallParty())
	{
		videocall.POST("/create", consultationHdlr.Create)
		videocall.GET("/list", consultationHdlr.List)
		videocall.GET("/:id", consultationHdlr.Get)
		videocall.PUT("/status/:id", consultationHdlr.UpdateStatus)
		videocall.POST("/token", tokenLimiter.Middleware(), consultationHdlr.IssueToken)
	}

	// Push token routes
	pushGroup := router.Group("/push")
	pushGroup.Use(middleware.AuthMiddleware(jwtManager))
	{
		pushGroup.POST("/tokens", pushHdlr.RegisterToken)
		pushGroup.DELETE("/tokens", pushHdlr.UnregisterTokens)
	}

	// Room gateway: participants connect with a room grant, not an API token
	router.GET("/ws/room", roomHub.ServeWS)

	// 10. Start server
	port := env.GetString("PORT", "8084")
	addr := fmt.Sprintf(":%s", port)

	log.Printf("Consult service starting on port %s", port)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

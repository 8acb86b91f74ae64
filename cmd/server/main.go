package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yourorg/market-data-collector/internal/client"
	"github.com/yourorg/market-data-collector/internal/config"
	"github.com/yourorg/market-data-collector/internal/events"
	"github.com/yourorg/market-data-collector/internal/handler"
	"github.com/yourorg/market-data-collector/internal/middleware"
	"github.com/yourorg/market-data-collector/internal/ratelimit"
	"github.com/yourorg/market-data-collector/internal/repository"
	"github.com/yourorg/market-data-collector/internal/service"
	syncpkg "github.com/yourorg/market-data-collector/internal/sync"
	"github.com/yourorg/market-data-collector/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	timezone, err := time.LoadLocation(cfg.Sync.Timezone)
	if err != nil {
		logger.Fatal("Failed to load exchange timezone", zap.String("timezone", cfg.Sync.Timezone), zap.Error(err))
	}

	// Connect to database
	db, err := connectToDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories
	candleRepo := repository.NewCandleRepository(db, logger)
	instrumentRepo := repository.NewInstrumentRepository(db, logger)
	holidayRepo := repository.NewHolidayRepository(db, logger)

	// Initialize broker access
	brokerClient := client.NewBrokerClient(client.Config{
		BaseURL:        cfg.Broker.BaseURL,
		TokenURL:       cfg.Broker.TokenURL,
		InstrumentsURL: cfg.Broker.InstrumentsURL,
		APIKey:         cfg.Broker.APIKey,
		APISecret:      cfg.Broker.APISecret,
		Timeout:        cfg.Broker.Timeout,
	}, logger)

	tokenCache := createTokenCache(cfg.Redis, logger)
	tokenManager := token.NewManager(tokenCache, brokerClient, logger)

	fetcher := client.NewCandleFetcher(brokerClient, tokenManager, client.RetryConfig{
		MaxAttempts:    uint64(cfg.Retry.MaxAttempts),
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, logger)

	limiter := ratelimit.NewLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.PerMinute)

	// Initialize sync pipeline
	pipeline := syncpkg.NewPipeline(candleRepo, fetcher, limiter, syncpkg.Config{
		EpochStart:   cfg.Sync.EpochStart,
		ChunkDays:    cfg.Sync.ChunkDays,
		BatchSize:    cfg.Sync.BatchSize,
		BatchPause:   cfg.Sync.BatchPause,
		ReleaseEvery: cfg.Sync.ReleaseEvery,
		Timezone:     timezone,
	}, logger)
	instrumentSyncer := syncpkg.NewInstrumentSyncer(brokerClient, instrumentRepo, logger)
	sink := syncpkg.NewRepositorySink(candleRepo)

	// Initialize event publisher (disabled without brokers)
	publisher := events.NewPublisher(createKafkaWriter(cfg.Kafka), logger)
	defer publisher.Close()

	// Initialize services
	marketDataService := service.NewMarketDataService(candleRepo, instrumentRepo, logger)
	syncService := service.NewSyncService(
		instrumentSyncer,
		pipeline,
		instrumentRepo,
		holidayRepo,
		publisher,
		timezone,
		logger,
	)

	// Initialize handlers
	marketDataHandler := handler.NewMarketDataHandler(marketDataService, logger)
	syncHandler := handler.NewSyncHandler(syncService, sink, logger)

	// Set up HTTP server with Gin
	router := setupRouter(marketDataHandler, syncHandler, timezone, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited properly")
}

func createLogger(level string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	// Create logger config
	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func connectToDB(dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.DBName,
		dbConfig.SSLMode,
	)

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

// createTokenCache prefers Redis so the access token survives restarts and
// is shared across replicas; without a Redis URL it falls back to memory.
func createTokenCache(redisConfig config.RedisConfig, logger *zap.Logger) token.TokenCache {
	if redisConfig.URL == "" {
		logger.Info("Redis not configured, caching access token in memory")
		return token.NewMemoryCache()
	}

	opts, err := redis.ParseURL(redisConfig.URL)
	if err != nil {
		logger.Warn("Invalid Redis URL, caching access token in memory", zap.Error(err))
		return token.NewMemoryCache()
	}

	return token.NewRedisCache(redis.NewClient(opts), redisConfig.TokenPrefix+"access")
}

// createKafkaWriter returns nil when no brokers are configured, which
// disables event publishing.
func createKafkaWriter(kafkaConfig config.KafkaConfig) *kafka.Writer {
	brokers := splitBrokers(kafkaConfig.Brokers)
	if len(brokers) == 0 {
		return nil
	}
	return events.NewWriter(brokers, kafkaConfig.Topic)
}

func setupRouter(
	marketDataHandler *handler.MarketDataHandler,
	syncHandler *handler.SyncHandler,
	timezone *time.Location,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// API routes
	v1 := router.Group("/api/v1")
	{
		// Market data routes
		marketData := v1.Group("/market-data")
		{
			marketData.Use(middleware.ExecutionContext(timezone, logger))

			marketData.GET("/candles", marketDataHandler.GetCandles)
			marketData.GET("/instruments", marketDataHandler.GetInstruments)
		}

		// Sync routes
		syncRoutes := v1.Group("/sync")
		{
			syncRoutes.POST("", syncHandler.TriggerSync)
			syncRoutes.GET("/status", syncHandler.GetSyncStatus)
		}
	}
	return router
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

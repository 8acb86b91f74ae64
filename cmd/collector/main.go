package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/yourorg/market-data-collector/internal/client"
	"github.com/yourorg/market-data-collector/internal/config"
	"github.com/yourorg/market-data-collector/internal/events"
	"github.com/yourorg/market-data-collector/internal/ratelimit"
	"github.com/yourorg/market-data-collector/internal/repository"
	"github.com/yourorg/market-data-collector/internal/scheduler"
	"github.com/yourorg/market-data-collector/internal/service"
	syncpkg "github.com/yourorg/market-data-collector/internal/sync"
	"github.com/yourorg/market-data-collector/internal/token"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	csvPath := flag.String("csv", "", "write candles to this CSV file instead of the database")
	every := flag.Int("every", 0, "repeat on minute boundaries at this interval, 0 runs once")
	until := flag.String("until", "", "stop scheduled runs at this time (RFC 3339), default 24h from now")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
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

	tokenManager := token.NewManager(createTokenCache(cfg.Redis, logger), brokerClient, logger)

	fetcher := client.NewCandleFetcher(brokerClient, tokenManager, client.RetryConfig{
		MaxAttempts:    uint64(cfg.Retry.MaxAttempts),
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}, logger)

	limiter := ratelimit.NewLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.PerMinute)

	pipeline := syncpkg.NewPipeline(candleRepo, fetcher, limiter, syncpkg.Config{
		EpochStart:   cfg.Sync.EpochStart,
		ChunkDays:    cfg.Sync.ChunkDays,
		BatchSize:    cfg.Sync.BatchSize,
		BatchPause:   cfg.Sync.BatchPause,
		ReleaseEvery: cfg.Sync.ReleaseEvery,
		Timezone:     timezone,
	}, logger)
	instrumentSyncer := syncpkg.NewInstrumentSyncer(brokerClient, instrumentRepo, logger)

	publisher := events.NewPublisher(createKafkaWriter(cfg.Kafka), logger)
	defer publisher.Close()

	syncService := service.NewSyncService(
		instrumentSyncer,
		pipeline,
		instrumentRepo,
		holidayRepo,
		publisher,
		timezone,
		logger,
	)

	var sink syncpkg.CandleSink = syncpkg.NewRepositorySink(candleRepo)
	if *csvPath != "" {
		sink = syncpkg.NewFileSink(*csvPath)
		logger.Info("Writing candles to CSV file", zap.String("path", *csvPath))
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *every <= 0 {
		if _, err := syncService.Run(ctx, sink); err != nil {
			logger.Fatal("Sync run failed", zap.Error(err))
		}
		return
	}

	start := time.Now()
	end := start.Add(24 * time.Hour)
	if *until != "" {
		end, err = time.Parse(time.RFC3339, *until)
		if err != nil {
			logger.Fatal("Invalid -until value, expected RFC 3339", zap.Error(err))
		}
	}

	sched := scheduler.NewBoundaryScheduler(logger)
	go func() {
		<-ctx.Done()
		sched.Stop()
	}()

	fired, err := sched.Run(start, end, *every, func(boundary time.Time) error {
		_, runErr := syncService.Run(ctx, sink)
		return runErr
	})
	if err != nil {
		logger.Fatal("Scheduler failed", zap.Error(err))
	}
	logger.Info("Scheduler finished", zap.Int("runs", fired))
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()
	return ctx, cancel
}

func createLogger(level string) (*zap.Logger, error) {
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

func createTokenCache(redisConfig config.RedisConfig, logger *zap.Logger) token.TokenCache {
	if redisConfig.URL == "" {
		return token.NewMemoryCache()
	}

	opts, err := redis.ParseURL(redisConfig.URL)
	if err != nil {
		logger.Warn("Invalid Redis URL, caching access token in memory", zap.Error(err))
		return token.NewMemoryCache()
	}

	return token.NewRedisCache(redis.NewClient(opts), redisConfig.TokenPrefix+"access")
}

func createKafkaWriter(kafkaConfig config.KafkaConfig) *kafka.Writer {
	var brokers []string
	for _, b := range strings.Split(kafkaConfig.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil
	}
	return events.NewWriter(brokers, kafkaConfig.Topic)
}

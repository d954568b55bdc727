package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hqmotech/forwarder/internal/config"
	"github.com/hqmotech/forwarder/internal/delivery"
	"github.com/hqmotech/forwarder/internal/dispatcher"
	entityhandler "github.com/hqmotech/forwarder/internal/handler/entity"
	healthhandler "github.com/hqmotech/forwarder/internal/handler/health"
	recordhandler "github.com/hqmotech/forwarder/internal/handler/record"
	repeaterhandler "github.com/hqmotech/forwarder/internal/handler/repeater"
	"github.com/hqmotech/forwarder/internal/middleware"
	"github.com/hqmotech/forwarder/internal/notify"
	"github.com/hqmotech/forwarder/internal/registry"
	"github.com/hqmotech/forwarder/internal/repository/postgres"
	"github.com/hqmotech/forwarder/internal/scheduler"
	recordsvc "github.com/hqmotech/forwarder/internal/service/record"
	repeatersvc "github.com/hqmotech/forwarder/internal/service/repeater"
	"github.com/hqmotech/forwarder/pkg/lock"
	"github.com/hqmotech/forwarder/pkg/logger"
	"github.com/hqmotech/forwarder/pkg/messaging"
	redisbroker "github.com/hqmotech/forwarder/pkg/messaging/redis"
	"github.com/hqmotech/forwarder/pkg/metrics"
	"github.com/hqmotech/forwarder/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:      logger.InfoLevel,
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
	})

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	// The per-record lock only needs redis when running multiple workers;
	// a single-worker deployment can fall back to the in-process locker.
	var redisClient *redis.Client
	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			appLogger.Fatal(err, "failed to parse redis URL")
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			appLogger.Fatal(err, "failed to connect to redis")
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, "forwarder:")
	}

	encryptor, err := security.NewAESEncryptor(
		security.DeriveKey(cfg.Security.EncryptionSecret, cfg.Security.EncryptionSalt))
	if err != nil {
		appLogger.Fatal(err, "failed to initialize encryption")
	}

	base := postgres.NewBaseRepository(db)
	recordRepo := postgres.NewRepeatRecordRepository(base)
	repeaterRepo := postgres.NewRepeaterRepository(base)
	connectionRepo := postgres.NewConnectionSettingsRepository(base)
	entityRepo := postgres.NewEntityRepository(base)

	m := metrics.New("forwarder", prometheus.DefaultRegisterer)
	reg := registry.Bootstrap()

	var notifier recordsvc.Notifier = notify.NopNotifier{}
	if cfg.SMTP.Host != "" {
		notifier = notify.NewEmailNotifier(cfg.SMTP, appLogger)
	}

	client := delivery.NewClient(cfg.Engine.PostTimeout, cfg.Engine.FailureCacheTTL, appLogger)
	recordService := recordsvc.NewService(
		recordRepo, repeaterRepo, connectionRepo, entityRepo,
		reg, client, notifier, encryptor, cfg.Engine, appLogger, m,
	)
	repeaterService := repeatersvc.NewService(repeaterRepo, connectionRepo, reg, encryptor)

	disp := dispatcher.New(repeaterRepo, recordRepo, entityRepo, appLogger, m)

	// With redis the ingest endpoint publishes entity-saved events and a
	// listener registers the records; without it the dispatcher runs inline.
	var sink dispatcher.EventSink = disp
	var broker messaging.Broker
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewBroker(redisbroker.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
			PoolSize:     10,
			MinIdleConns: 2,
		}, &appLogger.ZL)
		if err != nil {
			appLogger.Fatal(err, "failed to connect message broker")
		}
		defer broker.Close()
		sink = dispatcher.NewBrokerSink(broker)
	}

	sched := scheduler.New(recordRepo, recordService, locker, cfg.Engine, appLogger, m)
	cleanup := scheduler.NewCleanupWorker(recordRepo, cfg.Engine.RecordRetention, 24*time.Hour, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if broker != nil {
		listener := dispatcher.NewListener(broker, disp, appLogger)
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				appLogger.Error(err, "entity event listener stopped")
			}
		}()
	}
	go serveAdmin(cfg, db, redisClient, sink, recordService, repeaterService, appLogger)
	go cleanup.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down")
		cancel()
	}()

	sched.Start(ctx)
}

// serveAdmin exposes the operator API, health checks and metrics.
func serveAdmin(
	cfg *config.Config,
	db *sqlx.DB,
	redisClient *redis.Client,
	sink dispatcher.EventSink,
	recordService *recordsvc.Service,
	repeaterService *repeatersvc.Service,
	appLogger *logger.Logger,
) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Logger(), middleware.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	healthhandler.NewHandler(db, redisClient).RegisterRoutes(api)
	entityhandler.NewHandler(sink).RegisterRoutes(api)
	recordhandler.NewHandler(recordService).RegisterRoutes(api)
	repeaterhandler.NewHandler(repeaterService).RegisterRoutes(api)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	appLogger.Info("starting admin server", "addr", addr)
	if err := router.Run(addr); err != nil {
		appLogger.Fatal(err, "admin server failed")
	}
}

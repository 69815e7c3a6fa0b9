// Economy 主程序
// 功能：模拟时钟与每日推进、市场账本、订单履约、交付通知与持久化队列消费
// 架构：基于 DDD + Gin + GORM + Redis 队列 + Kafka 事件
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	marketapp "github.com/wyfcoding/economyengine/internal/market/application"
	marketmysql "github.com/wyfcoding/economyengine/internal/market/infrastructure/persistence/mysql"
	markethttp "github.com/wyfcoding/economyengine/internal/market/interfaces/http"
	notificationapp "github.com/wyfcoding/economyengine/internal/notification/application"
	"github.com/wyfcoding/economyengine/internal/notification/infrastructure/durable"
	notificationmysql "github.com/wyfcoding/economyengine/internal/notification/infrastructure/persistence/mysql"
	"github.com/wyfcoding/economyengine/internal/notification/infrastructure/sender"
	orderapp "github.com/wyfcoding/economyengine/internal/order/application"
	orderdomain "github.com/wyfcoding/economyengine/internal/order/domain"
	ordermysql "github.com/wyfcoding/economyengine/internal/order/infrastructure/persistence/mysql"
	orderpublisher "github.com/wyfcoding/economyengine/internal/order/infrastructure/publisher"
	orderhttp "github.com/wyfcoding/economyengine/internal/order/interfaces/http"
	queueapp "github.com/wyfcoding/economyengine/internal/queue/application"
	queuedomain "github.com/wyfcoding/economyengine/internal/queue/domain"
	"github.com/wyfcoding/economyengine/internal/queue/infrastructure/deadletter"
	"github.com/wyfcoding/economyengine/internal/queue/infrastructure/memory"
	redisqueue "github.com/wyfcoding/economyengine/internal/queue/infrastructure/redis"
	simapp "github.com/wyfcoding/economyengine/internal/simulation/application"
	"github.com/wyfcoding/economyengine/internal/simulation/infrastructure/dispatch"
	simmysql "github.com/wyfcoding/economyengine/internal/simulation/infrastructure/persistence/mysql"
	simpublisher "github.com/wyfcoding/economyengine/internal/simulation/infrastructure/publisher"
	simhttp "github.com/wyfcoding/economyengine/internal/simulation/interfaces/http"
	"github.com/wyfcoding/economyengine/pkg/cache"
	"github.com/wyfcoding/economyengine/pkg/config"
	"github.com/wyfcoding/economyengine/pkg/db"
	"github.com/wyfcoding/economyengine/pkg/logger"
	"github.com/wyfcoding/economyengine/pkg/metrics"
	"github.com/wyfcoding/economyengine/pkg/middleware"
	"github.com/wyfcoding/economyengine/pkg/mq"
	"github.com/wyfcoding/economyengine/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	configPath := flag.String("config", "configs/economy/config.toml", "config file path")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
		Service:    cfg.ServiceName,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Starting economy engine",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	if err := run(ctx, cfg, log); err != nil {
		logger.Error(ctx, "Economy engine exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info(context.Background(), "Economy engine exited")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 3. 初始化数据库
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	if cfg.Database.AutoMigrate {
		if err := migrate(database.DB); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// 4. 初始化指标
	m := metrics.New(cfg.ServiceName)
	if err := m.Register(nil); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 5. Kafka 事件与死信，未配置 brokers 时死信只写日志
	var producer *mq.KafkaProducer
	var deadLetters queueapp.DeadLetterSink = deadletter.NewLogSink(log)
	if len(cfg.Kafka.Brokers) > 0 {
		producer = mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		defer producer.Close()
		deadLetters = deadletter.NewKafkaSink(mq.NewDeadLetterQueue(producer, cfg.Kafka.DeadLetterTopic))
	}

	// 6. Redis 与持久化队列
	var redisClient *redis.Client
	if cfg.Queue.Driver == "redis" || cfg.HTTP.RateLimit.Enabled {
		redisClient, err = cache.New(ctx, cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()
	}
	queues := openQueues(cfg, redisClient)

	// 7. 仓储
	tx := db.NewTxManager(database.DB)
	clocks := simmysql.NewClockRepository(database.DB)
	backlog := simmysql.NewRecyclingBacklog(database.DB)
	markets := marketmysql.NewMarketRepository(database.DB)
	orders := ordermysql.NewOrderRepository(database.DB)
	collections := ordermysql.NewCollectionRepository(database.DB)
	records := notificationmysql.NewRecordRepository(database.DB)

	// 8. 模拟
	floor, err := decimal.NewFromString(cfg.Market.PriceFloor)
	if err != nil {
		return fmt.Errorf("invalid market.price_floor: %w", err)
	}
	store := simapp.NewSessionStore(clocks, markets, log)
	simService := simapp.NewSimulationService(clocks, markets, store, tx, simapp.SimulationConfig{
		StartDate:   cfg.SimulationStart(),
		DayDuration: cfg.Simulation.DayDuration,
		PriceFloor:  floor,
	}, log)
	simService.SetRecyclingBacklog(backlog)

	orchestrator := simapp.NewOrchestrator(store, clocks, markets, tx, simapp.NewRandomSource(cfg.Simulation.Seed), log)
	orchestrator.SetRecycling(backlog, dispatch.NewRecycleScheduler(queues[queuedomain.ClassBusiness]), cfg.Simulation.RecycleEveryDays)
	orchestrator.AddPass(dispatch.NewEquipmentFailurePass(queues[queuedomain.ClassNotification]))
	orchestrator.AddPass(dispatch.NewPhonePurchasePass(queues[queuedomain.ClassBusiness]))
	orchestrator.SetMetrics(m)

	// 9. 市场
	marketService := marketapp.NewMarketService(store, markets, log)

	// 10. 交付通知
	logistics := sender.NewLogisticsSender(sender.LogisticsConfig{
		URL:             cfg.Notifier.LogisticsURL,
		Timeout:         cfg.Notifier.Timeout,
		BreakerFailures: cfg.Notifier.BreakerFailures,
		BreakerTimeout:  cfg.Notifier.BreakerTimeout,
	}, log)
	retryQueue := notificationapp.NewRetryQueue(notificationapp.RetryConfig{
		BaseDelay:      cfg.Retry.BaseDelay,
		MaxAttempts:    cfg.Retry.MaxAttempts,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
	}, m, log)
	deliveries := notificationapp.NewDeliveryManager(records, logistics, retryQueue, notificationapp.DeliveryConfig{
		Target:  cfg.Notifier.LogisticsURL,
		Timeout: cfg.Notifier.Timeout,
	}, m, log)
	retryQueue.SetExhaustedSink(deliveries)
	if cfg.Retry.PersistExhausted {
		deliveries.SetDurableSink(durable.NewQueueSink(queues[queuedomain.ClassNotification]))
	}

	// 11. 订单
	classifier, err := orderdomain.NewItemClassifier(cfg.Catalog.ItemTypes, orderdomain.FallbackPolicy(cfg.Catalog.Fallback))
	if err != nil {
		return fmt.Errorf("invalid catalog config: %w", err)
	}
	orderManager := orderapp.NewOrderManager(orders, collections, markets, store, classifier, tx, log)
	orderManager.SetDeliveryDispatcher(deliveries)
	orderManager.SetMetrics(m)
	orderManager.SetCurrency(cfg.Market.Currency)
	orderService := orderapp.NewOrderService(orderManager, orderapp.NewOrderQuery(orders, collections))

	if producer != nil {
		simService.SetEventPublisher(simpublisher.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic))
		orchestrator.SetEventPublisher(simpublisher.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic))
		orderManager.SetEventPublisher(orderpublisher.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic))
	}

	// 12. 队列消费者
	deps := queueapp.Dependencies{
		Prices:     marketService,
		Epochs:     simService,
		Recycling:  backlog,
		Deliveries: deliveries,
		Logger:     log,
	}
	consumerCfg := queueapp.ConsumerConfig{
		BatchSize:    cfg.Queue.BatchSize,
		WaitTime:     cfg.Queue.WaitTime,
		PollInterval: cfg.Queue.PollInterval,
		ErrorBackoff: cfg.Queue.ErrorBackoff,
		MaxRetries:   cfg.Queue.MaxRetries,
	}
	consumers := []*queueapp.Consumer{
		queueapp.NewConsumer(queues[queuedomain.ClassCritical], queueapp.NewCriticalRegistry(deps), deadLetters, m, consumerCfg, log),
		queueapp.NewConsumer(queues[queuedomain.ClassBusiness], queueapp.NewBusinessRegistry(deps), deadLetters, m, consumerCfg, log),
		queueapp.NewConsumer(queues[queuedomain.ClassNotification], queueapp.NewNotificationRegistry(deps), deadLetters, m, consumerCfg, log),
	}
	for _, c := range consumers {
		if err := c.Initialize(ctx); err != nil {
			return fmt.Errorf("failed to initialize queue consumer: %w", err)
		}
	}

	// 13. HTTP 服务器
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.GinRecoveryMiddleware(), middleware.GinLoggingMiddleware())
	router.GET("/health", func(c *gin.Context) {
		if redisClient != nil {
			if err := cache.Ping(c.Request.Context(), redisClient); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "service": cfg.ServiceName, "redis": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName})
	})
	root := router.Group("")
	if cfg.HTTP.RateLimit.Enabled {
		limiter := ratelimit.NewRedisRateLimiter(redisClient, cfg.ServiceName+":ratelimit")
		root.Use(middleware.RateLimitMiddleware(limiter, ratelimit.Limit{
			Rate:   cfg.HTTP.RateLimit.Rate,
			Period: cfg.HTTP.RateLimit.Period,
			Burst:  cfg.HTTP.RateLimit.Burst,
		}, middleware.ByClientIP))
	}
	simhttp.NewSimulationHandler(simService, orchestrator).RegisterRoutes(root)
	markethttp.NewMarketHandler(marketService).RegisterRoutes(root)
	orderhttp.NewOrderHandler(orderService).RegisterRoutes(root)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	// 14. 启动并等待退出
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(gctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	for _, c := range consumers {
		g.Go(func() error { return c.Start(gctx) })
	}
	if cfg.Simulation.AutoAdvance {
		scheduler := simapp.NewScheduler(clocks, orchestrator, cfg.Simulation.DayDuration, log)
		g.Go(func() error { return scheduler.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down economy engine")
		for _, c := range consumers {
			c.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "HTTP server shutdown failed", "error", err)
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		retryQueue.Close()
		if err := retryQueue.Wait(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "Pending delivery retries abandoned", "pending", retryQueue.Len(), "error", err)
		}
		return nil
	})

	return g.Wait()
}

func migrate(database *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		simmysql.AutoMigrate,
		marketmysql.AutoMigrate,
		ordermysql.AutoMigrate,
		notificationmysql.AutoMigrate,
	}
	for _, fn := range migrations {
		if err := fn(database); err != nil {
			return err
		}
	}
	return nil
}

// openQueues 按配置创建三个队列类别
func openQueues(cfg *config.Config, client *redis.Client) map[queuedomain.Class]queuedomain.Queue {
	classes := []queuedomain.Class{queuedomain.ClassCritical, queuedomain.ClassBusiness, queuedomain.ClassNotification}
	queues := make(map[queuedomain.Class]queuedomain.Queue, len(classes))
	for _, class := range classes {
		if cfg.Queue.Driver == "memory" {
			queues[class] = memory.New(string(class), cfg.Queue.VisibilityTimeout, cfg.Queue.DedupWindow)
			continue
		}
		queues[class] = redisqueue.New(client, string(class), redisqueue.Config{
			Prefix:            cfg.Queue.Prefix,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			DedupWindow:       cfg.Queue.DedupWindow,
		})
	}
	return queues
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/carrier"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/gateway"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/mailer"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/notifier"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/adapters/storage"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/config"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/handlers/httphandlers"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/metrics"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/models"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/runner"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/service"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/cache/lru"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/kafka"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/logger"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/postgres"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// use OS signals for graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	// put a new zap logger into context
	// from now on, all packages PURELY HOPE that the logger is there (otherwise the service explodes)
	ctx, _ = logger.New(ctx)

	// read config from whatever (.env)
	cfg, err := config.TryRead()
	if err != nil {
		logger.GetLoggerFromCtx(ctx).Fatal(ctx, "failed to load config", zap.Error(err))
	}

	metrics.Register()

	storeCfg := cfg.Store
	kafkaCfg := cfg.Kafka

	//region connections

	pool, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		logger.GetLoggerFromCtx(ctx).Fatal(ctx, "failed to connect to postgres", zap.Error(err))
	}
	logger.GetLoggerFromCtx(ctx).Info(ctx, "connected to postgres")

	err = kafka.CreateTopicIfNotExists(kafkaCfg, storeCfg.NotificationTopic, 1, 1)
	if err != nil {
		logger.GetLoggerFromCtx(ctx).Fatal(ctx, "failed to create topic kafka", zap.Error(err))
	}
	kafkaConsumer := kafka.NewReader(ctx,
		kafkaCfg, storeCfg.NotificationTopic, storeCfg.NotificationGroup)
	kafkaProducer := kafka.NewWriter(kafkaCfg, storeCfg.NotificationTopic)
	//endregion

	//region adapters
	storageAdapter := storage.NewOrdersStoragePostgres(pool)
	gatewayAdapter := gateway.NewRazorpayGateway(cfg.Gateway)
	carrierAdapter := carrier.NewShiprocketCarrier(cfg.Carrier, func() {
		metrics.CarrierAuthRefreshTotal.Inc()
	})
	publisher := notifier.NewKafkaPublisher(kafkaProducer)
	receiver := notifier.NewKafkaReceiver(kafkaConsumer)
	mailSender := mailer.NewGomailMailer(cfg.Mail)
	orderCache := lru.NewCacheLRUInMemory[string, models.Order](storeCfg.CacheCapacity)
	//endregion

	//region services
	lifecycle := service.NewLifecycleService(
		storageAdapter, gatewayAdapter, carrierAdapter, publisher, orderCache,
		cfg.Gateway.Currency,
		func(to models.OrderStatus) { metrics.OrderTransitionsTotal.WithLabelValues(string(to)).Inc() },
	)
	dispatcher := service.NewNotificationService[kafkago.Message](receiver, mailSender)
	//endregion

	storeHandler := httphandlers.NewStoreHandler(
		lifecycle, gatewayAdapter, carrierAdapter,
		storeCfg.AdminToken, storeCfg.AdminListLimit)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", storeCfg.HTTPPort),
		Handler: storeHandler.Router(),
	}
	go runner.RunHTTP(ctx, httpServer)
	go runner.RunNotificationDispatcher(ctx, dispatcher)

	<-ctx.Done()

	var shutdownWg sync.WaitGroup
	shutdownWg.Add(4)

	// shutdowns don't include wg itself, so I wrap them in unnamed goroutines
	go func() {
		defer shutdownWg.Done()
		runner.ShutdownHTTP(ctx, httpServer)
		logger.GetLoggerFromCtx(ctx).Info(ctx, "server stopped")
	}()
	go func() {
		defer shutdownWg.Done()
		runner.ShutdownNotificationDispatcher(ctx, dispatcher)
		logger.GetLoggerFromCtx(ctx).Info(ctx, "notification dispatcher stopped")
	}()
	go func() {
		defer shutdownWg.Done()
		pool.Close()
		logger.GetLoggerFromCtx(ctx).Info(ctx, "postgres pool stopped")
	}()
	go func() {
		defer shutdownWg.Done()
		if err = kafkaConsumer.Close(); err != nil {
			logger.GetLoggerFromCtx(ctx).Error(ctx, "error while closing kafka consumer", zap.Error(err))
		}
		if err = kafkaProducer.Close(); err != nil {
			logger.GetLoggerFromCtx(ctx).Error(ctx, "error while closing kafka producer", zap.Error(err))
		}
		logger.GetLoggerFromCtx(ctx).Info(ctx, "kafka connections stopped")
	}()

	shutdownWg.Wait()
}

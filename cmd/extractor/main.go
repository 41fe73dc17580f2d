package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/framelift/framelift/internal/domain/entity"
	"github.com/framelift/framelift/internal/infra/config"
	"github.com/framelift/framelift/internal/infra/email"
	"github.com/framelift/framelift/internal/infra/ffmpeg"
	"github.com/framelift/framelift/internal/infra/metrics"
	miniostorage "github.com/framelift/framelift/internal/infra/minio"
	"github.com/framelift/framelift/internal/infra/postgres"
	"github.com/framelift/framelift/internal/infra/rabbitmq"
	"github.com/framelift/framelift/internal/infra/tracing"
	"github.com/framelift/framelift/internal/usecase"
	"github.com/framelift/framelift/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting framelift extractor")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.OTLPEndpoint, "framelift-extractor")
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL, "migrations"); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:      cfg.MinIOEndpoint,
		AccessKey:     cfg.MinIOAccessKey,
		SecretKey:     cfg.MinIOSecretKey,
		UseSSL:        cfg.MinIOUseSSL,
		UploadBucket:  cfg.MinIOUploadBucket,
		FramesBucket:  cfg.MinIOFramesBucket,
		ArchiveBucket: cfg.MinIOArchiveBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	notifications := rabbitmq.NewNotificationPublisher(pub)
	retries := rabbitmq.NewRetryPublisher(pub, rabbitmq.RouteExtraction, time.Duration(cfg.RetryBaseDelayMs)*time.Millisecond)
	deadLetters := rabbitmq.NewDeadLetterPublisher(pub, cfg.ExtractionDLQ)

	// Infra adapters
	repo := postgres.NewRunRepository(pool)
	decoder := ffmpeg.NewDecoder(cfg.FrameFormat, log)
	operator := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.NotificationTo, log)

	retrier := usecase.NewRetrier(retries, deadLetters, operator, cfg.MaxAttempts, log)

	uc := usecase.NewExtractFramesUseCase(
		repo, storage, decoder, notifications, retrier, log,
		usecase.ExtractFramesConfig{
			TempDir:      cfg.TempDir,
			SamplingRate: cfg.SamplingRate,
			FrameFormat:  cfg.FrameFormat,
			OutputPrefix: cfg.OutputPrefix,
			EventBudget:  time.Duration(cfg.EventBudgetSeconds) * time.Second,
		},
	)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, string(entity.StageExtraction), log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:           cfg.RabbitMQURL,
		Exchange:      cfg.RabbitMQExchange,
		Queue:         cfg.ExtractionQueue,
		RoutingKey:    rabbitmq.RouteExtraction,
		DLQ:           cfg.ExtractionDLQ,
		RetentionDays: cfg.DeadLetterRetentionDays,
		Prefetch:      cfg.RabbitMQPrefetch,
		WorkerCount:   cfg.WorkerCount,
		BaseDelayMs:   cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("framelift extractor started, consuming upload events")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("framelift extractor stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}

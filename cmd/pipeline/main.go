package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saasml/mlaas-platform/internal/di"
	"github.com/saasml/mlaas-platform/pkg/config"
	"github.com/saasml/mlaas-platform/pkg/database"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:       "info",
		ServiceName: "mlaas-pipeline",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "mlaas-pipeline",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	}); err != nil {
		log.Fatal("init telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("connect to redis", zap.Error(err))
	}

	dbCfg := database.DefaultPostgresConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.DBName
	dbCfg.SSLMode = cfg.Database.SSLMode
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		log.Fatal("connect to postgres", zap.Error(err))
	}
	defer db.Close()

	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.AWS.Region)})
	if err != nil {
		log.Fatal("create aws session", zap.Error(err))
	}

	container, err := di.NewPipelineContainer(&di.PipelineContainerConfig{
		Cfg:   cfg,
		Log:   log,
		Redis: redisClient,
		DB:    db,
		Sess:  sess,
	})
	if err != nil {
		log.Fatal("build container", zap.Error(err))
	}
	defer container.Close()

	log.Info("pipeline worker started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.ObjectCreatedTopic),
	)

	if err := container.Consumer.Run(ctx); err != nil && err != context.Canceled {
		log.Error("consumer stopped", zap.Error(err))
	}
	log.Info("shutting down")
}

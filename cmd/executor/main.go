package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "trendharvest/configs"
	"trendharvest/pkg/coordination/etcd"
	"trendharvest/pkg/executor"
	"trendharvest/pkg/logger"
	"trendharvest/pkg/storage"
	"trendharvest/pkg/storage/postgres"
	"trendharvest/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	log, err := logger.Init(logger.DefaultConfig("trendharvest-executor"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log.Info("starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
	execStore, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer execStore.Close()

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		log.Fatal("failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()

	redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	queue, err := redis.NewRedisQueue(redisAddr)
	if err != nil {
		log.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()

	logStore := buildLogStore(cfg, log)

	exec := executor.NewExecutor(cfg, etcdCoord, queue, execStore, logStore, log)
	exec.Start(ctx)
}

// buildLogStore picks S3 when a bucket is configured, otherwise the
// local filesystem.
func buildLogStore(cfg *config.Config, log *zap.Logger) storage.LogStore {
	if cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3LogStore(storage.S3LogStoreConfig{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Fatal("failed to initialize S3 log store", zap.Error(err))
		}
		log.Info("storing execution logs in S3", zap.String("bucket", cfg.S3Bucket))
		return s3Store
	}

	localStore, err := storage.NewLocalLogStore(cfg.LogDir)
	if err != nil {
		log.Fatal("failed to initialize local log store", zap.Error(err))
	}
	log.Info("storing execution logs locally", zap.String("dir", cfg.LogDir))
	return localStore
}

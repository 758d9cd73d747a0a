package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "trendharvest/configs"
	"trendharvest/pkg/coordination/etcd"
	"trendharvest/pkg/logger"
	"trendharvest/pkg/scheduler"
	"trendharvest/pkg/storage/postgres"
	"trendharvest/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	log, err := logger.Init(logger.DefaultConfig("trendharvest-scheduler"))
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

	connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	store, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	log.Info("postgres connected, schema initialized")

	redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	queue, err := redis.NewRedisQueue(redisAddr)
	if err != nil {
		log.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()
	log.Info("redis connected, queue initialized")

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		log.Fatal("failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()
	log.Info("etcd connected")

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "scheduler-" + uuid.New().String()
	}
	election := etcdCoord.NewElection("trendharvest-leader")

	log.Info("requesting leadership", zap.String("candidate", hostname))
	if err := election.Campaign(ctx, hostname); err != nil {
		log.Fatal("election campaign failed", zap.Error(err))
	}
	log.Info("leadership acquired")

	core := scheduler.NewCore(cfg, store, store, queue, etcdCoord, log)
	log.Info("starting main work loop")

	go core.Run(ctx, election)

	sig := <-sigChan
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	cancel()

	// Resign so a standby scheduler can take over quickly.
	if err := election.Resign(context.Background()); err != nil {
		log.Warn("failed to resign leadership", zap.Error(err))
	} else {
		log.Info("leadership resigned")
	}

	log.Info("shutdown complete")
}

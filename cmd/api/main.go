package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "trendharvest/configs"
	"trendharvest/pkg/api"
	"trendharvest/pkg/auth"
	"trendharvest/pkg/coordination/etcd"
	"trendharvest/pkg/logger"
	tracing "trendharvest/pkg/observability"
	"trendharvest/pkg/storage/postgres"
	"trendharvest/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	log, err := logger.Init(logger.DefaultConfig("trendharvest-api"))
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

	tracerCfg := tracing.DefaultConfig("trendharvest-api")
	tracerCfg.Endpoint = cfg.OTLPEndpoint
	tracer, err := tracing.Init(ctx, tracerCfg)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	}

	connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	store, err := postgres.NewPostgresStore(connStr)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	log.Info("postgres connected")

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		log.Fatal("failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()
	log.Info("etcd connected")

	redisAddr := fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
	queue, err := redis.NewRedisQueue(redisAddr)
	if err != nil {
		log.Fatal("failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()
	log.Info("redis connected")

	// Authentication is on only when a JWT secret is configured.
	var jwtService *auth.JWTService
	var apiKeyStore auth.APIKeyStore
	if cfg.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig()
		jwtCfg.SecretKey = cfg.JWTSecret
		jwtService, err = auth.NewJWTService(jwtCfg)
		if err != nil {
			log.Fatal("failed to initialize JWT service", zap.Error(err))
		}
		apiKeyStore = auth.NewRedisAPIKeyStore(queue.Client())
	} else {
		log.Warn("JWT_SECRET not set, API authentication disabled")
	}

	server := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		JobStore:    store,
		ExecStore:   store,
		Queue:       queue,
		Coordinator: etcdCoord,
		Election:    etcdCoord.NewElection("trendharvest-leader"),
		JWTService:  jwtService,
		APIKeyStore: apiKeyStore,
		Logger:      log,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()

	sig := <-sigChan
	log.Info("received signal, shutting down", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if tracer != nil {
		_ = tracer.Shutdown(shutdownCtx)
	}

	cancel()
	log.Info("shutdown complete")
}

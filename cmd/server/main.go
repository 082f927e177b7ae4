// Package main provides the API server entry point for the marketplace
// relay service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketplace-relay/internal/adapter"
	"github.com/marketplace-relay/internal/api"
	"github.com/marketplace-relay/internal/config"
	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/mail"
	"github.com/marketplace-relay/internal/service"
	"github.com/marketplace-relay/internal/storage"
	"github.com/marketplace-relay/internal/types"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize relay signers, one per enabled chain
	logger.Info("Initializing relay signers...")
	signers := make(map[types.ChainID]service.TxSubmitter)
	subgraphEndpoints := make(map[types.ChainID]string)

	for chainID, chainCfg := range cfg.Chains.Chains {
		if chainCfg.RPCURL == "" {
			logger.WithField("chain", chainID).Warn("Skipping chain: no RPC endpoint configured")
			continue
		}

		signer, err := adapter.NewRelaySigner(chainID, chainCfg, cfg.Relay.PrivateKey, cfg.Relay.RPCTimeout)
		if err != nil {
			logger.WithError(err).WithField("chain", chainID).Warn("Failed to create relay signer for chain")
			continue
		}

		signers[chainID] = signer
		defer signer.Close()

		subgraphEndpoints[chainID] = chainCfg.SubgraphURL
		logger.WithFields(map[string]interface{}{
			"chain":  chainID,
			"wallet": signer.Address().Hex(),
		}).Info("Relay signer initialized")
	}

	if len(signers) == 0 {
		logger.Warn("No relay signers initialized - delegated submissions will fail")
	}

	// Initialize repositories
	userRepo := storage.NewUserRepository(postgres)
	notificationRepo := storage.NewNotificationRepository(postgres)
	probeRepo := storage.NewCronProbeRepository(postgres)

	// Initialize cache and subgraph client
	cacheService := storage.NewCacheService(redis, cfg.Notify.CacheTTL)
	subgraph := adapter.NewSubgraphClient(subgraphEndpoints, cacheService)

	// Initialize services
	logger.Info("Initializing services...")

	quota := service.NewQuotaTracker(userRepo, cfg.Relay.WeeklyTxCeiling)
	authorizer := service.NewAuthorizer(userRepo, quota, &cfg.Relay)
	delegateService := service.NewDelegateService(signers, authorizer, quota, subgraph, &cfg.Relay)
	userService := service.NewUserService(userRepo)
	statsService := service.NewStatsService(notificationRepo, probeRepo)

	provider, err := mail.NewProvider(&cfg.Mail)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize mail provider")
	}

	source := service.NewSubgraphSource(subgraph, cfg.Chains.Default, cfg.Relay.PlatformID)
	renderer := mail.NewRenderer(cfg.Notify.Domain)

	dispatchers := map[string]api.DispatchRunner{
		"proposal-validated": service.NewDispatcher(source, source, renderer, provider, notificationRepo, probeRepo, userRepo, cfg.Mail.Mode, &cfg.Notify),
		"new-proposal":       service.NewDispatcher(source, source, renderer, provider, notificationRepo, probeRepo, userRepo, cfg.Mail.Mode, &cfg.Notify),
	}

	logger.Info("Services initialized")

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		DispatchSecret:  cfg.Notify.Secret,
		DelegateRPS:     cfg.RateLimit.DelegateRPS,
		DelegateBurst:   cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, delegateService, dispatchers, statsService, userService)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("API server started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}

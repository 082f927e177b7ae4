// Package main provides the scheduled notification dispatcher. Each tick
// runs every notification category once, sequentially, against the stored
// watermark.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/marketplace-relay/internal/adapter"
	"github.com/marketplace-relay/internal/config"
	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/mail"
	"github.com/marketplace-relay/internal/service"
	"github.com/marketplace-relay/internal/storage"
	"github.com/marketplace-relay/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

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

	userRepo := storage.NewUserRepository(postgres)
	notificationRepo := storage.NewNotificationRepository(postgres)
	probeRepo := storage.NewCronProbeRepository(postgres)

	subgraphEndpoints := make(map[types.ChainID]string)
	for chainID, chainCfg := range cfg.Chains.Chains {
		subgraphEndpoints[chainID] = chainCfg.SubgraphURL
	}

	cacheService := storage.NewCacheService(redis, cfg.Notify.CacheTTL)
	subgraph := adapter.NewSubgraphClient(subgraphEndpoints, cacheService)
	source := service.NewSubgraphSource(subgraph, cfg.Chains.Default, cfg.Relay.PlatformID)
	renderer := mail.NewRenderer(cfg.Notify.Domain)

	provider, err := mail.NewProvider(&cfg.Mail)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize mail provider")
	}

	dispatcher := service.NewDispatcher(
		source, source, renderer, provider,
		notificationRepo, probeRepo, userRepo,
		cfg.Mail.Mode, &cfg.Notify,
	)

	emailTypes := []types.EmailType{
		types.EmailProposalValidated,
		types.EmailNewProposal,
	}

	runAll := func() {
		ctx := logging.WithLogger(context.Background(), logger)
		for _, emailType := range emailTypes {
			stats, err := dispatcher.Run(ctx, service.RunInput{EmailType: emailType})
			if err != nil {
				logger.WithError(err).WithField("email_type", string(emailType)).Error("Dispatch run failed")
				continue
			}
			logger.WithField("email_type", string(emailType)).Info(stats.Summary())
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Notify.CronSchedule, runAll); err != nil {
		logger.WithError(err).Fatal("Invalid cron schedule")
	}

	logger.WithField("schedule", cfg.Notify.CronSchedule).Info("Notification dispatcher started")
	scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutdown signal received")

	// Let an in-flight run finish before exiting.
	<-scheduler.Stop().Done()
	logger.Info("Dispatcher stopped")
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"inventory-portal/portal-backend/internal/config"
	"inventory-portal/portal-backend/internal/onboarding"
)

// main runs the stalled onboarding reminder scan on its cron schedule
func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	runOnce := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Database.Driver != "postgres" {
		logger.Fatal("Reminder worker requires the postgres driver", zap.String("driver", cfg.Database.Driver))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	var emitter onboarding.Emitter = onboarding.NewLogEmitter(logger)
	if cfg.Mongo.URI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}()
		emitter = onboarding.NewMongoEmitter(client.Database(cfg.Mongo.Database))
	}

	scheduler := onboarding.NewReminderScheduler(
		onboarding.NewPostgresRepository(db),
		emitter,
		logger,
		onboarding.ReminderConfig{
			Schedule:    cfg.Onboarding.ReminderSchedule,
			InactiveFor: cfg.Onboarding.ReminderInactiveFor,
			BatchSize:   cfg.Onboarding.ReminderBatchSize,
			RemindEvery: cfg.Onboarding.ReminderEvery,
		},
	)

	if *runOnce {
		n, err := scheduler.RunOnce(ctx)
		if err != nil {
			logger.Fatal("Stalled onboarding scan failed", zap.Error(err))
		}
		logger.Info("Stalled onboarding scan finished", zap.Int("emitted", n))
		return
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("Failed to start reminder scheduler", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down reminder worker...")
	cancel()
	scheduler.Stop()
}

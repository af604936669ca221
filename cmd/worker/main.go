package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-ledger/internal/app"
	"github.com/dvloznov/finance-ledger/internal/config"
	"github.com/dvloznov/finance-ledger/internal/jobs"
	"github.com/dvloznov/finance-ledger/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	log, err := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		boot := logger.New()
		boot.Fatal().Err(err).Msg("Invalid logger configuration")
	}

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise services")
	}
	defer a.Close()

	log.Info().Msg("Starting worker service")

	// Start consuming jobs
	if err := a.StartWorkers(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scheduler := jobs.NewScheduler(ctx, a.Dispatcher, log)
	if err := scheduler.AddAll(map[jobs.JobType]string{
		jobs.JobTypeRecurring: cfg.ScheduleRecurring,
		jobs.JobTypeFXRefresh: cfg.ScheduleFX,
		jobs.JobTypeReconcile: cfg.ScheduleReconcile,
		jobs.JobTypeExport:    cfg.ScheduleExport,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule jobs")
	}
	scheduler.Start()

	log.Info().Int("schedules", scheduler.Entries()).Msg("Worker service started, waiting for jobs...")

	<-ctx.Done()
	log.Info().Msg("Shutting down worker service...")

	<-scheduler.Stop().Done()

	// Give in-flight runs time to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Worker service stopped")
}

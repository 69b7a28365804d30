package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sensorloop/sensorcore/config"
	"github.com/sensorloop/sensorcore/daemon"
	"github.com/sensorloop/sensorcore/db"
	"github.com/sensorloop/sensorcore/internal/noopworkspace"
	"github.com/sensorloop/sensorcore/internal/workerpool"
	"github.com/sensorloop/sensorcore/logger"
	"github.com/sensorloop/sensorcore/store"
	"github.com/sensorloop/sensorcore/tick"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sensor evaluation iteration loop",
	Long: `Run starts the continuous iteration loop: it opens the Instance Store,
applies migrations, and evaluates every registered RUNNING sensor on its
configured interval until interrupted (Ctrl+C) with graceful shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		database, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		st := store.NewSQLiteStore(database)
		ws := noopworkspace.New()

		evaluationPool := workerpool.New(cfg.Workers.EvaluationWorkers, logger.Logger)
		submissionPool := workerpool.New(cfg.Workers.SubmissionWorkers, logger.Logger)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		evaluationPool.Start(ctx)
		submissionPool.Start(ctx)

		retention := daemon.RetentionSettings{
			tick.StatusSuccess: cfg.Daemon.TickRetentionSuccessDays,
			tick.StatusFailure: cfg.Daemon.TickRetentionFailureDays,
			tick.StatusSkipped: cfg.Daemon.TickRetentionSkippedDays,
		}

		loop := daemon.NewLoop(st, ws, nil, evaluationPool, submissionPool, retention, logger.Logger)
		loop.SetLoopInterval(time.Duration(cfg.Daemon.MinLoopSeconds) * time.Second)

		logger.Infow("sensord started",
			"database", cfg.Database.Path,
			"evaluation_workers", cfg.Workers.EvaluationWorkers,
			"submission_workers", cfg.Workers.SubmissionWorkers,
		)

		hb := make(chan daemon.Heartbeat, 16)
		go drainHeartbeats(hb)
		go loop.Run(ctx, hb)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Infow("sensord shutting down")
		cancel()
		evaluationPool.Stop(10 * time.Second)
		submissionPool.Stop(10 * time.Second)
		logger.Infow("sensord stopped")
		return nil
	},
}

func drainHeartbeats(hb <-chan daemon.Heartbeat) {
	for h := range hb {
		if h.Kind == daemon.HeartbeatError && h.Err != nil {
			logger.Errorw("iteration loop error", "error", h.Err)
		}
	}
}

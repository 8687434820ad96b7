package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/quill/pkg/audit"
	"github.com/platinummonkey/quill/pkg/backend"
	"github.com/platinummonkey/quill/pkg/config"
	"github.com/platinummonkey/quill/pkg/membership"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/store"
)

var (
	schedule         = flag.String("schedule", "", "Cron schedule for plan expiry (default: QUILL_PLAN_EXPIRY_SCHEDULE)")
	sessionSchedule  = flag.String("session-schedule", "30 3 * * *", "Cron schedule for pruning expired sessions (default: 03:30 daily)")
	sessionRetention = flag.Duration("session-retention", 7*24*time.Hour, "How long sessions are kept after they expire")
	runOnce          = flag.Bool("run-once", false, "Run every job once and exit")
	logLevel         = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
)

// jobs are the periodic maintenance tasks
type jobs struct {
	membership *membership.Service
	store      *store.Store
	retention  time.Duration
	logger     *logrus.Logger
}

func main() {
	flag.Parse()
	logger := setupLogger(*logLevel)

	cfg, err := config.LoadConfig()
	if err != nil && cfg.Database.URL == "" {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if *schedule == "" {
		*schedule = cfg.Scheduler.PlanExpirySchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := backend.OpenDatabase(ctx, cfg.Database.URL, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		logger.Fatalf("Failed to create audit logger: %v", err)
	}

	st := store.New(db, nil)
	svcLogger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	j := &jobs{
		membership: membership.NewService(st, nil, auditLogger, nil, nil, svcLogger),
		store:      st,
		retention:  *sessionRetention,
		logger:     logger,
	}

	if *runOnce {
		if err := j.expirePlans(ctx); err != nil {
			logger.Fatalf("Plan expiry failed: %v", err)
		}
		if err := j.pruneSessions(ctx); err != nil {
			logger.Fatalf("Session pruning failed: %v", err)
		}
		logger.Info("Jobs completed successfully")
		return
	}

	c := cron.New()

	if _, err := c.AddFunc(*schedule, func() {
		if err := j.expirePlans(ctx); err != nil {
			logger.WithError(err).Error("Plan expiry failed")
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule plan expiry: %v", err)
	}

	if _, err := c.AddFunc(*sessionSchedule, func() {
		if err := j.pruneSessions(ctx); err != nil {
			logger.WithError(err).Error("Session pruning failed")
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule session pruning: %v", err)
	}

	c.Start()
	logger.Info("Quill scheduler started")
	logger.Infof("Plan expiry schedule: %s", *schedule)
	logger.Infof("Session pruning schedule: %s", *sessionSchedule)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down gracefully...")

	cancel()
	stopped := c.Stop()
	<-stopped.Done()

	logger.Info("Scheduler stopped")
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}

func (j *jobs) expirePlans(ctx context.Context) error {
	n, err := j.membership.ExpirePlans(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	j.logger.WithField("expired", n).Info("Plan expiry completed")
	return nil
}

func (j *jobs) pruneSessions(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.retention)
	n, err := j.store.DeleteExpiredSessions(ctx, cutoff)
	if err != nil {
		return err
	}
	j.logger.WithFields(logrus.Fields{"deleted": n, "cutoff": cutoff.Format(time.RFC3339)}).Info("Session pruning completed")
	return nil
}

package background

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BradenHooton/loginguard/internal/services"
)

// DefaultSchedule runs both sweeps hourly.
const DefaultSchedule = "@every 1h"

const sweepTimeout = 30 * time.Second

// Sweeper is the retention surface of the login security engine
type Sweeper interface {
	CleanExpiredAttempts(ctx context.Context, hoursToKeep int) (int64, error)
	CleanExpiredLogs(ctx context.Context, daysToKeep int) (services.SweepResult, error)
}

// CleanupManager drives the engine's retention sweeps on a cron schedule
type CleanupManager struct {
	sweeper      Sweeper
	logger       *slog.Logger
	cron         *cron.Cron
	attemptHours int
	logDays      int
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewCleanupManager registers the sweep job for schedule. An empty schedule uses DefaultSchedule.
func NewCleanupManager(
	sweeper Sweeper,
	logger *slog.Logger,
	schedule string,
	attemptRetentionHours int,
	logRetentionDays int,
) (*CleanupManager, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	cl := cronLogger{logger: logger}
	cm := &CleanupManager{
		sweeper:      sweeper,
		logger:       logger,
		attemptHours: attemptRetentionHours,
		logDays:      logRetentionDays,
		stopCh:       make(chan struct{}),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	if _, err := cm.cron.AddFunc(schedule, func() { cm.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return cm, nil
}

// Start runs one sweep immediately, then blocks until Stop is called or ctx is cancelled
func (cm *CleanupManager) Start(ctx context.Context) {
	cm.RunOnce(ctx)

	cm.cron.Start()
	defer func() {
		// wait for an in-flight sweep
		<-cm.cron.Stop().Done()
	}()

	select {
	case <-cm.stopCh:
		cm.logger.Info("cleanup manager stopped")
	case <-ctx.Done():
		cm.logger.Info("cleanup manager context cancelled")
	}
}

// RunOnce performs both sweeps with the configured retention windows
func (cm *CleanupManager) RunOnce(ctx context.Context) {
	cm.logger.Info("starting retention sweep")

	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	attempts, err := cm.sweeper.CleanExpiredAttempts(sweepCtx, cm.attemptHours)
	if err != nil {
		cm.logger.Error("failed to clean expired login attempts", slog.Any("error", err))
	} else if attempts > 0 {
		cm.logger.Info("expired login attempts removed", slog.Int64("rows_deleted", attempts))
	}

	res, err := cm.sweeper.CleanExpiredLogs(sweepCtx, cm.logDays)
	if err != nil {
		cm.logger.Error("failed to clean expired logs", slog.Any("error", err))
		return
	}

	if res.Logs > 0 || res.Blacklist > 0 {
		cm.logger.Info("expired logs removed",
			slog.Int64("audit_rows_deleted", res.Logs),
			slog.Int64("blacklist_rows_deleted", res.Blacklist))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.Any("error", err))...)
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/hdaguard/internal/config"
	"github.com/eliteGoblin/focusd/hdaguard/internal/daemon"
	"github.com/eliteGoblin/focusd/hdaguard/internal/domain"
	"github.com/eliteGoblin/focusd/hdaguard/internal/infra"
	"github.com/eliteGoblin/focusd/hdaguard/internal/logging"
	"github.com/eliteGoblin/focusd/hdaguard/internal/usecase"
)

func runWatchdog(cmd *cobra.Command, args []string) error {
	cfg, layout, err := loadConfig()
	if err != nil {
		return err
	}

	rotated, pruned := rotateLogs(cfg)

	logger, err := logging.New(logging.Options{Path: cfg.Log.Path, Level: cfg.Log.Level, Stderr: cfg.Log.Stderr})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if rotated != "" {
		logger.Info("rotated log file", zap.String("to", rotated))
	}
	for _, p := range pruned {
		logger.Debug("removed expired log file", zap.String("path", p))
	}

	if !infra.HasElevatedPrivilege() {
		logger.Error("refusing to start", zap.Error(domain.ErrNotElevated))
		return domain.ErrNotElevated
	}

	pol, err := cfg.Policy()
	if err != nil {
		return err
	}

	logger.Info("hdaguard starting", append(infra.HostFields(),
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("pattern", pol.Pattern()),
		zap.Bool("target_all_matches", pol.TargetAll()))...)

	pm := infra.NewProcessManager()
	metrics := infra.NewMetrics(cfg.Metrics.Textfile)
	observers := []domain.PassObserver{metrics}

	var store *infra.EncryptedStateStore
	store, err = infra.OpenStateStore(cfg.DataDir, pm, logger)
	if err != nil {
		// Status reporting degrades; reconciliation does not depend on it.
		logger.Warn("state store unavailable", zap.Error(err))
	} else {
		defer store.Close()
		observers = append(observers, store)
	}

	reconciler := usecase.NewReconciler(infra.NewPlatformInventory(logger), pol, logger, observers...)

	subscriber := daemon.NewSubscriber(
		infra.NewPlatformEventSource(logger),
		reconciler,
		retryConfig(cfg),
		logger,
		daemon.WithSubscriberObservers(metrics),
	)

	opts := []daemon.WatchdogOption{daemon.WithFlushers(metrics)}
	if store != nil {
		opts = append(opts, daemon.WithStateStore(store))
	}

	watchdogConfig := daemon.WatchdogConfig{
		PollInterval: cfg.RetryInterval(),
		AppVersion:   Version,
	}
	// Only the installed binary keeps its own registration in place.
	if execPath, err := os.Executable(); err == nil && sameFile(execPath, layout.BinaryPath) {
		watchdogConfig.ExecPath = layout.BinaryPath
		watchdogConfig.ConfigPath = serviceConfigPath(configPath, layout)
		opts = append(opts, daemon.WithServiceManager(infra.NewServiceManager()))
	}

	watchdog := daemon.NewWatchdog(watchdogConfig, reconciler, subscriber, pm, logger, opts...)

	err = infra.RunService(watchdog.Run)
	if err != nil {
		logger.Error("watchdog exited", zap.Error(err))
		return fmt.Errorf("watchdog: %w", err)
	}
	logger.Info("watchdog stopped")
	return nil
}

func retryConfig(cfg *config.Config) daemon.RetryConfig {
	return daemon.RetryConfig{
		MaxRetries:        cfg.MaxRetries,
		RetryInterval:     cfg.RetryInterval(),
		LongRetryInterval: cfg.LongRetryInterval(),
	}
}

// rotateLogs moves yesterday's log aside and removes expired ones. Errors
// are ignored; the logger does not exist yet.
func rotateLogs(cfg *config.Config) (rotated string, pruned []string) {
	if cfg.Log.Path == "" {
		return "", nil
	}
	now := time.Now()
	rotated, _ = logging.Rotate(cfg.Log.Path, now)
	pruned, _ = logging.Prune(cfg.Log.Path, cfg.LogRetention(), now)
	return rotated, pruned
}

func sameFile(a, b string) bool {
	if resolved, err := filepath.EvalSymlinks(a); err == nil {
		a = resolved
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

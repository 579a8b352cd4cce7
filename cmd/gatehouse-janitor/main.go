package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for archive runs (default GATEHOUSE_AUDIT_JANITOR_SCHEDULE)")
	runOnce  = flag.Bool("run-once", false, "Archive and prune once and exit")
	timeout  = flag.Duration("timeout", 30*time.Minute, "Upper bound for a single run")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("component", "janitor")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Janitor failed")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	if cfg.Storage.Driver != storage.DriverPostgres {
		return fmt.Errorf("the audit janitor requires the postgres storage driver, got %s", cfg.Storage.Driver)
	}

	ctx := context.Background()

	storageCfg := cfg.Storage
	storageCfg.CacheEnabled = false
	backend, err := storage.Open(ctx, storageCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	store, err := audit.NewDBLogger(backend.DB)
	if err != nil {
		return err
	}

	policy := audit.RetentionPolicy{
		RetentionDays:   cfg.Audit.RetentionDays,
		ArchiveEnabled:  cfg.Audit.ArchiveEnabled,
		ArchivePrefix:   cfg.Audit.ArchivePrefix,
		CompressArchive: true,
	}

	var objects audit.ObjectWriter
	if policy.ArchiveEnabled {
		client, err := storage.OpenArchive(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open archive bucket: %w", err)
		}
		objects = client
		logger.WithField("bucket", client.Bucket()).Info("Archiving expired audit events")
	}

	archiver := audit.NewArchiver(store, objects, policy, logger)

	if *runOnce {
		return runArchive(ctx, archiver, logger)
	}

	spec := *schedule
	if spec == "" {
		spec = cfg.Audit.JanitorSchedule
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() {
		if err := runArchive(ctx, archiver, logger); err != nil {
			logger.WithError(err).Error("Archive run failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule archive runs: %w", err)
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"schedule":       spec,
		"retention_days": policy.RetentionDays,
	}).Info("Audit janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	// Wait for a run in progress
	<-c.Stop().Done()

	logger.Info("Janitor stopped")
	return nil
}

func runArchive(ctx context.Context, archiver *audit.Archiver, logger *observability.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	start := time.Now()
	result, err := archiver.Run(ctx)
	if err != nil {
		return err
	}

	logger.WithFields(map[string]interface{}{
		"cutoff":   result.Cutoff.Format(time.RFC3339),
		"archived": result.Archived,
		"objects":  len(result.Objects),
		"pruned":   result.Pruned,
		"duration": time.Since(start).String(),
	}).Info("Archive run complete")
	return nil
}

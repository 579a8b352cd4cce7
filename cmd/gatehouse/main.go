package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"syscall"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	backend, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		observability.ShutdownOTel(ctx, providers, logger)
		return fmt.Errorf("failed to open storage: %w", err)
	}
	logger.WithField("driver", cfg.Storage.Driver).Info("Storage initialized")

	server, err := api.NewServer(cfg, backend, logger, version)
	if err != nil {
		backend.Close()
		observability.ShutdownOTel(ctx, providers, logger)
		return err
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan struct{})
	var runErr error
	go func() {
		defer close(runDone)
		runErr = server.Run(runCtx)
		if runErr != nil && runCtx.Err() == nil {
			logger.WithError(runErr).Error("Server stopped unexpectedly")
			// Route through the signal path so every resource is released
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	shutdown := observability.NewShutdownManager(logger, nil, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("storage", func(context.Context) error {
		return backend.Close()
	})
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error {
		return server.Close()
	})
	shutdown.RegisterShutdownFunc("servers", func(ctx context.Context) error {
		cancelRun()
		select {
		case <-runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if err := shutdown.WaitForShutdown(); err != nil {
		return err
	}
	<-runDone
	return runErr
}

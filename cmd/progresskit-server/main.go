package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		flags    Flags
		envFiles string
	)
	flag.StringVar(&flags.ConfigPath, "config", os.Getenv("PROGRESSKIT_CONFIG"), "path to a JSON config file")
	flag.StringVar(&flags.Profile, "profile", os.Getenv("PROGRESSKIT_PROFILE"), "preset profile: development, testing, staging or production")
	flag.StringVar(&envFiles, "env-file", ".env", "comma-separated .env files to load; missing files are skipped")
	flag.StringVar(&flags.SecretsDir, "secrets-dir", os.Getenv("PROGRESSKIT_SECRETS_DIR"), "directory with one file per secret")
	flag.Parse()
	for _, f := range strings.Split(envFiles, ",") {
		if f = strings.TrimSpace(f); f != "" {
			flags.EnvFiles = append(flags.EnvFiles, f)
		}
	}

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "progresskit-server: %v\n", err)
		os.Exit(1)
	}
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := BuildApp(ctx, flags)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer cleanup()

	cfg := app.Config
	log := app.Logger

	log.Info("starting progresskit server",
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"achievements", app.Catalog.Len())
	log.Debug("effective configuration", "config", cfg.String())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", "address", cfg.Server.Address)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Analytics.Enabled {
		g.Go(func() error {
			app.Aggregator.Run(gctx, cfg.Analytics.AggregateInterval, app.Exporter)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := app.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped",
		"event_drops", app.Service.Bus().Dropped(),
		"stream_drops", app.Hub.Dropped())
	return nil
}

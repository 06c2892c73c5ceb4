package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
)

// runGateway starts the gateway and blocks until a shutdown signal.
func runGateway(app *application, flags cliFlags, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.gateway.Start(ctx); err != nil {
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return
	}

	if app.admin != nil {
		if err := app.admin.Start(); err != nil {
			fatalWithSync(logger, "failed to start admin server", observability.Error(err))
			return
		}
	}

	var watcher *config.Watcher
	if flags.watch {
		watcher = startConfigWatcher(ctx, app, flags.configPath, logger)
	}

	logger.Info("gateway started",
		observability.String("name", app.config.Metadata.Name),
		observability.String("address", app.gateway.Addr().String()),
	)

	waitForShutdown(app, watcher, logger)
}

// waitForShutdown blocks until SIGINT or SIGTERM and then shuts down.
func waitForShutdown(app *application, watcher *config.Watcher, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	timeout := app.config.Spec.Listener.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	shutdown(ctx, app, watcher, logger)
	logger.Info("gateway stopped")
}

// shutdown stops components in dependency order. Errors are logged and
// do not stop the remaining steps.
func shutdown(ctx context.Context, app *application, watcher *config.Watcher, logger observability.Logger) {
	app.healthChecker.SetDraining(true)

	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error("failed to stop config watcher", observability.Error(err))
		}
	}

	if err := app.gateway.Stop(ctx); err != nil {
		logger.Error("failed to stop gateway", observability.Error(err))
	}

	if app.admin != nil {
		if err := app.admin.Stop(ctx); err != nil {
			logger.Error("failed to stop admin server", observability.Error(err))
		}
	}

	if err := app.cache.Close(); err != nil {
		logger.Error("failed to close response cache", observability.Error(err))
	}

	if err := app.services.Close(); err != nil {
		logger.Error("failed to close service discovery", observability.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown tracer", observability.Error(err))
	}
}

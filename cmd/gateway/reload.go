package main

import (
	"context"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
)

// startConfigWatcher reloads the route table whenever the configuration
// file changes. A configuration that fails to load or compile is logged
// and the running table stays in place.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(cfg *config.GatewayConfig) error {
		_, err := app.reloader.Apply("file", cfg)
		return err
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(err error) {
			app.metrics.RecordConfigReload("file", err)
			logger.Error("configuration reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		logger.Error("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Error("failed to start config watcher", observability.Error(err))
		return nil
	}

	logger.Info("config watcher started", observability.String("path", configPath))
	return watcher
}

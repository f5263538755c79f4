package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"chatsync/internal/retention"
	"chatsync/pkg/config"
	"chatsync/pkg/history"
	"chatsync/pkg/logger"
	"chatsync/pkg/relay"
	"chatsync/pkg/upload"
)

// App encapsulates the relay components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	hub    *relay.Hub
	limits upload.Limits
	srv    *http.Server

	stopRetention context.CancelFunc
}

// New initializes resources that do not require a running context (history
// store, upload limits, runtime keys). It does not start the hub or the
// HTTP server; call Run to start those and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	limits, err := upload.LimitsFromConfig(eff.Config.Upload)
	if err != nil {
		return nil, err
	}

	if dir := eff.Config.Server.UploadDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
		}
	}

	if err := history.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		hub:       relay.NewHub(),
		limits:    limits,
	}
	return a, nil
}

// Run starts the hub, the retention scheduler and the HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(ctx)

	stop, err := retention.Start(ctx, a.eff.Config.Retention)
	if err != nil {
		return err
	}
	a.stopRetention = stop

	a.printBanner()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// shutdown stops background work and closes the store. Safe to call once.
func (a *App) shutdown() {
	if a.stopRetention != nil {
		a.stopRetention()
	}
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err.Error())
		}
	}
	if err := history.Close(); err != nil {
		logger.Warn("store_close_error", "error", err.Error())
	}
	logger.Info("shutdown_complete")
}

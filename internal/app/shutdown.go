package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"courier/pkg/logger"
)

// Shutdown stops accepting requests, closes sockets and background loops
// and finally closes the store.
func (a *App) Shutdown(ctx context.Context) error {
	a.state = "shutting_down"
	logger.Info("shutdown_requested")

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.shutdown()
	}()

	select {
	case <-done:
		a.state = "stopped"
		logger.Info("shutdown_complete")
		return nil
	case <-ctx.Done():
		logger.Error("shutdown_timeout", "error", ctx.Err())
		return ctx.Err()
	}
}

func (a *App) shutdown() {
	if a.srvFast != nil {
		logger.Info("shutdown_http")
		if err := a.srvFast.Shutdown(); err != nil {
			logger.Error("shutdown_http_failed", "error", err)
		}
	}
	// hijacked sockets outlive the listener
	if a.realtime != nil {
		logger.Info("shutdown_realtime", "connections", a.realtime.Connections())
		a.realtime.Close()
	}
	if a.backlogCancel != nil {
		logger.Info("shutdown_backlog")
		a.backlogCancel()
	}
	if a.hwSensor != nil {
		a.hwSensor.Stop()
	}
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.db != nil {
		logger.Info("shutdown_store", "path", a.db.Path())
		if err := a.db.Close(); err != nil {
			logger.Error("shutdown_store_failed", "error", err)
		}
	}
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigc:
			logger.Info("signal_received", "signal", s.String())
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigc)
	}()
	return ctx, cancel
}

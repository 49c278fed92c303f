package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context that is cancelled on the first
// SIGINT or SIGTERM. A second signal exits the process with status 1.
func SetupSignalHandler(logger *slog.Logger) context.Context {
	return setupSignalHandler(logger, func() { os.Exit(1) })
}

func setupSignalHandler(logger *slog.Logger, exit func()) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()

		sig = <-sigChan
		logger.Warn("received second signal, exiting immediately", "signal", sig.String())
		signal.Stop(sigChan)
		exit()
	}()

	return ctx
}

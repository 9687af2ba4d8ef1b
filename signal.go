package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// forcedExitCode is the conventional status for termination by SIGINT.
const forcedExitCode = 130

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and exits the process on the second. A cancelled upload stops at its next
// stage boundary; the second signal abandons it. The returned stop function
// releases the signal handler.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping after the current request",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting",
				slog.String("signal", sig.String()),
			)
			os.Exit(forcedExitCode)
		case <-done:
			return
		}
	}()

	var once sync.Once

	stop := func() {
		once.Do(func() { close(done) })
		cancel()
	}

	return ctx, stop
}

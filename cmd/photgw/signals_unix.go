//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// handleSignals maps SIGHUP to a log level reload and SIGUSR1/SIGUSR2 to
// pausing and resuming the publisher, until ctx is cancelled.
func (a *application) handleSignals(ctx context.Context) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			a.dispatch(sig)
		}
	}
}

func (a *application) dispatch(sig os.Signal) {
	switch sig {
	case syscall.SIGHUP:
		a.logger.Warn("Reload requested by signal")
		_ = a.reload()
	case syscall.SIGUSR1:
		a.logger.Warn("Publishing paused by signal")
		a.gw.Publisher().Pause()
	case syscall.SIGUSR2:
		a.logger.Warn("Publishing resumed by signal")
		a.gw.Publisher().Resume()
	}
}

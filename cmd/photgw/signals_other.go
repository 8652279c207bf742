//go:build !unix

package main

import "context"

// handleSignals is a no-op where SIGHUP and SIGUSR1/2 do not exist; use the
// admin interface instead.
func (a *application) handleSignals(ctx context.Context) {
	<-ctx.Done()
}

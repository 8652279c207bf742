// Package retry provides the capped exponential backoff used by every
// reconnect loop in the gateway.
//
// A Backoff is explicit state owned by one loop, which decides when a
// connection counts as recovered and calls Reset:
//
//	backoff := retry.NewBackoff(cfg)
//	for {
//	    if err := t.Connect(ctx); err == nil {
//	        backoff.Reset()
//	        stream(ctx)
//	    }
//	    if err := backoff.Wait(ctx); err != nil {
//	        return nil // shutting down
//	    }
//	}
package retry

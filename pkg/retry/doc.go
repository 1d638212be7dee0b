// Package retry provides exponential backoff retry logic for transient failures.
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s
//   - Quick(): 10 attempts, 50ms-1s (startup probes)
//   - Device(): 20 attempts, 500ms-10s (serial ports that come and go)
//
// Usage:
//
//	cfg := retry.Device()
//	cfg.OnRetry = func(n int, err error, next time.Duration) {
//	    logger.Warn("open failed", "attempt", n, "error", err, "next", next)
//	}
//	port, err := retry.DoWithResult(ctx, cfg, func() (io.ReadWriteCloser, error) {
//	    return open(opts)
//	})
//
// Wrap an error with NonRetryable to stop immediately (bad configuration,
// permission denied).
package retry

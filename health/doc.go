// Package health provides thread-safe health tracking for pipeline components.
//
// Three states are reported: healthy, degraded (working, but for example the
// decode error rate is above threshold) and unhealthy (not working, for
// example the gateway is disconnected).
//
//	monitor := health.NewMonitor()
//	go monitor.Poll(ctx, time.Second, map[string]health.Reporter{
//	    "pipeline": pipe,
//	    "serial":   input,
//	})
//	http.Handle("/health", health.Handler(monitor, "chords"))
//
// Messages built with FromError are sanitized: URLs, device paths, IP
// addresses and credentials are replaced with placeholders.
package health

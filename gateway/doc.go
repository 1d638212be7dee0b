// Package gateway defines the boundary between transports and the pipeline.
//
// A Gateway produces two kinds of Event: connection status changes and raw
// payloads, already framed (one line, one datagram, one binary packet). It
// publishes them onto a Feed, which the pipeline drains with a blocking Next:
//
//	feed := gateway.NewFeed(cfg.MaxPending, registry)
//	_ = serialInput.Start(ctx, feed)
//	for {
//	    ev, err := feed.Next(ctx)
//	    ...
//	}
//
// The Feed never makes a gateway wait. Ordering is publish order; payloads
// past the pending limit are dropped rather than reordered, and status events
// are never dropped.
package gateway

// Package natsclient wraps the NATS Go client with a circuit breaker, connection
// callbacks and the small slice of JetStream the pipeline needs: ensuring a
// stream exists, publishing to it, and replaying it through an ordered consumer.
//
// The circuit opens after five consecutive Connect or JetStream failures and
// stays open for the current backoff (1s, doubling up to a minute). While open,
// Connect and stream calls fail fast with ErrCircuitOpen.
//
// Connection lifecycle: Disconnected → Connecting → Connected → Reconnecting →
// Connected. Callbacks registered with WithDisconnectCallback, WithReconnectCallback
// and WithClosedCallback run on the NATS client's callback goroutine, so they
// must not block.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("chords"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	sub, err := client.Subscribe(ctx, "chords.raw", func(ctx context.Context, data []byte) {
//	    // one payload per message
//	})
//
// NewTestClient starts a NATS server in a container for integration tests.
package natsclient

// Package udp provides a gateway that receives payloads as UDP datagrams.
//
// Each datagram becomes one payload, so a sender can stream either text lines
// ("512,498,1023") or binary frames without any extra framing. The gateway
// reports connected once the socket is bound and disconnected when it closes;
// UDP has no peer session, so a silent sender does not change the status.
//
// The read loop uses a 100ms read deadline to notice shutdown, copies every
// datagram out of the shared read buffer before publishing it, and counts
// datagrams the feed refuses as dropped.
//
// Metrics (when a registry is provided), labelled by port:
//
//	chords_udp_packets_received_total
//	chords_udp_bytes_received_total
//	chords_udp_packets_dropped_total
//	chords_udp_socket_errors_total
//	chords_udp_last_activity_timestamp
//
// Usage:
//
//	in, err := udp.NewInput(udp.InputDeps{
//	    Config:          udp.InputConfig{Bind: "0.0.0.0", Port: 5005},
//	    MetricsRegistry: registry,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := in.Start(ctx, feed); err != nil {
//	    return err
//	}
//	defer in.Stop(5 * time.Second)
package udp

// Package testutil provides test doubles shared by the pipeline packages.
//
//   - MockNATSClient: in-memory pub/sub and ordered stream replay, matching
//     the natsclient.Client method set used by the NATS gateway and surface.
//   - RecordingSurface: a render.Surface that keeps every frame, with
//     optional injected errors and delays.
//   - ScriptedGateway: a gateway.Gateway that publishes a fixed list of
//     events; Connect builds the common connect-and-stream script.
//
// Helpers poll with a timeout and fail the test on expiry:
//
//	surface := testutil.NewRecordingSurface()
//	frames := testutil.WaitForFrames(t, surface, 3, time.Second)
package testutil

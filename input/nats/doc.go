// Package nats implements a gateway that reads payloads from NATS.
//
// In live mode the gateway subscribes to Config.Subject and publishes one
// payload per message. In replay mode (Config.Stream set) it reads the stream
// from the first message through an ordered consumer, optionally pacing the
// messages with their original gaps, which replays a session recorded by the
// NATS surface.
//
// Status follows the client: Connecting while dialing or reconnecting,
// Connected once subscribed, Disconnected after Stop or when connecting gives up.
package nats

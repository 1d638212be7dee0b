// Package nats provides a render surface that publishes newly appended
// samples to a NATS subject.
//
// Each sample is published once, tracked by sequence number across ticks and
// restarted when the buffer generation changes. With Config.Stream set the
// subject is captured by a JetStream stream, which the NATS gateway can
// later replay in order. The lines format writes marker-prefixed text rows
// ("@12:511,498,...") that decode back into the same samples.
package nats

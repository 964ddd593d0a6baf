// Package transport defines the low-level byte-pipe abstraction that the
// shared-radio arbiter and link worker are built on, plus the concrete USB
// radio implementation of it (the SITL implementations live in
// internal/sitl).
package transport

import (
	"context"

	"crtplink/pkg/crtp"
)

// Acknowledgment is what a single send-and-receive round trip over the
// physical link reports back, mirroring the Crazyradio's own ACK
// structure: whether the peer acknowledged the packet, how many retries
// the radio's own auto-retry hardware needed, and any payload bytes the
// peer piggy-backed on the ack.
type Acknowledgment struct {
	Ack                 bool
	PowerDetectorStatus bool
	RetryCount          int
	Data                []byte
}

// Transport is the minimal contract the link worker needs from a physical
// or simulated radio: configure it for one logical connection, then
// repeatedly exchange one packet for one acknowledgment.
type Transport interface {
	// Configure applies a radio configuration (channel, address, data
	// rate) that subsequent SendAndReceive calls should use. Safe to call
	// again to retarget the same transport at a different configuration.
	Configure(ctx context.Context, cfg crtp.RadioConfig) error

	// SendAndReceive transmits payload and waits for the corresponding
	// acknowledgment, or returns ctx.Err() if the context is cancelled
	// first.
	SendAndReceive(ctx context.Context, payload []byte) (Acknowledgment, error)

	// ScanChannels probes every channel at the given data rate and
	// returns the ones that produced an acknowledgment, used by
	// connection scanning tools.
	ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error)

	// Close releases any OS resources (USB handles, sockets) held by the
	// transport. It is safe to call multiple times.
	Close() error
}

// Package broadcast implements address-less fan-out to every peer
// listening on a shared radio's broadcast address: packets are fired and
// forgotten, with no per-recipient acknowledgment or retry, since a
// broadcast by definition has no single sender to answer it.
package broadcast

import (
	"context"
	"fmt"

	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

// Localization channels and commands used by the handful of broadcast
// operations this package exposes.
const (
	channelGeneric uint8 = 1

	commandEnableEmergencyStop uint8 = 3
)

// Broadcaster sends CRTP packets to every device listening at a shared
// radio's configured broadcast address. It does not wait for, or expect,
// any response.
type Broadcaster struct {
	transport transport.Transport
}

// New returns a Broadcaster sending over t, which must already be
// Configure-d with a broadcast address (see crtp.DefaultBroadcastAddress).
func New(t transport.Transport) *Broadcaster {
	return &Broadcaster{transport: t}
}

// SendPacket broadcasts a single CRTP packet built from port, channel and
// data.
func (b *Broadcaster) SendPacket(ctx context.Context, port crtp.Port, channel uint8, data []byte) error {
	pkt := crtp.NewPacket(port, channel, data)
	return b.SendBytes(ctx, pkt.ToBytes(0x0C))
}

// SendBytes broadcasts a raw, already-encoded packet.
func (b *Broadcaster) SendBytes(ctx context.Context, raw []byte) error {
	if _, err := b.transport.SendAndReceive(ctx, raw); err != nil {
		return fmt.Errorf("broadcast: failed to send: %w", err)
	}
	return nil
}

// EmergencyStop broadcasts the emergency stop command to every listening
// peer, cutting motor power immediately regardless of flight mode.
func (b *Broadcaster) EmergencyStop(ctx context.Context) error {
	return b.SendPacket(ctx, crtp.PortLocalization, channelGeneric, []byte{commandEnableEmergencyStop})
}

// Package crtp implements the wire format of the Crazy Real-Time Protocol:
// packet framing, port numbers and the address/URI types used to locate a
// Crazyflie over a radio, USB or SITL link.
package crtp

import "fmt"

// Port identifies the logical CRTP channel a packet belongs to. Port 15 is
// reserved for link-layer control and is always routed even over an
// unconfigured link.
type Port uint8

const (
	PortConsole        Port = 0
	PortParam          Port = 2
	PortCommander      Port = 3
	PortMem            Port = 4
	PortLog            Port = 5
	PortLocalization   Port = 6
	PortGenericSetpoint Port = 7
	PortSetpointHL     Port = 8
	PortPlatform       Port = 13
	PortDebugDriver    Port = 14
	PortLinkControl    Port = 15
)

var portNames = map[Port]string{
	PortConsole:         "console",
	PortParam:           "param",
	PortCommander:       "commander",
	PortMem:             "mem",
	PortLog:             "log",
	PortLocalization:    "loc",
	PortGenericSetpoint: "setpoint",
	PortSetpointHL:      "hl-setpoint",
	PortPlatform:        "platform",
	PortDebugDriver:     "debug",
	PortLinkControl:     "linkctrl",
}

// String returns the short human-readable name of the port, or "port-N" for
// ports that carry no well-known meaning.
func (p Port) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return fmt.Sprintf("port-%d", uint8(p))
}

// LinkControlChannel enumerates the channels of PortLinkControl.
type LinkControlChannel uint8

const (
	LinkControlEcho   LinkControlChannel = 0
	LinkControlSource LinkControlChannel = 1
	LinkControlSink   LinkControlChannel = 2
	LinkControlBootloader LinkControlChannel = 3
)

// legacyBootloaderBits are unconditionally OR-ed into every header byte for
// compatibility with bootloaders that predate the safe-link protocol; the
// Python implementation this was ported from does the same thing in the
// CRTPPacket.header setter.
const legacyBootloaderBits = 0x3 << 2

// Packet is a single CRTP frame: one header byte plus zero to thirty bytes
// of payload.
type Packet struct {
	Port    Port
	Channel uint8
	Data    []byte
}

// NewPacket builds a packet addressed to the given port and channel.
func NewPacket(port Port, channel uint8, data []byte) Packet {
	return Packet{Port: port, Channel: channel & 0x3, Data: data}
}

// header returns the raw header byte, without any safe-link bits, always
// including the legacy bootloader bits.
func (p Packet) header() uint8 {
	h := (uint8(p.Port) << 4) | (p.Channel & 0x3)
	return (h & 0xF3) | legacyBootloaderBits
}

// IsNull reports whether this is the special all-ones null packet used to
// probe link presence without side effects.
func (p Packet) IsNull() bool {
	return p.header()&0xF3 == 0xF3 && len(p.Data) == 0
}

// NullPacket is the packet sent when a link wants to poll for inbound data
// without making any request of its own.
func NullPacket() Packet {
	return Packet{Port: 0x0F, Channel: 0x03}
}

// ToBytes encodes the packet for transmission over a safe-link-capable
// radio, OR-ing in the given safe-link sequence bits (bits 2-3 of the
// header). Pass 0x0C (the legacy bits already baked into header()) when
// safe-link is not in use.
func (p Packet) ToBytes(safeLinkBits uint8) []byte {
	h := (p.header() & 0xF3) | safeLinkBits
	out := make([]byte, 1+len(p.Data))
	out[0] = h
	copy(out[1:], p.Data)
	return out
}

// FromBytes decodes a packet received from the link. The safe-link bits are
// discarded; callers that need them should inspect the raw header
// separately via safelink.State.
func FromBytes(raw []byte) (Packet, error) {
	if len(raw) == 0 {
		return Packet{}, fmt.Errorf("crtp: cannot decode empty packet")
	}
	header := raw[0]
	return Packet{
		Port:    Port(header >> 4),
		Channel: header & 0x3,
		Data:    append([]byte(nil), raw[1:]...),
	}, nil
}

// SafeLinkHandshake is the fixed packet exchanged to negotiate safe-link
// mode: header 0xFF followed by the bytes 0x05 0x01.
func SafeLinkHandshake() []byte {
	return []byte{0xFF, 0x05, 0x01}
}

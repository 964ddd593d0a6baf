package crtp

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Address is a 5-byte Crazyradio address.
type Address [5]byte

// DefaultAddress is the factory-default radio address used by almost every
// Crazyflie out of the box.
var DefaultAddress = Address{0xE7, 0xE7, 0xE7, 0xE7, 0xE7}

// DefaultBroadcastAddress is the address used for unacknowledged broadcast
// packets sent to every radio listening on a channel.
var DefaultBroadcastAddress = Address{0xFF, 0xE7, 0xE7, 0xE7, 0xE7}

func (a Address) String() string {
	return strings.ToUpper(hex.EncodeToString(a[:]))
}

// DataRate is one of the three over-the-air bit rates the radio supports.
type DataRate uint8

const (
	DataRate250K DataRate = iota
	DataRate1M
	DataRate2M
)

func (r DataRate) String() string {
	switch r {
	case DataRate250K:
		return "250K"
	case DataRate1M:
		return "1M"
	default:
		return "2M"
	}
}

// ParseDataRate accepts any of the spellings the original tooling allows:
// "250K"/"250KPS"/"250KBPS", "1M"/"1MPS"/"1MBPS", "2M"/"2MPS"/"2MBPS", or a
// bare numeric value (0, 1 or 2).
func ParseDataRate(s string) (DataRate, error) {
	switch strings.ToUpper(s) {
	case "250K", "250KPS", "250KBPS":
		return DataRate250K, nil
	case "1M", "1MPS", "1MBPS":
		return DataRate1M, nil
	case "2M", "2MPS", "2MBPS":
		return DataRate2M, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		switch n {
		case 0, 1, 2:
			return DataRate(n), nil
		}
	}
	return 0, fmt.Errorf("crtp: invalid data rate %q", s)
}

// RadioConfig fully identifies one logical radio connection: which physical
// dongle to use, what channel and data rate it talks on and what address it
// addresses packets to.
type RadioConfig struct {
	Index    int
	Channel  int
	DataRate DataRate
	Address  Address
}

// Less orders two configurations lexicographically by (DataRate, Channel,
// Address), matching the ordering the Python driver imposes on
// RadioConfiguration via functools.total_ordering, so that configurations
// can be sorted into a stable order. Index is not compared.
func (c RadioConfig) Less(other RadioConfig) bool {
	if c.DataRate != other.DataRate {
		return c.DataRate < other.DataRate
	}
	if c.Channel != other.Channel {
		return c.Channel < other.Channel
	}
	for i := range c.Address {
		if c.Address[i] != other.Address[i] {
			return c.Address[i] < other.Address[i]
		}
	}
	return false
}

// ParsedRadioURI holds the parsed components of a "radio://" URI.
type ParsedRadioURI struct {
	Scheme  string
	Index   int
	Channel int
	Rate    DataRate
	Address Address
}

// ParseRadioURI parses a URI of the form
// "scheme://index/channel/rate/address", where every path component is
// optional and defaults to index=0, channel=2, rate=2M, address=E7E7E7E7E7.
func ParseRadioURI(uri string) (ParsedRadioURI, error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return ParsedRadioURI{}, fmt.Errorf("crtp: URI must have a scheme: %q", uri)
	}
	if rest == "" {
		return ParsedRadioURI{}, fmt.Errorf("crtp: path must not be empty: %q", uri)
	}
	rest = strings.TrimPrefix(rest, "/")

	var parts []string
	if rest != "" {
		parts = strings.Split(rest, "/")
	}

	result := ParsedRadioURI{
		Scheme:  scheme,
		Channel: 2,
		Rate:    DataRate2M,
		Address: DefaultAddress,
	}

	if len(parts) > 0 {
		idx, err := strconv.Atoi(parts[0])
		if err != nil {
			return ParsedRadioURI{}, fmt.Errorf("crtp: invalid radio index %q", parts[0])
		}
		result.Index = idx
		parts = parts[1:]
	}

	if len(parts) > 0 {
		ch, err := strconv.Atoi(parts[0])
		if err != nil || ch < 0 || ch > 125 {
			return ParsedRadioURI{}, fmt.Errorf("crtp: invalid channel index %q", parts[0])
		}
		result.Channel = ch
		parts = parts[1:]
	}

	if len(parts) > 0 {
		rate, err := ParseDataRate(parts[0])
		if err != nil {
			return ParsedRadioURI{}, err
		}
		result.Rate = rate
		parts = parts[1:]
	}

	if len(parts) > 0 {
		addr, err := ParseAddress(parts[0])
		if err != nil {
			return ParsedRadioURI{}, fmt.Errorf("crtp: invalid address %q: %w", parts[0], err)
		}
		result.Address = addr
		parts = parts[1:]
	}

	if len(parts) > 0 {
		return ParsedRadioURI{}, fmt.Errorf("crtp: excess parts at the end of URI %q", uri)
	}

	return result, nil
}

// ParseAddress converts a hex string or small integer offset into a full
// 5-byte radio address, as to_radio_address does: integers 0-255 are
// appended to the default E7E7E7E7 prefix, and 10-character hex strings are
// taken verbatim.
func ParseAddress(s string) (Address, error) {
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 255 {
		addr := DefaultAddress
		addr[4] = byte(n)
		return addr, nil
	}

	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 5 {
		return Address{}, fmt.Errorf("crtp: expected a 10-character hex address or an integer 0-255, got %q", s)
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// RadioAddressSpace enumerates up to Length sequential addresses starting
// from Prefix, for use by swarm-scanning tools built on top of this
// package.
type RadioAddressSpace struct {
	Index    int
	Channel  int
	Rate     DataRate
	Prefix   Address
	Length   int
	Scheme   string
}

// NewRadioAddressSpace returns the conventional default space used for
// swarms of up to 256 drones on channel 80 at 2M.
func NewRadioAddressSpace() RadioAddressSpace {
	return RadioAddressSpace{
		Channel: 80,
		Rate:    DataRate2M,
		Prefix:  Address{0xE7, 0xE7, 0xE7, 0xE7, 0x00},
		Length:  256,
		Scheme:  "radio",
	}
}

// AddressFor returns the radio address assigned to the given slot.
func (s RadioAddressSpace) AddressFor(index int) (Address, error) {
	if index < 0 || index >= s.Length {
		return Address{}, fmt.Errorf("crtp: address index %d out of range [0,%d)", index, s.Length)
	}
	base := uint64(0)
	for _, b := range s.Prefix {
		base = base<<8 | uint64(b)
	}
	base += uint64(index)
	var addr Address
	for i := 4; i >= 0; i-- {
		addr[i] = byte(base)
		base >>= 8
	}
	return addr, nil
}

// URIFor returns the full connection URI for the given slot.
func (s RadioAddressSpace) URIFor(index int) (string, error) {
	addr, err := s.AddressFor(index)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%d/%d/%s/%s", s.Scheme, s.Index, s.Channel, s.Rate, addr), nil
}

// BootloaderAddressSpace enumerates the two well-known channels
// (application channel 0 and bootloader channel 110) a Crazyflie
// bootloader may be reachable on.
type BootloaderAddressSpace struct {
	Index  int
	Scheme string
}

// URIs returns the bootloader URIs for this address space.
func (s BootloaderAddressSpace) URIs() []string {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "radio"
	}
	return []string{
		fmt.Sprintf("%s://%d/0", scheme, s.Index),
		fmt.Sprintf("%s://%d/110", scheme, s.Index),
	}
}

// USBAddressSpace enumerates directly-attached USB drones by their
// enumeration order.
type USBAddressSpace struct {
	Length int
}

// URIFor returns the USB connection URI for the given slot.
func (s USBAddressSpace) URIFor(index int) (string, error) {
	if index < 0 || index >= s.Length {
		return "", fmt.Errorf("crtp: usb address index %d out of range [0,%d)", index, s.Length)
	}
	return fmt.Sprintf("usb://%d", index), nil
}

package crtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRadioURIDefaults(t *testing.T) {
	parsed, err := ParseRadioURI("radio://0")
	assert.NoError(t, err)
	assert.Equal(t, 0, parsed.Index)
	assert.Equal(t, 2, parsed.Channel)
	assert.Equal(t, DataRate2M, parsed.Rate)
	assert.Equal(t, DefaultAddress, parsed.Address)
}

func TestParseRadioURIFull(t *testing.T) {
	parsed, err := ParseRadioURI("radio://1/80/1M/E7E7E7E7E7")
	assert.NoError(t, err)
	assert.Equal(t, 1, parsed.Index)
	assert.Equal(t, 80, parsed.Channel)
	assert.Equal(t, DataRate1M, parsed.Rate)
	assert.Equal(t, DefaultAddress, parsed.Address)
}

func TestParseRadioURIRejectsMissingScheme(t *testing.T) {
	_, err := ParseRadioURI("0/80")
	assert.Error(t, err)
}

func TestParseRadioURIRejectsBadChannel(t *testing.T) {
	_, err := ParseRadioURI("radio://0/200")
	assert.Error(t, err)
}

func TestParseRadioURIRejectsExcessParts(t *testing.T) {
	_, err := ParseRadioURI("radio://0/80/2M/E7E7E7E7E7/extra")
	assert.Error(t, err)
}

func TestParseAddressInteger(t *testing.T) {
	addr, err := ParseAddress("5")
	assert.NoError(t, err)
	assert.Equal(t, Address{0xE7, 0xE7, 0xE7, 0xE7, 0x05}, addr)
}

func TestParseAddressHex(t *testing.T) {
	addr, err := ParseAddress("E7E7E7E7E7")
	assert.NoError(t, err)
	assert.Equal(t, DefaultAddress, addr)
}

func TestRadioConfigOrdering(t *testing.T) {
	a := RadioConfig{DataRate: DataRate250K, Channel: 10, Address: DefaultAddress}
	b := RadioConfig{DataRate: DataRate2M, Channel: 1, Address: DefaultAddress}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
}

func TestRadioAddressSpace(t *testing.T) {
	space := NewRadioAddressSpace()
	addr, err := space.AddressFor(1)
	assert.NoError(t, err)
	assert.Equal(t, byte(1), addr[4])

	_, err = space.AddressFor(-1)
	assert.Error(t, err)

	uri, err := space.URIFor(0)
	assert.NoError(t, err)
	assert.Contains(t, uri, "radio://0/80/2M/")
}

func TestBootloaderAddressSpace(t *testing.T) {
	uris := BootloaderAddressSpace{Index: 0}.URIs()
	assert.Len(t, uris, 2)
	assert.Equal(t, "radio://0/0", uris[0])
	assert.Equal(t, "radio://0/110", uris[1])
}

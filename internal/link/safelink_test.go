package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeLinkDefaults(t *testing.T) {
	s := NewSafeLinkState()
	assert.Equal(t, uint8(8|4), s.Bits())
	assert.False(t, s.Acquired())
}

func TestSafeLinkAcquisitionResetsBits(t *testing.T) {
	s := NewSafeLinkState()
	s.SetAcquired(true)
	assert.Equal(t, uint8(0), s.Bits())

	s.SetAcquired(false)
	assert.Equal(t, uint8(8|4), s.Bits())
}

func TestSafeLinkUpdateIgnoredUnlessAcquired(t *testing.T) {
	s := NewSafeLinkState()
	s.Update(true, []byte{0x04})
	assert.Equal(t, uint8(8|4), s.Bits())
}

func TestSafeLinkUpdateIgnoresUnacknowledgedPacket(t *testing.T) {
	s := NewSafeLinkState()
	s.SetAcquired(true)
	s.Update(false, []byte{0x04})
	assert.Equal(t, uint8(0), s.Bits())
}

func TestSafeLinkUpToggleOnEveryAck(t *testing.T) {
	s := NewSafeLinkState()
	s.SetAcquired(true)

	s.Update(true, nil)
	assert.Equal(t, uint8(8), s.up)

	s.Update(true, nil)
	assert.Equal(t, uint8(0), s.up)
}

func TestSafeLinkSubscribeReceivesCurrentThenChanges(t *testing.T) {
	s := NewSafeLinkState()
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	assert.Equal(t, EnabledAcquired{}, <-ch)

	s.SetEnabled(true)
	assert.Equal(t, EnabledAcquired{Enabled: true}, <-ch)

	s.SetAcquired(true)
	assert.Equal(t, EnabledAcquired{Enabled: true, Acquired: true}, <-ch)
}

func TestSafeLinkDownTogglesWhenEchoed(t *testing.T) {
	s := NewSafeLinkState()
	s.SetAcquired(true)

	// down starts at 0; a response whose low down-bit matches it flips it.
	s.Update(true, []byte{0x00})
	assert.Equal(t, uint8(4), s.down)

	s.Update(true, []byte{0xFF})
	assert.Equal(t, uint8(0), s.down)

	// a response that does not echo the current down bit leaves it alone.
	s.Update(true, []byte{0x04})
	assert.Equal(t, uint8(0), s.down)
}

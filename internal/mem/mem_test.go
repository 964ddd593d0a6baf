package mem

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crtplink/internal/device"
	"crtplink/internal/dispatcher"
	"crtplink/internal/link"
	"crtplink/internal/toc"
	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

// fakeMemTransport simulates a single memory element of the given size,
// backed by an in-process byte slice, responding to INFO/READ/WRITE
// commands the way a real peer would.
type fakeMemTransport struct {
	data []byte
}

func (f *fakeMemTransport) Configure(ctx context.Context, cfg crtp.RadioConfig) error { return nil }

func (f *fakeMemTransport) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	pkt, err := crtp.FromBytes(payload)
	if err != nil || pkt.Port != crtp.PortMem {
		return transport.Acknowledgment{Ack: true}, nil
	}

	switch pkt.Channel {
	case channelInfo:
		switch pkt.Data[0] {
		case infoGetNumberOfMemories:
			resp := crtp.NewPacket(crtp.PortMem, channelInfo, []byte{infoGetNumberOfMemories, 1})
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		case infoGetDetails:
			buf := make([]byte, 15)
			buf[0] = infoGetDetails
			buf[1] = pkt.Data[1]
			buf[2] = byte(crtp.MemoryTypeI2C)
			binary.LittleEndian.PutUint32(buf[3:7], 0)
			binary.LittleEndian.PutUint64(buf[7:15], uint64(len(f.data)))
			resp := crtp.NewPacket(crtp.PortMem, channelInfo, buf)
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		}
	case channelRead:
		addr := binary.LittleEndian.Uint32(pkt.Data[1:5])
		length := int(pkt.Data[5])
		end := int(addr) + length
		if end > len(f.data) {
			end = len(f.data)
		}
		prefix := append([]byte(nil), pkt.Data[:5]...)
		respData := append(append(prefix, 0x00), f.data[addr:end]...)
		resp := crtp.NewPacket(crtp.PortMem, channelRead, respData)
		return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
	case channelWrite:
		addr := binary.LittleEndian.Uint32(pkt.Data[1:5])
		payload := pkt.Data[5:]
		if int(addr)+len(payload) > len(f.data) {
			grown := make([]byte, int(addr)+len(payload))
			copy(grown, f.data)
			f.data = grown
		}
		copy(f.data[addr:], payload)
		prefix := append([]byte(nil), pkt.Data[:5]...)
		respData := append(prefix, 0x00)
		resp := crtp.NewPacket(crtp.PortMem, channelWrite, respData)
		return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
	}
	return transport.Acknowledgment{Ack: true}, nil
}

func (f *fakeMemTransport) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	return nil, nil
}
func (f *fakeMemTransport) Close() error { return nil }

func newTestMemory(t *testing.T, data []byte) *Memory {
	t.Helper()
	tr := &fakeMemTransport{data: data}
	w := link.NewWorker(tr, link.Presets["default"], false)
	w.Start(context.Background())
	t.Cleanup(func() { w.Close() })

	d := dispatcher.New()
	dev := device.New(w, d)
	dev.Start(context.Background())

	return New(dev, toc.NullCache{})
}

func TestMemoryFindAndRead(t *testing.T) {
	backing := []byte{0x11, 0x22, 0x33, 0x44, 0x55}
	m := newTestMemory(t, backing)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := m.Find(ctx, crtp.MemoryTypeI2C)
	require.NoError(t, err)
	assert.EqualValues(t, len(backing), h.Size())

	got, err := h.Read(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, backing[1:4], got)
}

func TestMemoryWriteThenRead(t *testing.T) {
	backing := make([]byte, 8)
	m := newTestMemory(t, backing)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h, err := m.Find(ctx, crtp.MemoryTypeI2C)
	require.NoError(t, err)

	require.NoError(t, h.Write(ctx, 2, []byte{0xAA, 0xBB, 0xCC}))

	got, err := h.Read(ctx, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, got)
}

func TestMemoryFindMissingType(t *testing.T) {
	m := newTestMemory(t, make([]byte, 4))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.Find(ctx, crtp.MemoryTypeLighthouse)
	assert.ErrorIs(t, err, crtp.ErrNotFound)
}

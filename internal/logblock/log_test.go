package logblock

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
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

var fakeVariables = []VariableSpec{
	{ID: 0, Type: TypeFloat, Group: "stabilizer", Name: "roll"},
	{ID: 1, Type: TypeFloat, Group: "stabilizer", Name: "pitch"},
}

// fakeLogTransport simulates the logging subsystem of a single peer: a
// fixed variable TOC, one block slot, and a queue of pending data samples
// that Start enqueues immediately so tests don't depend on real timing.
type fakeLogTransport struct {
	mu      sync.Mutex
	pending [][]byte
	blockID uint8
	running bool
}

func (f *fakeLogTransport) Configure(ctx context.Context, cfg crtp.RadioConfig) error { return nil }

func (f *fakeLogTransport) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	pkt, err := crtp.FromBytes(payload)
	if err != nil || pkt.Port != crtp.PortLog {
		return f.maybePending()
	}

	switch pkt.Channel {
	case channelTOC:
		switch pkt.Data[0] {
		case tocGetInfoV2:
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint16(buf[0:2], uint16(len(fakeVariables)))
			binary.LittleEndian.PutUint32(buf[2:6], 0xAABBCCDD)
			resp := crtp.NewPacket(crtp.PortLog, channelTOC, append([]byte{tocGetInfoV2}, buf...))
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		case tocGetItemV2:
			id := binary.LittleEndian.Uint16(pkt.Data[1:3])
			encoded := EncodeVariableSpec(fakeVariables[id])
			resp := crtp.NewPacket(crtp.PortLog, channelTOC, append(append([]byte{}, pkt.Data...), encoded...))
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		}
	case channelControl:
		switch pkt.Data[0] {
		case controlReset:
			resp := crtp.NewPacket(crtp.PortLog, channelControl, append([]byte{controlReset}, 0x00))
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		case controlCreateBlockV2:
			f.mu.Lock()
			f.blockID = pkt.Data[1]
			f.mu.Unlock()
			resp := crtp.NewPacket(crtp.PortLog, channelControl, append([]byte{controlCreateBlockV2, pkt.Data[1]}, 0x00))
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		case controlStartLogging:
			f.mu.Lock()
			f.running = true
			for i := 0; i < 3; i++ {
				sample := make([]byte, 1+3+8)
				sample[0] = pkt.Data[1]
				sample[1], sample[2], sample[3] = byte(i), 0, 0
				binary.LittleEndian.PutUint32(sample[4:8], math.Float32bits(1.0+float32(i)))
				binary.LittleEndian.PutUint32(sample[8:12], math.Float32bits(2.0+float32(i)))
				f.pending = append(f.pending, sample)
			}
			f.mu.Unlock()
			resp := crtp.NewPacket(crtp.PortLog, channelControl, append([]byte{controlStartLogging, pkt.Data[1]}, 0x00))
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		case controlStopLogging:
			f.mu.Lock()
			f.running = false
			f.mu.Unlock()
			resp := crtp.NewPacket(crtp.PortLog, channelControl, append([]byte{controlStopLogging, pkt.Data[1]}, 0x00))
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		case controlDeleteBlock:
			resp := crtp.NewPacket(crtp.PortLog, channelControl, append([]byte{controlDeleteBlock, pkt.Data[1]}, 0x00))
			return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
		}
	}
	return transport.Acknowledgment{Ack: true}, nil
}

func (f *fakeLogTransport) maybePending() (transport.Acknowledgment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return transport.Acknowledgment{Ack: true}, nil
	}
	data := f.pending[0]
	f.pending = f.pending[1:]
	resp := crtp.NewPacket(crtp.PortLog, channelData, data)
	return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
}

func (f *fakeLogTransport) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	return nil, nil
}
func (f *fakeLogTransport) Close() error { return nil }

func newTestLog(t *testing.T) *Log {
	t.Helper()
	tr := &fakeLogTransport{}
	w := link.NewWorker(tr, link.Presets["default"], false)
	w.Start(context.Background())
	t.Cleanup(func() { w.Close() })

	d := dispatcher.New()
	dev := device.New(w, d)
	dev.Start(context.Background())

	return New(dev, toc.NewInMemoryCache())
}

func TestLogValidateFetchesVariables(t *testing.T) {
	l := newTestLog(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, l.Validate(ctx))

	spec, ok := l.Variable("stabilizer.roll")
	require.True(t, ok)
	assert.Equal(t, TypeFloat, spec.Type)
}

func TestLogCreateStartStreamStop(t *testing.T) {
	l := newTestLog(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, l.Validate(ctx))

	roll, _ := l.Variable("stabilizer.roll")
	pitch, _ := l.Variable("stabilizer.pitch")

	block := NewBlock()
	block.AddVariable(roll, 0)
	block.AddVariable(pitch, 0)

	require.NoError(t, l.Create(ctx, block))
	id, ok := block.ID()
	require.True(t, ok)
	assert.EqualValues(t, 0, id)

	samples, unsubscribe := l.Stream(block, 8)
	defer unsubscribe()

	require.NoError(t, l.Start(ctx, block, 10))

	select {
	case sample := <-samples:
		assert.Len(t, sample.Values, 2)
		assert.InDelta(t, 1.0, sample.Values[0], 0.001)
		assert.InDelta(t, 2.0, sample.Values[1], 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a log sample")
	}

	require.NoError(t, l.Stop(ctx, block))
	require.NoError(t, l.Delete(ctx, block))
	_, ok = block.ID()
	assert.False(t, ok)
}

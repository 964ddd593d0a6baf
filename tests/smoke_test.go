// Package tests holds one process-level smoke test exercising the full
// stack end to end (transport -> link worker -> dispatcher -> device ->
// memory subsystem), the way the teacher's own root-level tests/ package
// holds smoke tests for its binaries rather than unit tests for its
// packages (those live alongside the code in internal/*_test.go).
package tests

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crtplink/internal/device"
	"crtplink/internal/dispatcher"
	"crtplink/internal/link"
	"crtplink/internal/mem"
	"crtplink/internal/toc"
	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

// fakeDrone simulates just enough of a peer's memory subsystem to drive
// the full read/write/checksum protocol over an in-process transport: one
// memory element, backed by a byte slice, responding to the same
// GET_NUMBER_OF_MEMORIES / GET_DETAILS / READ / WRITE commands a real
// Crazyflie's memory.c would.
type fakeDrone struct {
	mu      sync.Mutex
	storage []byte
}

func (d *fakeDrone) handle(pkt crtp.Packet) *crtp.Packet {
	if pkt.Port != crtp.PortMem {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch pkt.Channel {
	case 0: // info
		if len(pkt.Data) == 0 {
			return nil
		}
		switch pkt.Data[0] {
		case 1: // GET_NUMBER_OF_MEMORIES
			resp := crtp.NewPacket(crtp.PortMem, 0, []byte{pkt.Data[0], 1})
			return &resp
		case 2: // GET_DETAILS
			body := make([]byte, 2+13)
			body[0] = pkt.Data[0]
			body[1] = pkt.Data[1]
			body[2] = byte(crtp.MemoryTypeI2C)
			binary.LittleEndian.PutUint32(body[3:7], 0)
			binary.LittleEndian.PutUint64(body[7:15], uint64(len(d.storage)))
			resp := crtp.NewPacket(crtp.PortMem, 0, body)
			return &resp
		}
		return nil
	case 1: // read
		addr := binary.LittleEndian.Uint32(pkt.Data[1:5])
		length := int(pkt.Data[5])
		data := d.storage[addr : addr+uint32(length)]
		body := append(append([]byte{}, pkt.Data[:5]...), append([]byte{0}, data...)...)
		resp := crtp.NewPacket(crtp.PortMem, 1, body)
		return &resp
	case 2: // write
		addr := binary.LittleEndian.Uint32(pkt.Data[1:5])
		copy(d.storage[addr:], pkt.Data[5:])
		body := append([]byte{}, pkt.Data[:5]...)
		body = append(body, 0)
		resp := crtp.NewPacket(crtp.PortMem, 2, body)
		return &resp
	}
	return nil
}

type droneTransport struct {
	drone *fakeDrone
}

func (t *droneTransport) Configure(ctx context.Context, cfg crtp.RadioConfig) error { return nil }

func (t *droneTransport) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	pkt, err := crtp.FromBytes(payload)
	if err != nil {
		return transport.Acknowledgment{}, err
	}
	resp := t.drone.handle(pkt)
	if resp == nil {
		return transport.Acknowledgment{Ack: true}, nil
	}
	return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil
}

func (t *droneTransport) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	return []int{80}, nil
}

func (t *droneTransport) Close() error { return nil }

// TestMemoryWriteWithChecksumEndToEnd exercises spec.md §8 scenario 4
// (checksummed write-if-changed) through the complete stack: a write of
// new data performs the read-zeros-data-checksum sequence, and a second
// identical write short-circuits to a single read.
func TestMemoryWriteWithChecksumEndToEnd(t *testing.T) {
	drone := &fakeDrone{storage: make([]byte, 64)}
	tr := &droneTransport{drone: drone}

	w := link.NewWorker(tr, link.Presets["default"], false)
	w.Start(context.Background())
	defer w.Close()

	d := dispatcher.New()
	dev := device.New(w, d)
	dev.Start(context.Background())

	memory := mem.New(dev, toc.NullCache{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, memory.Validate(ctx))

	handler, err := memory.Find(ctx, crtp.MemoryTypeI2C)
	require.NoError(t, err)
	require.Equal(t, uint64(64), handler.Size())

	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	n, err := handler.WriteWithChecksum(ctx, 0, payload, true)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	stored, err := handler.Read(ctx, 4, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, stored)

	checksum, err := handler.Read(ctx, 0, 4)
	require.NoError(t, err)
	require.Equal(t, toc.CRC32(payload), binary.LittleEndian.Uint32(checksum))

	// A second identical write must not touch storage again: corrupt the
	// payload region directly and confirm the skip leaves it untouched.
	drone.mu.Lock()
	drone.storage[4] = 0xFF
	drone.mu.Unlock()

	n2, err := handler.WriteWithChecksum(ctx, 0, payload, true)
	require.NoError(t, err)
	require.Equal(t, 4, n2)

	drone.mu.Lock()
	untouched := drone.storage[4]
	drone.mu.Unlock()
	require.Equal(t, byte(0xFF), untouched, "write-if-changed should have skipped the write entirely")
}

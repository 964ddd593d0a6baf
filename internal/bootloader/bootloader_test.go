package bootloader

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crtplink/internal/device"
	"crtplink/internal/dispatcher"
	"crtplink/internal/link"
	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

// fakeBootloaderTransport simulates a CF2 device in bootloader mode: an
// STM32 target with a tiny page geometry (so tests don't need to push
// kilobytes of firmware) and an NRF51 co-processor target, plus a flash
// array backing READ_FLASH/WRITE_FLASH/LOAD_BUFFER.
type fakeBootloaderTransport struct {
	mu     sync.Mutex
	flash  []byte
	buffer []byte
}

const (
	testPageSize    = 4
	testBufferPages = 2
	testFlashPages  = 4
	testStartPage   = 2
)

func newFakeBootloaderTransport() *fakeBootloaderTransport {
	return &fakeBootloaderTransport{flash: make([]byte, testFlashPages*testPageSize)}
}

func (f *fakeBootloaderTransport) Configure(ctx context.Context, cfg crtp.RadioConfig) error {
	return nil
}

func (f *fakeBootloaderTransport) targetInfo(protocol byte) []byte {
	info := make([]byte, 8)
	binary.LittleEndian.PutUint16(info[0:2], testPageSize)
	binary.LittleEndian.PutUint16(info[2:4], testBufferPages)
	binary.LittleEndian.PutUint16(info[4:6], testFlashPages)
	binary.LittleEndian.PutUint16(info[6:8], testStartPage)
	cpuID := make([]byte, 12)
	return append(append(info, cpuID...), protocol)
}

func (f *fakeBootloaderTransport) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	pkt, err := crtp.FromBytes(payload)
	if err != nil || pkt.Port != crtp.PortLinkControl || pkt.Channel != uint8(crtp.LinkControlBootloader) {
		return transport.Acknowledgment{Ack: true}, nil
	}

	id := TargetType(pkt.Data[0])
	cmd := pkt.Data[1]

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd {
	case cmdGetTargetInfo:
		protocol := byte(ProtocolCF2)
		body := append([]byte{byte(id), cmd}, f.targetInfo(protocol)...)
		resp := crtp.NewPacket(crtp.PortLinkControl, uint8(crtp.LinkControlBootloader), body)
		return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil

	case cmdLoadBuffer:
		page := binary.LittleEndian.Uint16(pkt.Data[2:4])
		offset := binary.LittleEndian.Uint16(pkt.Data[4:6])
		start := int(page)*testPageSize + int(offset)
		data := pkt.Data[6:]
		if start+len(data) > len(f.buffer) {
			grown := make([]byte, start+len(data))
			copy(grown, f.buffer)
			f.buffer = grown
		}
		copy(f.buffer[start:], data)
		return transport.Acknowledgment{Ack: true}, nil

	case cmdWriteFlash:
		startPage := binary.LittleEndian.Uint16(pkt.Data[4:6])
		numPages := binary.LittleEndian.Uint16(pkt.Data[6:8])
		start := int(startPage) * testPageSize
		size := int(numPages) * testPageSize
		if start+size <= len(f.flash) && size <= len(f.buffer) {
			copy(f.flash[start:start+size], f.buffer[:size])
		}
		body := []byte{byte(id), cmd, 1, 0}
		resp := crtp.NewPacket(crtp.PortLinkControl, uint8(crtp.LinkControlBootloader), body)
		return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil

	case cmdReadFlash:
		page := binary.LittleEndian.Uint16(pkt.Data[2:4])
		offset := binary.LittleEndian.Uint16(pkt.Data[4:6])
		start := int(page)*testPageSize + int(offset)
		end := start + readFlashChunkSize
		if end > len(f.flash) {
			end = len(f.flash)
		}
		body := append(append([]byte{}, pkt.Data[:6]...), f.flash[start:end]...)
		resp := crtp.NewPacket(crtp.PortLinkControl, uint8(crtp.LinkControlBootloader), body)
		return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil

	case cmdResetInit:
		body := []byte{byte(id), cmd}
		resp := crtp.NewPacket(crtp.PortLinkControl, uint8(crtp.LinkControlBootloader), body)
		return transport.Acknowledgment{Ack: true, Data: resp.ToBytes(0x0C)}, nil

	case cmdReset:
		return transport.Acknowledgment{Ack: true}, nil
	}

	return transport.Acknowledgment{Ack: true}, nil
}

func (f *fakeBootloaderTransport) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	return nil, nil
}
func (f *fakeBootloaderTransport) Close() error { return nil }

func newTestBootloader(t *testing.T) (*Bootloader, *fakeBootloaderTransport) {
	t.Helper()
	tr := newFakeBootloaderTransport()
	w := link.NewWorker(tr, link.Presets["default"], false)
	w.Start(context.Background())
	t.Cleanup(func() { w.Close() })

	d := dispatcher.New()
	dev := device.New(w, d)
	dev.Start(context.Background())

	return New(dev), tr
}

func ctxWithTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGetTargetsReturnsStm32AndNrf51OnCF2(t *testing.T) {
	bl, _ := newTestBootloader(t)
	ctx := ctxWithTimeout(t)

	targets, err := bl.GetTargets(ctx)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, TargetSTM32, targets[0].ID)
	assert.Equal(t, TargetNRF51, targets[1].ID)
	assert.EqualValues(t, testPageSize, targets[0].PageSize)
	assert.EqualValues(t, testStartPage*testPageSize, targets[0].FirmwareAddress())
}

func TestFindTargetMissing(t *testing.T) {
	bl, _ := newTestBootloader(t)
	ctx := ctxWithTimeout(t)

	_, err := bl.GetTargets(ctx)
	require.NoError(t, err)

	// Every defined TargetType is wired in this fake, so exercise the
	// not-found path with an undefined one instead.
	_, err = bl.FindTarget(ctx, TargetType(0x00))
	assert.ErrorIs(t, err, crtp.ErrNotFound)
}

func TestWriteFlashThenReadFlashRoundTrips(t *testing.T) {
	bl, _ := newTestBootloader(t)
	ctx := ctxWithTimeout(t)

	target, err := bl.FindTarget(ctx, TargetSTM32)
	require.NoError(t, err)

	firmware := []byte{0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8}
	require.Len(t, firmware, target.BufferSize())

	require.NoError(t, target.WriteFirmware(ctx, firmware))

	read, err := target.ReadFirmware(ctx, len(firmware))
	require.NoError(t, err)
	assert.Equal(t, firmware, read)
}

func TestRebootSendsResetInitThenReset(t *testing.T) {
	bl, _ := newTestBootloader(t)
	ctx := ctxWithTimeout(t)

	require.NoError(t, bl.Reboot(ctx, true))
}

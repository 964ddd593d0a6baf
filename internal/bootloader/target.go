// Package bootloader implements the CRTP bootloader protocol used to
// flash new firmware onto a Crazyflie's STM32 application processor or
// its NRF51 radio co-processor while the device is held in bootloader
// mode. Bootloader commands travel on crtp.PortLinkControl, channel 3,
// and are otherwise unrelated to the logging/memory/parameter
// subsystems that only run once the firmware has booted normally.
package bootloader

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"crtplink/internal/device"
	"crtplink/pkg/crtp"
)

// TargetType identifies which processor on the device a bootloader
// command addresses.
type TargetType uint8

const (
	TargetNRF51 TargetType = 0xFE
	TargetSTM32 TargetType = 0xFF
)

func (t TargetType) String() string {
	switch t {
	case TargetNRF51:
		return "nRF51"
	case TargetSTM32:
		return "STM32"
	default:
		return "unknown"
	}
}

// ParseTargetType accepts the case-insensitive spellings "stm32" and
// "nrf51", matching the names TargetType.String returns.
func ParseTargetType(name string) (TargetType, error) {
	switch strings.ToLower(name) {
	case "stm32":
		return TargetSTM32, nil
	case "nrf51":
		return TargetNRF51, nil
	default:
		return 0, fmt.Errorf("bootloader: %w: no such target %q", crtp.ErrNotFound, name)
	}
}

// ProtocolVersion identifies the generation of bootloader wire protocol
// a target speaks; it gates whether an NRF51 co-processor target exists
// at all (only the CF2 protocol version exposes one).
type ProtocolVersion uint8

const (
	ProtocolCF1V0  ProtocolVersion = 0x00
	ProtocolCF1V1  ProtocolVersion = 0x01
	ProtocolCF2    ProtocolVersion = 0x10
	ProtocolUnknown ProtocolVersion = 0xFF
)

// Bootloader-mode commands, sent on crtp.PortLinkControl channel
// LinkControlBootloader. Values 0x10-0x1F are only understood while the
// target is actually in bootloader mode; the rest apply in both modes.
const (
	cmdGetTargetInfo uint8 = 0x10
	cmdLoadBuffer    uint8 = 0x14
	cmdReadBuffer    uint8 = 0x15
	cmdWriteFlash    uint8 = 0x18
	cmdReadFlash     uint8 = 0x1C
	cmdResetInit     uint8 = 0xFF
	cmdReset         uint8 = 0xF0
)

const (
	loadBufferChunkSize = 25
	readFlashChunkSize  = 25
)

// Target describes one flashable processor, populated from the
// response to a GET_TARGET_INFO command: page geometry, the CPU's
// factory-programmed identifier and the bootloader protocol version it
// reports.
type Target struct {
	bl *Bootloader

	ID              TargetType
	ProtocolVersion ProtocolVersion
	PageSize        uint16
	BufferPages     uint16
	FlashPages      uint16
	StartPage       uint16
	CPUID           [12]byte
}

// decodeTarget parses a GET_TARGET_INFO response body: <HHHH12s>
// (page_size, buffer_pages, flash_pages, start_page, cpu_id), with an
// optional trailing protocol-version byte some firmware omits.
func decodeTarget(bl *Bootloader, id TargetType, data []byte) (*Target, error) {
	const structSize = 2 + 2 + 2 + 2 + 12
	if len(data) < structSize {
		return nil, fmt.Errorf("bootloader: %w: short target info response", crtp.ErrInvalidResponse)
	}

	t := &Target{bl: bl, ID: id, ProtocolVersion: ProtocolUnknown}
	t.PageSize = binary.LittleEndian.Uint16(data[0:2])
	t.BufferPages = binary.LittleEndian.Uint16(data[2:4])
	t.FlashPages = binary.LittleEndian.Uint16(data[4:6])
	t.StartPage = binary.LittleEndian.Uint16(data[6:8])
	copy(t.CPUID[:], data[8:structSize])

	if len(data) > structSize {
		t.ProtocolVersion = ProtocolVersion(data[structSize])
	}

	return t, nil
}

// BufferSize returns the size, in bytes, of the target's upload buffer.
func (t *Target) BufferSize() int { return int(t.BufferPages) * int(t.PageSize) }

// FirmwareAddress is the flash address where application firmware
// begins.
func (t *Target) FirmwareAddress() uint32 { return uint32(t.StartPage) * uint32(t.PageSize) }

// FlashSize returns the total size, in bytes, of the target's flash.
func (t *Target) FlashSize() int { return int(t.FlashPages) * int(t.PageSize) }

// MaxFirmwareSize returns how many bytes are available for firmware,
// i.e. the flash remaining after StartPage.
func (t *Target) MaxFirmwareSize() int { return t.FlashSize() - int(t.FirmwareAddress()) }

// ReadFlash reads length bytes of raw flash starting at address. A
// negative length reads until the end of flash. Reads stop early,
// without error, once the target returns a short final chunk.
func (t *Target) ReadFlash(ctx context.Context, address uint32, length int) ([]byte, error) {
	toRead := length
	if toRead < 0 {
		toRead = t.FlashSize() - int(address)
	}

	var out []byte
	for toRead > 0 {
		page := address / uint32(t.PageSize)
		offset := address % uint32(t.PageSize)

		command := make([]byte, 6)
		command[0] = byte(t.ID)
		command[1] = cmdReadFlash
		binary.LittleEndian.PutUint16(command[2:4], uint16(page))
		binary.LittleEndian.PutUint16(command[4:6], uint16(offset))

		data, err := t.bl.runBootloaderCommand(ctx, command, nil, device.CommandOptions{})
		if err != nil {
			return nil, fmt.Errorf("bootloader: failed to read flash at 0x%X: %w", address, err)
		}

		chunk := data
		if len(chunk) > toRead {
			chunk = chunk[:toRead]
		}
		out = append(out, chunk...)
		address += uint32(len(chunk))
		toRead -= len(chunk)

		if len(data) < readFlashChunkSize {
			break
		}
	}

	return out, nil
}

// ReadFirmware reads the firmware area of flash; a negative length
// reads everything from FirmwareAddress to the end of flash.
func (t *Target) ReadFirmware(ctx context.Context, length int) ([]byte, error) {
	return t.ReadFlash(ctx, t.FirmwareAddress(), length)
}

// WriteFlash writes data starting at address, which must be aligned to
// the target's page size. Each buffer's worth of data is uploaded in
// load-buffer chunks and then flushed to flash with a WRITE_FLASH
// command (see flushBufferToFlash for its timeout and attempt count).
func (t *Target) WriteFlash(ctx context.Context, address uint32, data []byte) error {
	if t.PageSize == 0 {
		return fmt.Errorf("bootloader: target has no page size; call GetTargets first")
	}
	if address%uint32(t.PageSize) != 0 {
		return fmt.Errorf("bootloader: write address must be page-aligned")
	}

	for _, span := range chunkify(0, len(data), t.BufferSize()) {
		if err := t.fillBuffer(ctx, data[span[0]:span[0]+span[1]]); err != nil {
			return err
		}
		if err := t.flushBufferToFlash(ctx, address, span[1]); err != nil {
			return err
		}
		address += uint32(span[1])
	}

	return nil
}

// WriteFirmware writes firmware to the target's firmware area.
func (t *Target) WriteFirmware(ctx context.Context, firmware []byte) error {
	return t.WriteFlash(ctx, t.FirmwareAddress(), firmware)
}

func (t *Target) fillBuffer(ctx context.Context, data []byte) error {
	if len(data) > t.BufferSize() {
		return fmt.Errorf("bootloader: data larger than upload buffer (%d > %d)", len(data), t.BufferSize())
	}

	for _, span := range chunkify(0, len(data), loadBufferChunkSize) {
		page := uint32(span[0]) / uint32(t.PageSize)
		offset := uint32(span[0]) % uint32(t.PageSize)

		command := make([]byte, 6)
		command[0] = byte(t.ID)
		command[1] = cmdLoadBuffer
		binary.LittleEndian.PutUint16(command[2:4], uint16(page))
		binary.LittleEndian.PutUint16(command[4:6], uint16(offset))

		if err := t.bl.sendBootloaderPacket(ctx, append(command, data[span[0]:span[0]+span[1]]...)); err != nil {
			return fmt.Errorf("bootloader: failed to upload buffer chunk: %w", err)
		}
	}

	return nil
}

// flushBufferToFlash issues WRITE_FLASH for a buffer's worth of data
// already uploaded via fillBuffer. It deliberately uses a longer
// timeout than other bootloader commands: the STM32 bootloader's flash
// write can take more than a second, and it has trouble with requests
// that get resent while a sector erase is still in progress.
func (t *Target) flushBufferToFlash(ctx context.Context, start uint32, size int) error {
	if start%uint32(t.PageSize) != 0 {
		return fmt.Errorf("bootloader: flush start must be page-aligned")
	}
	startPage := start / uint32(t.PageSize)
	numPages := uint16((size + int(t.PageSize) - 1) / int(t.PageSize))

	command := []byte{byte(t.ID), cmdWriteFlash}
	params := make([]byte, 6)
	binary.LittleEndian.PutUint16(params[0:2], 0)
	binary.LittleEndian.PutUint16(params[2:4], uint16(startPage))
	binary.LittleEndian.PutUint16(params[4:6], numPages)

	result, err := t.bl.runBootloaderCommand(ctx, command, params, device.CommandOptions{
		Timeout:  2500 * time.Millisecond,
		Attempts: 3,
	})
	if err != nil {
		return fmt.Errorf("bootloader: flash write request failed: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("bootloader: %w: invalid response to flash write request", crtp.ErrInvalidResponse)
	}

	done := result[0] > 0
	status := result[1]

	switch {
	case status == 1:
		return fmt.Errorf("bootloader: %w: invalid write request sent to target", crtp.ErrCommand)
	case status == 2:
		return fmt.Errorf("bootloader: %w: failed to erase sector in flash memory", crtp.ErrCommand)
	case status == 3:
		return fmt.Errorf("bootloader: %w: failed to write new data into flash memory", crtp.ErrCommand)
	case status > 0:
		return fmt.Errorf("bootloader: %w: unknown flash write error (code %d)", crtp.ErrCommand, status)
	case !done:
		return fmt.Errorf("bootloader: %w: target reported write as not done", crtp.ErrCommand)
	}

	return nil
}

// chunkify splits [start, start+length) into runs of at most step
// bytes, returning each run as [offset, size].
func chunkify(start, length, step int) [][2]int {
	if step <= 0 || length <= 0 {
		return nil
	}
	var chunks [][2]int
	for offset := start; offset < start+length; offset += step {
		size := step
		if remaining := start + length - offset; remaining < size {
			size = remaining
		}
		chunks = append(chunks, [2]int{offset, size})
	}
	return chunks
}

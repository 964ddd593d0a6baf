// Package mem implements the CRTP memory subsystem: enumerating the
// memory elements a peer exposes and reading/writing them in
// protocol-sized chunks, including the checksum-guarded write used to
// avoid re-uploading data that is already present.
package mem

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"crtplink/internal/device"
	"crtplink/internal/toc"
	"crtplink/pkg/crtp"
)

// Channels of the memory service.
const (
	channelInfo  uint8 = 0
	channelRead  uint8 = 1
	channelWrite uint8 = 2
)

// Information commands sent on channelInfo.
const (
	infoGetNumberOfMemories uint8 = 1
	infoGetDetails          uint8 = 2
)

// MaxReadRequestLength is the largest number of bytes a single read
// request may ask for; CRTP packets carry at most 30 data bytes and the
// read response reserves one for a status code.
const MaxReadRequestLength = 20

// MaxWriteRequestLength is the largest number of bytes a single write
// request may carry, reserving room for the memory index and address
// prefix in the outgoing packet.
const MaxWriteRequestLength = 25

// DefaultTimeout and DefaultAttempts tune every RunCommand call this
// package makes unless the caller overrides them.
const (
	DefaultTimeout  = 200 * time.Millisecond
	DefaultAttempts = 3
)

// Element describes one memory region a peer exposes.
type Element struct {
	Index   int
	Type    crtp.MemoryType
	Size    uint64
	Address uint32
}

func decodeElement(index int, data []byte) (Element, error) {
	if len(data) < 13 {
		return Element{}, fmt.Errorf("mem: invalid memory description for index %d", index)
	}
	return Element{
		Index:   index,
		Type:    crtp.MemoryType(data[0]),
		Address: binary.LittleEndian.Uint32(data[1:5]),
		Size:    binary.LittleEndian.Uint64(data[5:13]),
	}, nil
}

// Handler reads and writes a single memory element.
type Handler struct {
	dev     *device.Device
	element Element
}

// Memory enumerates and caches the memory elements exposed by a peer,
// handing out Handlers for them.
type Memory struct {
	dev      *device.Device
	cache    toc.Cache
	elements []Element
}

// New returns a Memory service driving commands through dev. cache (a nil
// cache becomes toc.NullCache{}) is kept on the Memory but not consulted:
// the element table is always fetched from the peer.
func New(dev *device.Device, cache toc.Cache) *Memory {
	if cache == nil {
		cache = toc.NullCache{}
	}
	return &Memory{dev: dev, cache: cache}
}

func opts() device.CommandOptions {
	return device.CommandOptions{Attempts: DefaultAttempts, Timeout: DefaultTimeout}
}

// Validate downloads the memory element table if it has not been
// downloaded yet. Subsequent calls are no-ops.
func (m *Memory) Validate(ctx context.Context) error {
	if m.elements != nil {
		return nil
	}
	elements, err := m.fetchElements(ctx)
	if err != nil {
		return err
	}
	m.elements = elements
	return nil
}

func (m *Memory) fetchElements(ctx context.Context) ([]Element, error) {
	count, err := m.getNumberOfMemories(ctx)
	if err != nil {
		return nil, err
	}

	elements := make([]Element, 0, count)
	for i := 0; i < count; i++ {
		el, err := m.getMemoryDetails(ctx, i)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

func (m *Memory) getNumberOfMemories(ctx context.Context) (int, error) {
	resp, err := m.dev.RunCommand(ctx, crtp.PortMem, channelInfo, []byte{infoGetNumberOfMemories}, nil, opts())
	if err != nil {
		return 0, fmt.Errorf("mem: failed to query memory count: %w", err)
	}
	if len(resp) < 1 {
		return 0, fmt.Errorf("mem: empty response to memory count query")
	}
	return int(resp[0]), nil
}

func (m *Memory) getMemoryDetails(ctx context.Context, index int) (Element, error) {
	resp, err := m.dev.RunCommand(ctx, crtp.PortMem, channelInfo, []byte{infoGetDetails, byte(index)}, nil, opts())
	if err != nil {
		return Element{}, fmt.Errorf("mem: failed to query details for memory %d: %w", index, err)
	}
	return decodeElement(index, resp)
}

// Find returns a handler for the first memory element of the given type.
func (m *Memory) Find(ctx context.Context, memType crtp.MemoryType) (*Handler, error) {
	if err := m.Validate(ctx); err != nil {
		return nil, err
	}
	for _, el := range m.elements {
		if el.Type == memType {
			return &Handler{dev: m.dev, element: el}, nil
		}
	}
	return nil, fmt.Errorf("mem: %w: no memory of type %s", crtp.ErrNotFound, memType)
}

// FindAll returns handlers for every memory element of the given type.
func (m *Memory) FindAll(ctx context.Context, memType crtp.MemoryType) ([]*Handler, error) {
	if err := m.Validate(ctx); err != nil {
		return nil, err
	}
	var handlers []*Handler
	for _, el := range m.elements {
		if el.Type == memType {
			handlers = append(handlers, &Handler{dev: m.dev, element: el})
		}
	}
	return handlers, nil
}

// Type returns the memory type this handler addresses.
func (h *Handler) Type() crtp.MemoryType { return h.element.Type }

// Size returns the size, in bytes, of this memory element.
func (h *Handler) Size() uint64 { return h.element.Size }

func addressingPrefix(index int, addr uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(index)
	binary.LittleEndian.PutUint32(buf[1:], addr)
	return buf
}

// chunkify splits [start, start+length) into runs of at most step bytes,
// matching the chunking used by both read and write requests.
func chunkify(start, length, step int) [][2]int {
	var chunks [][2]int
	for offset := 0; offset < length; offset += step {
		size := step
		if remaining := length - offset; remaining < size {
			size = remaining
		}
		chunks = append(chunks, [2]int{start + offset, size})
	}
	return chunks
}

// Read reads length bytes starting at addr.
func (h *Handler) Read(ctx context.Context, addr uint32, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	for _, chunk := range chunkify(int(addr), length, MaxReadRequestLength) {
		data, err := h.readChunk(ctx, uint32(chunk[0]), chunk[1])
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

// Dump reads the entire memory element.
func (h *Handler) Dump(ctx context.Context) ([]byte, error) {
	return h.Read(ctx, 0, int(h.element.Size))
}

func (h *Handler) readChunk(ctx context.Context, addr uint32, length int) ([]byte, error) {
	resp, err := h.dev.RunCommand(ctx, crtp.PortMem, channelRead, addressingPrefix(h.element.Index, addr), []byte{byte(length)}, opts())
	if err != nil {
		return nil, fmt.Errorf("mem: read at %#x failed: %w", addr, err)
	}
	if len(resp) < 1 {
		return nil, fmt.Errorf("mem: %w: empty read response at %#x", crtp.ErrInvalidResponse, addr)
	}
	if status := resp[0]; status != 0 {
		return nil, fmt.Errorf("mem: %w: read at %#x returned status %d", crtp.ErrIO, addr, status)
	}
	return resp[1:], nil
}

// Write writes data starting at addr.
func (h *Handler) Write(ctx context.Context, addr uint32, data []byte) error {
	for _, chunk := range chunkify(0, len(data), MaxWriteRequestLength) {
		if err := h.writeChunk(ctx, addr+uint32(chunk[0]), data[chunk[0]:chunk[0]+chunk[1]]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) writeChunk(ctx context.Context, addr uint32, data []byte) error {
	resp, err := h.dev.RunCommand(ctx, crtp.PortMem, channelWrite, addressingPrefix(h.element.Index, addr), data, opts())
	if err != nil {
		return fmt.Errorf("mem: write at %#x failed: %w", addr, err)
	}
	if len(resp) < 1 {
		return fmt.Errorf("mem: %w: empty write response at %#x", crtp.ErrInvalidResponse, addr)
	}
	if status := resp[0]; status != 0 {
		return fmt.Errorf("mem: %w: write at %#x returned status %d", crtp.ErrIO, addr, status)
	}
	return nil
}

// WriteWithChecksum writes data to addr, preceded by its CRC32 checksum.
// When onlyIfChanged is true, the checksum already stored at addr is read
// first and the write is skipped entirely if it already matches, so that
// re-uploading identical data (e.g. the same trajectory or LED animation)
// costs a single read instead of a full write. Otherwise the write goes
// zeros over the checksum, then data, then checksum, in that order, so a
// write that is
// interrupted midway is detectable as neither the old nor the new valid
// state. Returns the number of checksum bytes written in front of data.
func (h *Handler) WriteWithChecksum(ctx context.Context, addr uint32, data []byte, onlyIfChanged bool) (int, error) {
	expected := toc.CRC32(data)
	var checksum [4]byte
	binary.LittleEndian.PutUint32(checksum[:], expected)
	const checksumLength = len(checksum)

	if onlyIfChanged {
		observed, err := h.Read(ctx, addr, checksumLength)
		if err != nil {
			return 0, err
		}
		if len(observed) == checksumLength && binary.LittleEndian.Uint32(observed) == expected {
			return checksumLength, nil
		}
	}

	zeros := make([]byte, checksumLength)
	if err := h.Write(ctx, addr, zeros); err != nil {
		return 0, err
	}
	if err := h.Write(ctx, addr+checksumLength, data); err != nil {
		return 0, err
	}
	if err := h.Write(ctx, addr, checksum[:]); err != nil {
		return 0, err
	}
	return checksumLength, nil
}

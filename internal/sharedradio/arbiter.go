// Package sharedradio implements the reference-counted arbiter that lets
// many logical CRTP connections share one physical radio transport.
package sharedradio

import (
	"context"
	"fmt"
	"sync"

	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

// Factory opens a fresh physical transport, e.g. transport.OpenUSBRadio.
type Factory func(index int) (transport.Transport, error)

// Arbiter hands out a shared transport.Transport to any number of callers
// addressing the same physical dongle index, opening it lazily on first
// use and closing it once the last caller releases it. This mirrors the
// init-event/destroying-event handshake of the original SharedCrazyradio:
// a second Acquire that arrives while the first is still opening the
// device waits for that open to finish instead of opening a second
// handle, and a Release that drops the count to zero tears the transport
// down before any later Acquire can proceed.
type Arbiter struct {
	factory Factory

	mu     sync.Mutex
	radios map[int]*sharedState
}

type sharedState struct {
	transport transport.Transport
	refCount  int
	ready     chan struct{}
	openErr   error
	destroyed chan struct{}
}

// New returns an arbiter that opens physical transports with factory.
func New(factory Factory) *Arbiter {
	return &Arbiter{factory: factory, radios: make(map[int]*sharedState)}
}

// Handle is a reference-counted lease on one physical radio's shared
// transport, scoped to a single logical connection's RadioConfig. It
// implements transport.Transport itself: every SendAndReceive and
// ScanChannels call first reconfigures the shared physical transport for
// this handle's own cfg immediately before using it, so that two handles
// sharing the same dongle index but addressing different channels or
// addresses can interleave without one silently overriding the other's
// configuration (the underlying transport still only services one send
// at a time, same as the real Crazyradio dongle's half-duplex USB link).
// Callers must call Release (or Close) exactly once when done with it.
type Handle struct {
	arbiter *Arbiter
	index   int

	mu  sync.Mutex
	cfg crtp.RadioConfig
}

// Acquire increments the arbiter's reference count for the given dongle
// index, opening the physical transport if this is the first caller for
// that index, and returns a Handle scoped to cfg. Concurrent Acquire
// calls for the same index block on the same open rather than racing to
// open the device twice; Acquire calls for different indices proceed
// independently, each opening its own physical transport.
func (a *Arbiter) Acquire(ctx context.Context, index int, cfg crtp.RadioConfig) (*Handle, error) {
	a.mu.Lock()
	state, exists := a.radios[index]
	if !exists {
		state = &sharedState{ready: make(chan struct{}), destroyed: make(chan struct{})}
		a.radios[index] = state
		a.mu.Unlock()

		t, err := a.factory(index)
		a.mu.Lock()
		state.openErr = err
		state.transport = t
		if err == nil {
			state.refCount = 1
		} else {
			delete(a.radios, index)
		}
		close(state.ready)
		a.mu.Unlock()

		if err != nil {
			return nil, fmt.Errorf("sharedradio: failed to open radio %d: %w", index, err)
		}
	} else {
		a.mu.Unlock()

		select {
		case <-state.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		a.mu.Lock()
		if a.radios[index] != state || state.openErr != nil {
			a.mu.Unlock()
			return a.Acquire(ctx, index, cfg)
		}
		state.refCount++
		a.mu.Unlock()
	}

	return &Handle{arbiter: a, index: index, cfg: cfg}, nil
}

func (h *Handle) shared() (*sharedState, error) {
	h.arbiter.mu.Lock()
	state := h.arbiter.radios[h.index]
	h.arbiter.mu.Unlock()
	if state == nil || state.transport == nil {
		return nil, fmt.Errorf("sharedradio: radio %d is not open", h.index)
	}
	return state, nil
}

// Configure updates the RadioConfig this handle uses on its next send.
// It never touches the physical transport directly: the radio may be
// mid-use by another handle sharing the same index, so reconfiguration
// is deferred to immediately before this handle's own SendAndReceive or
// ScanChannels call.
func (h *Handle) Configure(ctx context.Context, cfg crtp.RadioConfig) error {
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
	return nil
}

// SendAndReceive reconfigures the shared physical transport for this
// handle's current cfg, then sends payload over it.
func (h *Handle) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	state, err := h.shared()
	if err != nil {
		return transport.Acknowledgment{}, err
	}
	h.mu.Lock()
	cfg := h.cfg
	h.mu.Unlock()
	if err := state.transport.Configure(ctx, cfg); err != nil {
		return transport.Acknowledgment{}, err
	}
	return state.transport.SendAndReceive(ctx, payload)
}

// ScanChannels reconfigures the shared physical transport for this
// handle's current cfg, then scans rate's channels over it.
func (h *Handle) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	state, err := h.shared()
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	cfg := h.cfg
	h.mu.Unlock()
	if err := state.transport.Configure(ctx, cfg); err != nil {
		return nil, err
	}
	return state.transport.ScanChannels(ctx, rate)
}

// Close releases this handle, equivalent to Release.
func (h *Handle) Close() error {
	return h.Release()
}

// Release decrements the reference count and closes the physical
// transport once the last handle for this index has been released.
func (h *Handle) Release() error {
	a := h.arbiter
	a.mu.Lock()
	defer a.mu.Unlock()
	state := a.radios[h.index]
	if state == nil {
		return nil
	}
	state.refCount--
	if state.refCount > 0 {
		return nil
	}

	// Close while still holding the arbiter lock, so that no later Acquire
	// can open the same dongle before this transport has been torn down.
	delete(a.radios, h.index)
	defer close(state.destroyed)
	return state.transport.Close()
}

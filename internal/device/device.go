// Package device implements the CRTP device layer: the request/response
// primitive (run_command) that every higher-level subsystem (memory, log,
// bootloader) builds on, and the pump that feeds a link
// worker's inbound packets into a dispatcher.
package device

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"crtplink/internal/dispatcher"
	"crtplink/internal/link"
	"crtplink/pkg/crtp"
)

const (
	// DefaultAttempts is how many times RunCommand resends a command
	// before giving up.
	DefaultAttempts = 3
	// DefaultTimeout bounds how long RunCommand waits for a single
	// attempt's response before resending.
	DefaultTimeout = 200 * time.Millisecond
)

// Device ties a link worker to a dispatcher: it pumps every packet the
// worker receives into the dispatcher, and offers RunCommand as the
// universal request/response primitive on top of that.
type Device struct {
	worker     *link.Worker
	dispatcher *dispatcher.Dispatcher
}

// New returns a device pumping w's inbound packets into d. Call Start to
// begin the pump.
func New(w *link.Worker, d *dispatcher.Dispatcher) *Device {
	return &Device{worker: w, dispatcher: d}
}

// Dispatcher exposes the underlying dispatcher so subsystems can register
// their own handlers (e.g. log block data, console text).
func (dev *Device) Dispatcher() *dispatcher.Dispatcher {
	return dev.dispatcher
}

// Send transmits pkt without waiting for any response, for subsystems
// (e.g. bootloader LOAD_BUFFER/RESET) that have nothing to match a
// reply against.
func (dev *Device) Send(ctx context.Context, pkt crtp.Packet) error {
	return dev.worker.Send(ctx, pkt)
}

// Start runs the receive pump until ctx is cancelled or the worker's
// inbound channel closes.
func (dev *Device) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case pkt, ok := <-dev.worker.Inbound():
				if !ok {
					return
				}
				dev.dispatcher.Dispatch(pkt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// CommandOptions tunes a single RunCommand call.
type CommandOptions struct {
	Attempts int
	Timeout  time.Duration
}

func (o CommandOptions) withDefaults() CommandOptions {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// RunCommand sends command (optionally followed by data) on port/channel,
// retrying up to opts.Attempts times at opts.Timeout intervals, and returns
// the response payload with the command's own prefix bytes stripped off.
// The response matcher only requires the command prefix to match, so data
// appended after it (e.g. a read length or a write payload) never has to
// be echoed back. The matcher is registered once, before the first attempt
// is sent, and stays registered across every retry of this single call — a
// response to attempt 2 still satisfies a matcher set up before attempt 1.
func (dev *Device) RunCommand(ctx context.Context, port crtp.Port, channel uint8, command []byte, data []byte, opts CommandOptions) ([]byte, error) {
	opts = opts.withDefaults()
	portCopy := port

	result, unregister := dev.dispatcher.RegisterMatcher(&portCopy, func(pkt crtp.Packet) bool {
		return pkt.Channel&0x3 == channel&0x3 && len(pkt.Data) >= len(command) && bytes.Equal(pkt.Data[:len(command)], command)
	})
	defer unregister()

	body := make([]byte, 0, len(command)+len(data))
	body = append(body, command...)
	body = append(body, data...)
	pkt := crtp.NewPacket(port, channel, body)

	var lastErr error
	for attempt := 0; attempt < opts.Attempts; attempt++ {
		if err := dev.worker.Send(ctx, pkt); err != nil {
			return nil, fmt.Errorf("device: failed to send command: %w", err)
		}

		timer := time.NewTimer(opts.Timeout)
		select {
		case resp := <-result:
			timer.Stop()
			return resp.Data[len(command):], nil
		case <-timer.C:
			lastErr = crtp.ErrTimeout
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("device: %w after %d attempts on port %s", lastErr, opts.Attempts, port)
}

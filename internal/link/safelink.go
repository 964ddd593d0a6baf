// Package link implements the safe-link sliding-window protocol and the
// per-connection worker loop that drives a shared radio transport.
package link

import "sync"

// SafeLinkState tracks the up/down sequence bits of the safe-link sliding
// window protocol for one logical connection. The zero value is not
// ready to use; call NewSafeLinkState.
//
// The up bit toggles between 0 and 8 every time the peer acknowledges a
// packet; the down bit toggles between 0 and 4 whenever the peer's
// acknowledgment data echoes back our current down value, confirming it
// received our last down-toggle. Bits are OR-ed into header bits 2-3 of
// every outgoing packet once safe-link mode has been acquired.
type SafeLinkState struct {
	mu       sync.Mutex
	enabled  bool
	acquired bool
	up       uint8
	down     uint8

	observable *Observable
}

// EnabledAcquired is a snapshot of the enabled/acquired pair, the value
// type delivered by SafeLinkState.Subscribe.
type EnabledAcquired struct {
	Enabled  bool
	Acquired bool
}

// NewSafeLinkState returns a state with safe-link disabled and the
// sequence bits at their pre-acquisition defaults (8, 4).
func NewSafeLinkState() *SafeLinkState {
	return &SafeLinkState{
		up: 8, down: 4,
		observable: NewObservable(EnabledAcquired{}),
	}
}

// Subscribe returns a channel delivering the current enabled/acquired
// pair immediately and every subsequent distinct pair after that, plus a
// function to unsubscribe.
func (s *SafeLinkState) Subscribe() (<-chan EnabledAcquired, func()) {
	raw, unsubscribe := s.observable.Subscribe()
	out := make(chan EnabledAcquired, 1)
	go func() {
		defer close(out)
		for v := range raw {
			select {
			case out <- v.(EnabledAcquired):
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- v.(EnabledAcquired):
				default:
				}
			}
		}
	}()
	return out, unsubscribe
}

func (s *SafeLinkState) publish() {
	s.observable.Set(EnabledAcquired{Enabled: s.enabled, Acquired: s.acquired})
}

// SetEnabled marks whether this connection should attempt to negotiate
// safe-link mode at all.
func (s *SafeLinkState) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.publish()
	s.mu.Unlock()
}

// Enabled reports whether safe-link negotiation is turned on for this
// connection.
func (s *SafeLinkState) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Acquired reports whether the safe-link handshake has completed.
func (s *SafeLinkState) Acquired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// SetAcquired transitions the acquired flag. Becoming acquired resets the
// sequence bits to (0, 0); losing acquisition resets them back to their
// pre-negotiation defaults (8, 4) so that a fresh handshake starts from
// the same state as a brand new connection.
func (s *SafeLinkState) SetAcquired(acquired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired == acquired {
		return
	}
	s.acquired = acquired
	if acquired {
		s.up, s.down = 0, 0
	} else {
		s.up, s.down = 8, 4
	}
	s.publish()
}

// Bits returns the safe-link sequence bits to OR into the next outgoing
// packet's header.
func (s *SafeLinkState) Bits() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up | s.down
}

// Update advances the sequence bits in response to one received
// acknowledgment. It is a no-op unless safe-link mode has been acquired
// and the peer actually acknowledged the packet: an unacknowledged packet
// must be retransmitted unchanged, including its sequence bits.
func (s *SafeLinkState) Update(ack bool, responseData []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acquired || !ack {
		return
	}

	s.up = 8 - s.up
	if len(responseData) > 0 && responseData[0]&0x04 == s.down {
		s.down = 4 - s.down
	}
}

// Package dispatcher routes incoming CRTP packets to the handlers
// registered for their port, plus any wildcard handlers registered for
// every port.
package dispatcher

import (
	"context"
	"sync"

	"crtplink/pkg/crtp"
)

// Handler receives one dispatched packet.
type Handler func(crtp.Packet)

const wildcardKey = -1

type entry struct {
	id int
	fn Handler
}

// Dispatcher keeps per-port (and wildcard) lists of synchronous and
// asynchronous handlers and fans out each received packet in a fixed
// order: port-scoped synchronous handlers, then port-scoped asynchronous
// handlers, then wildcard synchronous handlers, then wildcard
// asynchronous handlers. Synchronous handlers run inline on the calling
// goroutine (the one feeding packets into Dispatch, usually a link
// worker's receive loop) and must not block; asynchronous handlers each
// run on their own goroutine.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    int
	syncByKey map[int][]entry
	asyncByKey map[int][]entry
}

// New returns an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		syncByKey:  make(map[int][]entry),
		asyncByKey: make(map[int][]entry),
	}
}

func keyFor(port *crtp.Port) int {
	if port == nil {
		return wildcardKey
	}
	return int(*port)
}

// Register adds h for the given port (nil means every port) and returns a
// function that removes it again. async selects whether h runs inline
// (false) or on its own goroutine (true) when dispatched.
func (d *Dispatcher) Register(port *crtp.Port, async bool, h Handler) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	key := keyFor(port)
	bucket := d.syncByKey
	if async {
		bucket = d.asyncByKey
	}
	bucket[key] = append(bucket[key], entry{id: id, fn: h})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		bucket[key] = removeByID(bucket[key], id)
	}
}

func removeByID(entries []entry, id int) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// Dispatch delivers pkt to every registered handler in the fixed order
// described on Dispatcher.
func (d *Dispatcher) Dispatch(pkt crtp.Packet) {
	key := int(pkt.Port)

	d.mu.RLock()
	portSync := append([]entry(nil), d.syncByKey[key]...)
	portAsync := append([]entry(nil), d.asyncByKey[key]...)
	wildSync := append([]entry(nil), d.syncByKey[wildcardKey]...)
	wildAsync := append([]entry(nil), d.asyncByKey[wildcardKey]...)
	d.mu.RUnlock()

	for _, e := range portSync {
		e.fn(pkt)
	}
	for _, e := range portAsync {
		go e.fn(pkt)
	}
	for _, e := range wildSync {
		e.fn(pkt)
	}
	for _, e := range wildAsync {
		go e.fn(pkt)
	}
}

// Queue is a bounded, best-effort packet queue fed by an asynchronous
// handler registered on creation.
type Queue struct {
	ch         chan crtp.Packet
	unregister func()
}

// C returns the channel to read delivered packets from.
func (q *Queue) C() <-chan crtp.Packet {
	return q.ch
}

// Close unregisters the queue's handler. Safe to call once.
func (q *Queue) Close() {
	q.unregister()
}

// CreatePacketQueue registers a queue that collects every packet matching
// port (nil for every port) up to capacity, dropping the newest packet if
// the queue is full.
func (d *Dispatcher) CreatePacketQueue(port *crtp.Port, capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	ch := make(chan crtp.Packet, capacity)
	unregister := d.Register(port, true, func(pkt crtp.Packet) {
		select {
		case ch <- pkt:
		default:
		}
	})
	return &Queue{ch: ch, unregister: unregister}
}

// WaitForNextPacket blocks until a packet matching the optional matcher
// function arrives on port (nil for every port), or ctx is cancelled. The
// matcher is registered before this call returns control to the caller
// conceptually, i.e. immediately inside WaitForNextPacket, so callers that
// need the matcher active before they send a request should use
// RegisterMatcher directly instead of calling WaitForNextPacket after the
// send.
func (d *Dispatcher) WaitForNextPacket(ctx context.Context, port *crtp.Port, matcher func(crtp.Packet) bool) (crtp.Packet, error) {
	result, unregister := d.RegisterMatcher(port, matcher)
	defer unregister()

	select {
	case pkt := <-result:
		return pkt, nil
	case <-ctx.Done():
		return crtp.Packet{}, ctx.Err()
	}
}

// RegisterMatcher registers a one-shot handler that delivers the first
// packet satisfying matcher (or any packet, if matcher is nil) on the
// returned channel, then unregisters itself. Callers that need the
// matcher active before sending a request (e.g. device.RunCommand) should
// call RegisterMatcher first, send, and only then read from the returned
// channel.
func (d *Dispatcher) RegisterMatcher(port *crtp.Port, matcher func(crtp.Packet) bool) (<-chan crtp.Packet, func()) {
	result := make(chan crtp.Packet, 1)
	var once sync.Once
	var unregister func()

	unregister = d.Register(port, true, func(pkt crtp.Packet) {
		if matcher != nil && !matcher(pkt) {
			return
		}
		once.Do(func() {
			result <- pkt
			unregister()
		})
	})

	return result, unregister
}

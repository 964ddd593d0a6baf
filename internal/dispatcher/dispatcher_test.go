package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crtplink/pkg/crtp"
)

func portPtr(p crtp.Port) *crtp.Port { return &p }

func TestDispatchOrder(t *testing.T) {
	d := New()
	var order []string

	port := crtp.PortLog
	d.Register(&port, false, func(crtp.Packet) { order = append(order, "port-sync") })
	d.Register(nil, false, func(crtp.Packet) { order = append(order, "wild-sync") })

	d.Dispatch(crtp.NewPacket(crtp.PortLog, 0, nil))

	require.Equal(t, []string{"port-sync", "wild-sync"}, order)
}

func TestCreatePacketQueue(t *testing.T) {
	d := New()
	port := crtp.PortMem
	q := d.CreatePacketQueue(&port, 4)
	defer q.Close()

	d.Dispatch(crtp.NewPacket(crtp.PortMem, 1, []byte{9}))
	d.Dispatch(crtp.NewPacket(crtp.PortLog, 1, []byte{9}))

	select {
	case pkt := <-q.C():
		assert.Equal(t, crtp.PortMem, pkt.Port)
	case <-time.After(time.Second):
		t.Fatal("expected a packet on the queue")
	}

	select {
	case <-q.C():
		t.Fatal("did not expect a second packet")
	default:
	}
}

func TestWaitForNextPacketMatches(t *testing.T) {
	d := New()
	port := crtp.PortLog

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan crtp.Packet, 1)
	errCh := make(chan error, 1)
	go func() {
		pkt, err := d.WaitForNextPacket(ctx, &port, func(p crtp.Packet) bool {
			return len(p.Data) > 0 && p.Data[0] == 0x7
		})
		resultCh <- pkt
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	d.Dispatch(crtp.NewPacket(crtp.PortLog, 0, []byte{0x1}))
	d.Dispatch(crtp.NewPacket(crtp.PortLog, 0, []byte{0x7}))

	require.NoError(t, <-errCh)
	assert.Equal(t, []byte{0x7}, (<-resultCh).Data)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	d := New()
	calls := 0
	unregister := d.Register(nil, false, func(crtp.Packet) { calls++ })
	unregister()

	d.Dispatch(crtp.NewPacket(crtp.PortConsole, 0, nil))
	assert.Equal(t, 0, calls)
}

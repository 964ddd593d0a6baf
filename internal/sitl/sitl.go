package sitl

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

// GRPCTransport talks CRTP to a simulated drone fleet managed by a central
// SITL daemon over gRPC, matching the shape of the teacher's ASICDevice
// wrapper around a generated client (dial once, verify with a lightweight
// call, then issue typed RPCs with a per-call timeout).
type GRPCTransport struct {
	conn   *grpc.ClientConn
	client RadioClient
	cfg    crtp.RadioConfig
}

// DialGRPC connects to a SITL daemon at addr and verifies it is alive with
// a Ping call before returning.
func DialGRPC(addr string) (*GRPCTransport, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		return nil, fmt.Errorf("sitl: failed to dial %s: %w", addr, err)
	}

	t := &GRPCTransport{conn: conn, client: NewRadioClient(conn)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := t.client.Ping(ctx, &PingRequest{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sitl: daemon at %s did not respond to ping: %w", addr, err)
	}

	return t, nil
}

// Configure records the radio configuration to tag every subsequent
// Exchange call with; the SITL daemon uses it to route the packet to the
// right simulated drone.
func (t *GRPCTransport) Configure(ctx context.Context, cfg crtp.RadioConfig) error {
	t.cfg = cfg
	return nil
}

// SendAndReceive forwards one packet exchange to the SITL daemon.
func (t *GRPCTransport) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	resp, err := t.client.Exchange(ctx, &ExchangeRequest{
		Channel:  t.cfg.Channel,
		DataRate: int(t.cfg.DataRate),
		Address:  t.cfg.Address.String(),
		Payload:  payload,
	})
	if err != nil {
		return transport.Acknowledgment{}, fmt.Errorf("sitl: exchange failed: %w", crtp.ErrIO)
	}
	return transport.Acknowledgment{Ack: resp.Ack, RetryCount: resp.RetryCount, Data: resp.Data}, nil
}

// ScanChannels is not meaningful over a point-to-point SITL connection;
// the single configured channel is reported as present.
func (t *GRPCTransport) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	return []int{t.cfg.Channel}, nil
}

// Close tears down the underlying gRPC connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

// TCPTransport implements the simpler length-prefixed TCP framing named in
// the system overview's L0 layer: each frame is a two-byte big-endian
// length followed by that many bytes of CRTP packet.
type TCPTransport struct {
	conn net.Conn
}

// DialTCP connects to a SITL daemon speaking the length-prefixed framing.
func DialTCP(addr string) (*TCPTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("sitl: failed to dial %s: %w", addr, err)
	}
	return &TCPTransport{conn: conn}, nil
}

// Configure is a no-op for the TCP transport: the simulated drone on the
// other end of the socket is already a fixed, single target.
func (t *TCPTransport) Configure(ctx context.Context, cfg crtp.RadioConfig) error {
	return nil
}

// SendAndReceive writes one length-prefixed frame and reads the response
// frame, honouring ctx's deadline on both sides of the round trip.
func (t *TCPTransport) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetDeadline(deadline)
	} else {
		t.conn.SetDeadline(time.Time{})
	}

	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(payload)))
	if _, err := t.conn.Write(header[:]); err != nil {
		return transport.Acknowledgment{}, fmt.Errorf("sitl: %w: %v", crtp.ErrIO, err)
	}
	if _, err := t.conn.Write(payload); err != nil {
		return transport.Acknowledgment{}, fmt.Errorf("sitl: %w: %v", crtp.ErrIO, err)
	}

	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return transport.Acknowledgment{}, fmt.Errorf("sitl: %w: %v", crtp.ErrIO, err)
	}
	n := binary.BigEndian.Uint16(header[:])
	body := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(t.conn, body); err != nil {
			return transport.Acknowledgment{}, fmt.Errorf("sitl: %w: %v", crtp.ErrIO, err)
		}
	}

	return transport.Acknowledgment{Ack: true, Data: body}, nil
}

// ScanChannels always reports the single implicit channel of the peer.
func (t *TCPTransport) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	return []int{0}, nil
}

// Close closes the underlying TCP socket.
func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

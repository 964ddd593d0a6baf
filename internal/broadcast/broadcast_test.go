package broadcast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crtplink/internal/transport"
	"crtplink/pkg/crtp"
)

type recordingTransport struct {
	sent [][]byte
}

func (r *recordingTransport) Configure(ctx context.Context, cfg crtp.RadioConfig) error { return nil }
func (r *recordingTransport) SendAndReceive(ctx context.Context, payload []byte) (transport.Acknowledgment, error) {
	r.sent = append(r.sent, append([]byte(nil), payload...))
	return transport.Acknowledgment{Ack: true}, nil
}
func (r *recordingTransport) ScanChannels(ctx context.Context, rate crtp.DataRate) ([]int, error) {
	return nil, nil
}
func (r *recordingTransport) Close() error { return nil }

func TestBroadcasterSendPacket(t *testing.T) {
	tr := &recordingTransport{}
	b := New(tr)

	require.NoError(t, b.SendPacket(context.Background(), crtp.PortLocalization, 1, []byte{0xAA}))
	require.Len(t, tr.sent, 1)

	pkt, err := crtp.FromBytes(tr.sent[0])
	require.NoError(t, err)
	assert.Equal(t, crtp.PortLocalization, pkt.Port)
	assert.Equal(t, []byte{0xAA}, pkt.Data)
}

func TestBroadcasterEmergencyStop(t *testing.T) {
	tr := &recordingTransport{}
	b := New(tr)

	require.NoError(t, b.EmergencyStop(context.Background()))
	require.Len(t, tr.sent, 1)

	pkt, err := crtp.FromBytes(tr.sent[0])
	require.NoError(t, err)
	assert.Equal(t, crtp.PortLocalization, pkt.Port)
	assert.Equal(t, []byte{commandEnableEmergencyStop}, pkt.Data)
}

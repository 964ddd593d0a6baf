// Package sitl implements the software-in-the-loop transport: a simulated
// drone reachable over the network, either via a simple length-prefixed
// TCP framing or via gRPC for fleets of simulated drones managed by a
// central test harness.
package sitl

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the gRPC stubs below exchange plain JSON-tagged Go
// structs instead of protoc-generated protobuf messages, since this
// module cannot invoke protoc. grpc-go is built to accept arbitrary wire
// codecs for exactly this situation.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// PingRequest is an empty health-check request.
type PingRequest struct{}

// PingResponse reports the number of logical connections the SITL daemon
// is currently serving.
type PingResponse struct {
	ActiveConnections int `json:"active_connections"`
}

// ExchangeRequest is one CRTP send-and-receive round trip forwarded to a
// simulated drone identified by its radio configuration.
type ExchangeRequest struct {
	Channel  int    `json:"channel"`
	DataRate int    `json:"data_rate"`
	Address  string `json:"address"`
	Payload  []byte `json:"payload"`
}

// ExchangeResponse mirrors transport.Acknowledgment over the wire.
type ExchangeResponse struct {
	Ack        bool   `json:"ack"`
	RetryCount int    `json:"retry_count"`
	Data       []byte `json:"data"`
}

// RadioServer is implemented by a SITL daemon that simulates one or more
// drones.
type RadioServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	Exchange(context.Context, *ExchangeRequest) (*ExchangeResponse, error)
}

// RadioClient is the hand-written equivalent of a protoc-generated client
// stub for RadioServer.
type RadioClient interface {
	Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error)
	Exchange(ctx context.Context, in *ExchangeRequest, opts ...grpc.CallOption) (*ExchangeResponse, error)
}

const serviceName = "crtplink.sitl.Radio"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RadioServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Exchange", Handler: exchangeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sitl.go",
}

func pingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RadioServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Ping"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RadioServer).Ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exchangeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ExchangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RadioServer).Exchange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Exchange"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RadioServer).Exchange(ctx, req.(*ExchangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterRadioServer wires a RadioServer implementation into a grpc.Server
// using the JSON codec declared above.
func RegisterRadioServer(s *grpc.Server, srv RadioServer) {
	s.RegisterService(&serviceDesc, srv)
}

type radioClient struct {
	cc *grpc.ClientConn
}

// NewRadioClient wraps an established connection with typed RPC methods.
func NewRadioClient(cc *grpc.ClientConn) RadioClient {
	return &radioClient{cc: cc}
}

func (c *radioClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	out := new(PingResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Ping", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *radioClient) Exchange(ctx context.Context, in *ExchangeRequest, opts ...grpc.CallOption) (*ExchangeResponse, error) {
	out := new(ExchangeResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Exchange", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

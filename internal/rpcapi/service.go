package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the gRPC service name, mirroring what a
// `service Isolator { ... }` block in a .proto file would generate.
const ServiceName = "isolator.v1.Isolator"

// Server is the service implementation contract, shaped like what
// protoc-gen-go-grpc would generate for a service with one bidi-streaming
// RPC and four unary RPCs.
type Server interface {
	AcquireIsolate(stream AcquireIsolateServer) error
	GetStatus(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
	KillIsolates(ctx context.Context, req *KillIsolatesRequest) (*KillIsolatesResponse, error)
	Drain(ctx context.Context, req *DrainRequest) (*DrainResponse, error)
	Kill(ctx context.Context, req *KillRequest) (*KillResponse, error)
}

// AcquireIsolateServer is the server-side view of the bidi stream.
type AcquireIsolateServer interface {
	Send(*IsolateServerMessage) error
	Recv() (*IsolateClientMessage, error)
	Context() context.Context
}

// AcquireIsolateClient is the client-side view of the bidi stream.
type AcquireIsolateClient interface {
	Send(*IsolateClientMessage) error
	Recv() (*IsolateServerMessage, error)
	grpc.ClientStream
}

type acquireIsolateServerStream struct {
	grpc.ServerStream
}

func (s *acquireIsolateServerStream) Send(m *IsolateServerMessage) error {
	return s.ServerStream.SendMsg(m)
}

func (s *acquireIsolateServerStream) Recv() (*IsolateClientMessage, error) {
	m := new(IsolateClientMessage)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type acquireIsolateClientStream struct {
	grpc.ClientStream
}

func (c *acquireIsolateClientStream) Send(m *IsolateClientMessage) error {
	return c.ClientStream.SendMsg(m)
}

func (c *acquireIsolateClientStream) Recv() (*IsolateServerMessage, error) {
	m := new(IsolateServerMessage)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func acquireIsolateHandler(srv any, stream grpc.ServerStream) error {
	return srv.(Server).AcquireIsolate(&acquireIsolateServerStream{ServerStream: stream})
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StatusRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetStatus(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).GetStatus(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func killIsolatesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(KillIsolatesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).KillIsolates(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/KillIsolates"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).KillIsolates(ctx, req.(*KillIsolatesRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func drainHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(DrainRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Drain(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Drain"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Drain(ctx, req.(*DrainRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func killHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(KillRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Kill(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Kill"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Kill(ctx, req.(*KillRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-registered equivalent of what protoc-gen-go-grpc
// emits for a service with one bidi-streaming method and four unary
// methods.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "KillIsolates", Handler: killIsolatesHandler},
		{MethodName: "Drain", Handler: drainHandler},
		{MethodName: "Kill", Handler: killHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "AcquireIsolate",
			Handler:       acquireIsolateHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "isolator.proto",
}

// RegisterServer registers srv against the given gRPC server.
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is the client-side stub, mirroring protoc-gen-go-grpc's generated
// client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a grpc.ClientConnInterface (a *grpc.ClientConn in
// production, or any in-process channel implementing the interface).
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) AcquireIsolate(ctx context.Context, opts ...grpc.CallOption) (AcquireIsolateClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/AcquireIsolate", opts...)
	if err != nil {
		return nil, err
	}
	return &acquireIsolateClientStream{ClientStream: stream}, nil
}

func (c *Client) GetStatus(ctx context.Context, req *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	resp := new(StatusResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetStatus", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) KillIsolates(ctx context.Context, req *KillIsolatesRequest, opts ...grpc.CallOption) (*KillIsolatesResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	resp := new(KillIsolatesResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/KillIsolates", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Drain(ctx context.Context, req *DrainRequest, opts ...grpc.CallOption) (*DrainResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	resp := new(DrainResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Drain", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Kill(ctx context.Context, req *KillRequest, opts ...grpc.CallOption) (*KillResponse, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	resp := new(KillResponse)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/Kill", req, resp, opts...); err != nil {
		return nil, err
	}
	return resp, nil
}

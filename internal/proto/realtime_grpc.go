// Package proto holds the gRPC service descriptor for the realtime stream.
// Messages are google.protobuf.Struct envelopes of the form
// {"event": "...", "data": ...}, so no generated message types are needed.
package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	Realtime_ServiceName            = "plotroom.realtime.Realtime"
	Realtime_Connect_FullMethodName = "/plotroom.realtime.Realtime/Connect"
)

// RealtimeServer is the server API for the Realtime service.
type RealtimeServer interface {
	Connect(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
}

// UnimplementedRealtimeServer can be embedded to satisfy RealtimeServer.
type UnimplementedRealtimeServer struct{}

func (UnimplementedRealtimeServer) Connect(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error {
	return errUnimplemented("Connect")
}

func RegisterRealtimeServer(s grpc.ServiceRegistrar, srv RealtimeServer) {
	s.RegisterService(&Realtime_ServiceDesc, srv)
}

func _Realtime_Connect_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(RealtimeServer).Connect(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// Realtime_ServiceDesc is the grpc.ServiceDesc for the Realtime service.
var Realtime_ServiceDesc = grpc.ServiceDesc{
	ServiceName: Realtime_ServiceName,
	HandlerType: (*RealtimeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       _Realtime_Connect_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "plotroom/realtime.proto",
}

// RealtimeClient is the client API for the Realtime service.
type RealtimeClient interface {
	Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[structpb.Struct, structpb.Struct], error)
}

type realtimeClient struct {
	cc grpc.ClientConnInterface
}

func NewRealtimeClient(cc grpc.ClientConnInterface) RealtimeClient {
	return &realtimeClient{cc}
}

func (c *realtimeClient) Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[structpb.Struct, structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &Realtime_ServiceDesc.Streams[0], Realtime_Connect_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}

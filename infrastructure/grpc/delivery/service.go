// Package delivery declares the DeliveryService gRPC contract.
//
// The service carries google.protobuf.Struct envelopes both ways so no
// generated message types are needed:
//
//	service DeliveryService {
//	  rpc Connect(stream google.protobuf.Struct) returns (stream google.protobuf.Struct);
//	}
package delivery

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName                            = "chat.v1.DeliveryService"
	DeliveryService_Connect_FullMethodName = "/chat.v1.DeliveryService/Connect"
)

// DeliveryServiceServer is the server API for DeliveryService.
type DeliveryServiceServer interface {
	Connect(grpc.BidiStreamingServer[structpb.Struct, structpb.Struct]) error
}

// DeliveryServiceClient is the client API for DeliveryService.
type DeliveryServiceClient interface {
	Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[structpb.Struct, structpb.Struct], error)
}

type deliveryServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDeliveryServiceClient(cc grpc.ClientConnInterface) DeliveryServiceClient {
	return &deliveryServiceClient{cc}
}

func (c *deliveryServiceClient) Connect(ctx context.Context, opts ...grpc.CallOption) (grpc.BidiStreamingClient[structpb.Struct, structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &DeliveryService_ServiceDesc.Streams[0], DeliveryService_Connect_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}, nil
}

func RegisterDeliveryServiceServer(s grpc.ServiceRegistrar, srv DeliveryServiceServer) {
	s.RegisterService(&DeliveryService_ServiceDesc, srv)
}

func _DeliveryService_Connect_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(DeliveryServiceServer).Connect(&grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

var DeliveryService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeliveryServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       _DeliveryService_Connect_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "chat/v1/delivery.proto",
}

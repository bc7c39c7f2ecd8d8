package handlers

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "stepscope.v1.ExtractionService"

// Full method names
const (
	ParseMethod   = "/" + ServiceName + "/Parse"
	ExtractMethod = "/" + ServiceName + "/Extract"
)

// ExtractionServiceServer is the server API. Requests and responses are
// google.protobuf.Struct messages.
type ExtractionServiceServer interface {
	Parse(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Extract(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterExtractionServiceServer registers srv on s
func RegisterExtractionServiceServer(s grpc.ServiceRegistrar, srv ExtractionServiceServer) {
	s.RegisterService(&ExtractionServiceDesc, srv)
}

func parseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractionServiceServer).Parse(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ParseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExtractionServiceServer).Parse(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func extractHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractionServiceServer).Extract(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ExtractMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExtractionServiceServer).Extract(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ExtractionServiceDesc describes the service for grpc.Server
var ExtractionServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExtractionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Parse", Handler: parseHandler},
		{MethodName: "Extract", Handler: extractHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stepscope/v1/extraction.proto",
}

// ExtractionClient calls the extraction service
type ExtractionClient struct {
	cc grpc.ClientConnInterface
}

// NewExtractionClient creates a client over cc
func NewExtractionClient(cc grpc.ClientConnInterface) *ExtractionClient {
	return &ExtractionClient{cc: cc}
}

// Parse calls the Parse RPC
func (c *ExtractionClient) Parse(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ParseMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Extract calls the Extract RPC
func (c *ExtractionClient) Extract(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ExtractMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

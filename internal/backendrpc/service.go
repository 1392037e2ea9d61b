package backendrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name Client dials and
// Server registers under. There is no .proto file defining it; it exists
// purely as the string grpc's wire protocol needs to route a method call.
const ServiceName = "codecbridge.backendrpc.Backend"

// backendServer is what Server implements and the generated-style handlers
// below dispatch to. Every method takes and returns a structpb.Struct
// envelope (see envelope.go) instead of a typed request/response message.
type backendServer interface {
	Configure(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SubmitInput(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	PollOutput(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	WouldSaturate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SignalEOF(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Reset(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Close(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// unaryHandler builds a grpc.MethodDesc handler the way protoc-gen-go-grpc
// would for a single unary RPC, without the generated request/response
// types: decode always produces a *structpb.Struct, and call dispatches to
// the matching backendServer method.
func unaryHandler(method string, call func(backendServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		impl := srv.(backendServer)
		if interceptor == nil {
			return call(impl, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(impl, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*backendServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Configure",
			Handler: unaryHandler("Configure", func(s backendServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Configure(ctx, in)
			}),
		},
		{
			MethodName: "SubmitInput",
			Handler: unaryHandler("SubmitInput", func(s backendServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.SubmitInput(ctx, in)
			}),
		},
		{
			MethodName: "PollOutput",
			Handler: unaryHandler("PollOutput", func(s backendServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.PollOutput(ctx, in)
			}),
		},
		{
			MethodName: "WouldSaturate",
			Handler: unaryHandler("WouldSaturate", func(s backendServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.WouldSaturate(ctx, in)
			}),
		},
		{
			MethodName: "SignalEOF",
			Handler: unaryHandler("SignalEOF", func(s backendServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.SignalEOF(ctx, in)
			}),
		},
		{
			MethodName: "Reset",
			Handler: unaryHandler("Reset", func(s backendServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Reset(ctx, in)
			}),
		},
		{
			MethodName: "Close",
			Handler: unaryHandler("Close", func(s backendServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Close(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "backendrpc",
}

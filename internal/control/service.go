package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ServiceName = "avatar.control.v1.TurnControl"

// TurnControlServer is the operator surface of one avatar agent. Messages
// are protobuf well-known types so no generated code is needed.
type TurnControlServer interface {
	GetState(ctx context.Context, in *emptypb.Empty) (*wrapperspb.StringValue, error)
	Stop(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
	Resume(ctx context.Context, in *emptypb.Empty) (*emptypb.Empty, error)
	Say(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error)
}

func RegisterTurnControlServer(s grpc.ServiceRegistrar, srv TurnControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TurnControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetState", Handler: unary(func() any { return new(emptypb.Empty) }, "GetState",
			func(s TurnControlServer, ctx context.Context, in any) (any, error) {
				return s.GetState(ctx, in.(*emptypb.Empty))
			})},
		{MethodName: "Stop", Handler: unary(func() any { return new(emptypb.Empty) }, "Stop",
			func(s TurnControlServer, ctx context.Context, in any) (any, error) {
				return s.Stop(ctx, in.(*emptypb.Empty))
			})},
		{MethodName: "Resume", Handler: unary(func() any { return new(emptypb.Empty) }, "Resume",
			func(s TurnControlServer, ctx context.Context, in any) (any, error) {
				return s.Resume(ctx, in.(*emptypb.Empty))
			})},
		{MethodName: "Say", Handler: unary(func() any { return new(wrapperspb.StringValue) }, "Say",
			func(s TurnControlServer, ctx context.Context, in any) (any, error) {
				return s.Say(ctx, in.(*wrapperspb.StringValue))
			})},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "avatar/control/v1/control.proto",
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// unary builds a grpc.MethodDesc handler the way protoc-gen-go-grpc does.
func unary(newIn func() any, name string, call func(TurnControlServer, context.Context, any) (any, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newIn()
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(TurnControlServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req)
		}
		return interceptor(ctx, in, info, handler)
	}
}

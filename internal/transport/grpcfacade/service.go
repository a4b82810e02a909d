// Package grpcfacade exposes a single RPC, SubmitCommand, over
// google.golang.org/grpc. There is no .proto file or protoc step
// available in this environment, so the wire shape is a hand-written
// grpc.ServiceDesc carrying google.golang.org/protobuf's pre-generated
// structpb.Struct — itself real generated protobuf code shipped in
// the protobuf module, so the default grpc codec handles it exactly
// as it would handle any other generated message, without us
// authoring generated code by hand. This is deliberately one RPC, not
// a general front end: route dispatch is out of scope for the core
// engine (spec.md §1).
package grpcfacade

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName        = "singlewriter.engine.v1.Engine"
	submitCommandMethod = "/" + serviceName + "/SubmitCommand"
)

// CommandServer is implemented by Facade, which cmd/engine registers;
// SubmitCommand decodes req into a core.Command and submits it
// through the coordinator.
type CommandServer interface {
	SubmitCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a one-RPC service. Register it with a *grpc.Server
// via RegisterServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CommandServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitCommand",
			Handler:    submitCommandHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "engine.grpcfacade",
}

// RegisterServer registers impl against s under ServiceDesc.
func RegisterServer(s grpc.ServiceRegistrar, impl CommandServer) {
	s.RegisterService(&ServiceDesc, impl)
}

func submitCommandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommandServer).SubmitCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitCommandMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommandServer).SubmitCommand(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

package grpctransport

import (
	"context"

	"google.golang.org/grpc"
)

const routeMethodName = "/playhouse.Router/Route"

// routeServer is implemented by Transport; kept unexported since nothing
// outside this package ever calls it directly, only through the generated-
// style grpc.ServiceDesc below.
type routeServer interface {
	route(ctx context.Context, envelope rawMessage) (rawMessage, error)
}

func routeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(rawMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(routeServer).route(ctx, *in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: routeMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(routeServer).route(ctx, *req.(*rawMessage))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "playhouse.Router",
	HandlerType: (*routeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Route", Handler: routeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "playhouse/router.proto",
}

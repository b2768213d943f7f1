package wire

import (
	"context"

	"google.golang.org/grpc"
)

// UnaryHandler builds the method descriptor of a unary method whose
// request and response are plain structs carried by the cbor codec.
func UnaryHandler[S any, Req any, Resp any](
	service, method string,
	call func(S, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + service + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

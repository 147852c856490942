package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName         = "gacha.v1.PointsService"
	earnFullMethod      = "/" + serviceName + "/Earn"
	drawFullMethod      = "/" + serviceName + "/Draw"
	getWalletFullMethod = "/" + serviceName + "/GetWallet"
)

// PointsServiceServer is implemented by the gRPC transport.
type PointsServiceServer interface {
	Earn(context.Context, *EarnRequest) (*EarnResponse, error)
	Draw(context.Context, *DrawRequest) (*DrawResponse, error)
	GetWallet(context.Context, *GetWalletRequest) (*GetWalletResponse, error)
}

// PointsServiceDesc describes the service for grpc.Server.RegisterService.
var PointsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PointsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Earn", Handler: earnHandler},
		{MethodName: "Draw", Handler: drawHandler},
		{MethodName: "GetWallet", Handler: getWalletHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gacha/v1/points",
}

// RegisterPointsServiceServer registers server on registrar.
func RegisterPointsServiceServer(registrar grpc.ServiceRegistrar, server PointsServiceServer) {
	registrar.RegisterService(&PointsServiceDesc, server)
}

func earnHandler(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(EarnRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(PointsServiceServer).Earn(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: earnFullMethod}
	handler := func(ctx context.Context, request any) (any, error) {
		return server.(PointsServiceServer).Earn(ctx, request.(*EarnRequest))
	}
	return interceptor(ctx, request, info, handler)
}

func drawHandler(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(DrawRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(PointsServiceServer).Draw(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: drawFullMethod}
	handler := func(ctx context.Context, request any) (any, error) {
		return server.(PointsServiceServer).Draw(ctx, request.(*DrawRequest))
	}
	return interceptor(ctx, request, info, handler)
}

func getWalletHandler(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(GetWalletRequest)
	if err := decode(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return server.(PointsServiceServer).GetWallet(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: server, FullMethod: getWalletFullMethod}
	handler := func(ctx context.Context, request any) (any, error) {
		return server.(PointsServiceServer).GetWallet(ctx, request.(*GetWalletRequest))
	}
	return interceptor(ctx, request, info, handler)
}

package grpcserver

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

var errNotReady = errors.New("grpc connection failed to reach ready state")

// Client calls PointsService with the JSON codec.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (client *Client) Earn(ctx context.Context, request *EarnRequest, options ...grpc.CallOption) (*EarnResponse, error) {
	response := new(EarnResponse)
	if err := client.conn.Invoke(ctx, earnFullMethod, request, response, withCodec(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Draw(ctx context.Context, request *DrawRequest, options ...grpc.CallOption) (*DrawResponse, error) {
	response := new(DrawResponse)
	if err := client.conn.Invoke(ctx, drawFullMethod, request, response, withCodec(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetWallet(ctx context.Context, request *GetWalletRequest, options ...grpc.CallOption) (*GetWalletResponse, error) {
	response := new(GetWalletResponse)
	if err := client.conn.Invoke(ctx, getWalletFullMethod, request, response, withCodec(options)...); err != nil {
		return nil, err
	}
	return response, nil
}

func withCodec(options []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, options...)
}

// WaitForReady blocks until conn is ready or ctx ends.
func WaitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errNotReady
		}
	}
}

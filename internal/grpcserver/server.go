// Package grpcserver exposes the gacha service over gRPC. Messages are plain
// Go structs carried by a JSON codec; callers are trusted backends that pass
// the resolved user and circle ids.
package grpcserver

import (
	"context"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/internal/apierror"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/gacha"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Trailer keys carrying error detail.
const (
	TrailerRequired          = "x-required"
	TrailerBalance           = "x-balance"
	TrailerRetryAfterSeconds = "x-retry-after-seconds"
)

// PointsServer adapts gacha.Service to PointsServiceServer.
type PointsServer struct {
	service *gacha.Service
	logger  *zap.Logger
}

// NewPointsServer constructs the gRPC adapter.
func NewPointsServer(service *gacha.Service, logger *zap.Logger) *PointsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PointsServer{service: service, logger: logger}
}

// ServerOptions forces the JSON codec and adds request logging.
func ServerOptions(logger *zap.Logger) []grpc.ServerOption {
	if logger == nil {
		logger = zap.NewNop()
	}
	return []grpc.ServerOption{
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(loggingInterceptor(logger)),
	}
}

func (server *PointsServer) Earn(ctx context.Context, request *EarnRequest) (*EarnResponse, error) {
	result, err := server.service.Earn(ctx, gacha.EarnRequest{
		Caller:    gacha.Caller{UserID: request.UserID, CircleID: request.CircleID},
		Reason:    request.Reason,
		RequestID: request.RequestID,
	})
	if err != nil {
		return nil, server.mapToGRPCError(ctx, err)
	}
	response := &EarnResponse{
		Earned:         result.Earned,
		AlreadyAwarded: result.AlreadyAwarded,
		Reason:         result.Reason.String(),
		Delta:          result.Delta,
		Balance:        result.Balance,
		Date:           result.Date,
	}
	if result.AlreadyAwarded {
		response.Code = apierror.CodeAlreadyAwardedToday
	}
	return response, nil
}

func (server *PointsServer) Draw(ctx context.Context, request *DrawRequest) (*DrawResponse, error) {
	result, err := server.service.Draw(ctx, gacha.DrawRequest{
		Caller:    gacha.Caller{UserID: request.UserID, CircleID: request.CircleID},
		Pool:      request.Pool,
		RequestID: request.RequestID,
	})
	if err != nil {
		return nil, server.mapToGRPCError(ctx, err)
	}
	return &DrawResponse{
		Pool:     result.Pool,
		Cost:     result.Cost,
		Balance:  result.Balance,
		ItemType: result.Prize.ItemType,
		ItemKey:  result.Prize.ItemKey,
		Rarity:   result.Prize.Rarity,
		IsNew:    result.IsNew,
		EntryID:  result.EntryID,
		Replayed: result.Replayed,
	}, nil
}

func (server *PointsServer) GetWallet(ctx context.Context, request *GetWalletRequest) (*GetWalletResponse, error) {
	wallet, err := server.service.Wallet(ctx, gacha.WalletRequest{
		Caller:        gacha.Caller{UserID: request.UserID, CircleID: request.CircleID},
		Limit:         int(request.Limit),
		BeforeUnixUTC: request.BeforeUnixUTC,
	})
	if err != nil {
		return nil, server.mapToGRPCError(ctx, err)
	}
	response := &GetWalletResponse{Balance: wallet.Balance, Entries: make([]*Entry, 0, len(wallet.Entries))}
	for _, entryRecord := range wallet.Entries {
		response.Entries = append(response.Entries, &Entry{
			EntryID:        entryRecord.EntryID().String(),
			Reason:         entryRecord.Reason().String(),
			Delta:          entryRecord.Delta().Int64(),
			RequestID:      entryRecord.RequestID().String(),
			IdempotencyKey: entryRecord.IdempotencyKey().String(),
			MetadataJSON:   entryRecord.MetadataJSON().String(),
			CreatedUnixUTC: entryRecord.CreatedUnixUTC(),
		})
	}
	return response, nil
}

// mapToGRPCError returns a status whose message is the stable error code.
// Numeric detail travels in trailers.
func (server *PointsServer) mapToGRPCError(ctx context.Context, source error) error {
	problem := apierror.Classify(source)
	trailer := metadata.MD{}
	switch problem.Code {
	case apierror.CodePointsInsufficient, apierror.CodeInsufficientCirclePoints:
		trailer.Set(TrailerRequired, strconv.FormatInt(problem.Required, 10))
		trailer.Set(TrailerBalance, strconv.FormatInt(problem.Balance, 10))
	case apierror.CodeRateLimited:
		trailer.Set(TrailerRetryAfterSeconds, strconv.FormatInt(problem.RetryAfterSeconds(), 10))
	case apierror.CodeInternal:
		server.logger.Error("grpc request failed", zap.Error(source))
	}
	if trailer.Len() > 0 {
		if err := grpc.SetTrailer(ctx, trailer); err != nil {
			server.logger.Warn("set trailer failed", zap.Error(err))
		}
	}
	return status.Error(problem.GRPCCode, problem.Code)
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		response, err := handler(ctx, request)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(start)),
		}
		if code == codes.Internal || code == codes.Unknown {
			logger.Error("grpc call", fields...)
		} else {
			logger.Debug("grpc call", fields...)
		}
		return response, err
	}
}

// ErrorCode extracts the stable code from an error returned by the client.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	statusInfo, ok := status.FromError(err)
	if !ok {
		return apierror.CodeInternal
	}
	return statusInfo.Message()
}

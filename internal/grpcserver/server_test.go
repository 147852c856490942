package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/internal/apierror"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/app"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/gacha"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ratelimit"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufconnSize = 1 << 20

type harness struct {
	client     *Client
	store      *memstore.Store
	components *app.Components
}

func startPointsClient(test *testing.T) *harness {
	test.Helper()
	store := memstore.New()
	snapshot, err := draw.NewSnapshot([]draw.PoolConfig{
		{Name: "standard", Cost: 5, Items: []draw.Item{{ItemType: "badge", ItemKey: "sakura", Rarity: "rare", Weight: 1}}},
	}, "standard")
	if err != nil {
		test.Fatalf("snapshot: %v", err)
	}
	components, err := app.Build(app.Options{
		Backend:  store,
		Registry: draw.NewRegistry(snapshot),
		Limiter:  ratelimit.NewMemoryLimiter(time.Now),
		Config:   gacha.DefaultConfig(),
	})
	if err != nil {
		test.Fatalf("build: %v", err)
	}

	listener := bufconn.Listen(bufconnSize)
	grpcServer := grpc.NewServer(ServerOptions(zap.NewNop())...)
	RegisterPointsServiceServer(grpcServer, NewPointsServer(components.Gacha, zap.NewNop()))
	go func() {
		if serveErr := grpcServer.Serve(listener); serveErr != nil {
			test.Logf("gRPC server error: %v", serveErr)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		test.Fatalf("gRPC client init failed: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := WaitForReady(waitCtx, conn); err != nil {
		test.Fatalf("gRPC client failed to connect: %v", err)
	}
	test.Cleanup(func() {
		grpcServer.Stop()
		_ = conn.Close()
	})
	return &harness{client: NewClient(conn), store: store, components: components}
}

func TestEarnDrawAndWalletOverGRPC(test *testing.T) {
	h := startPointsClient(test)
	ctx := context.Background()

	earned, err := h.client.Earn(ctx, &EarnRequest{UserID: "user-1", Reason: "award_share"})
	if err != nil {
		test.Fatalf("earn: %v", err)
	}
	if !earned.Earned || earned.Balance != 5 {
		test.Fatalf("unexpected earn %+v", earned)
	}
	repeated, err := h.client.Earn(ctx, &EarnRequest{UserID: "user-1", Reason: "award_share"})
	if err != nil {
		test.Fatalf("repeat earn: %v", err)
	}
	if repeated.Earned || repeated.Code != apierror.CodeAlreadyAwardedToday {
		test.Fatalf("unexpected repeat %+v", repeated)
	}

	drawn, err := h.client.Draw(ctx, &DrawRequest{UserID: "user-1", RequestID: "req-1"})
	if err != nil {
		test.Fatalf("draw: %v", err)
	}
	if drawn.Balance != 0 || drawn.ItemKey != "sakura" || !drawn.IsNew {
		test.Fatalf("unexpected draw %+v", drawn)
	}
	replayed, err := h.client.Draw(ctx, &DrawRequest{UserID: "user-1", RequestID: "req-1"})
	if err != nil {
		test.Fatalf("replay: %v", err)
	}
	if !replayed.Replayed || replayed.EntryID != drawn.EntryID {
		test.Fatalf("unexpected replay %+v", replayed)
	}

	wallet, err := h.client.GetWallet(ctx, &GetWalletRequest{UserID: "user-1"})
	if err != nil {
		test.Fatalf("wallet: %v", err)
	}
	if wallet.Balance != 0 || len(wallet.Entries) != 2 {
		test.Fatalf("unexpected wallet %+v", wallet)
	}
}

func TestInsufficientFundsStatus(test *testing.T) {
	h := startPointsClient(test)
	var trailer metadata.MD
	_, err := h.client.Draw(context.Background(), &DrawRequest{UserID: "user-1"}, grpc.Trailer(&trailer))
	if status.Code(err) != codes.FailedPrecondition || ErrorCode(err) != apierror.CodePointsInsufficient {
		test.Fatalf("expected insufficient funds status, got %v", err)
	}
	if values := trailer.Get(TrailerRequired); len(values) != 1 || values[0] != "5" {
		test.Fatalf("unexpected required trailer %v", trailer)
	}
	if values := trailer.Get(TrailerBalance); len(values) != 1 || values[0] != "0" {
		test.Fatalf("unexpected balance trailer %v", trailer)
	}
}

func TestStatusMapping(test *testing.T) {
	h := startPointsClient(test)
	ctx := context.Background()

	_, err := h.client.Earn(ctx, &EarnRequest{Reason: "daily_login"})
	if status.Code(err) != codes.Unauthenticated || ErrorCode(err) != apierror.CodeUnauthorized {
		test.Fatalf("expected unauthenticated, got %v", err)
	}
	_, err = h.client.Earn(ctx, &EarnRequest{UserID: "user-1", CircleID: "circle-1", Reason: "circle_daily_login"})
	if status.Code(err) != codes.PermissionDenied || ErrorCode(err) != apierror.CodeNotCircleMember {
		test.Fatalf("expected permission denied, got %v", err)
	}
	_, err = h.client.Draw(ctx, &DrawRequest{UserID: "user-1", Pool: "missing"})
	if status.Code(err) != codes.Unavailable || ErrorCode(err) != apierror.CodePoolUnavailable {
		test.Fatalf("expected unavailable, got %v", err)
	}
	_, err = h.client.Earn(ctx, &EarnRequest{UserID: "user-1", Reason: "admin_grant"})
	if status.Code(err) != codes.InvalidArgument {
		test.Fatalf("expected invalid argument, got %v", err)
	}

	circleID, _ := ledger.NewCircleID("circle-1")
	userID, _ := ledger.NewUserID("user-1")
	if err := h.store.AddCircleMember(ctx, circleID, userID); err != nil {
		test.Fatalf("join: %v", err)
	}
	var trailer metadata.MD
	_, err = h.client.Draw(ctx, &DrawRequest{UserID: "user-1", CircleID: "circle-1"}, grpc.Trailer(&trailer))
	if ErrorCode(err) != apierror.CodeInsufficientCirclePoints {
		test.Fatalf("expected circle insufficient funds, got %v", err)
	}
}

func TestRateLimitTrailer(test *testing.T) {
	h := startPointsClient(test)
	ctx := context.Background()
	var lastErr error
	var trailer metadata.MD
	for attempt := 0; attempt < 11; attempt++ {
		trailer = metadata.MD{}
		_, lastErr = h.client.Draw(ctx, &DrawRequest{UserID: "user-2"}, grpc.Trailer(&trailer))
	}
	if status.Code(lastErr) != codes.ResourceExhausted || ErrorCode(lastErr) != apierror.CodeRateLimited {
		test.Fatalf("expected resource exhausted, got %v", lastErr)
	}
	if values := trailer.Get(TrailerRetryAfterSeconds); len(values) != 1 || values[0] == "0" {
		test.Fatalf("unexpected retry trailer %v", trailer)
	}
}

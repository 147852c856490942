package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/internal/app"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/config"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/httpapi"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/logging"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/metrics"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/poolconfig"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func newServeCommand() *cobra.Command {
	cfg := config.Config{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadServeConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagHTTPListenAddr, ":8080", "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, ":7000", "gRPC listen address")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for shared rate limits (empty uses in-process limits)")
	cmd.Flags().String(flagPoolsFile, "", "YAML or JSON pool definitions, reloaded on change (required)")
	cmd.Flags().String(flagDefaultCirclePool, "", "pool used by circle draws that name none")
	cmd.Flags().String(flagTimezone, "Asia/Tokyo", "IANA timezone deciding the daily earn date")
	cmd.Flags().Int(flagDrawRateLimit, 10, "draws allowed per window and wallet")
	cmd.Flags().Duration(flagDrawRateWindow, time.Minute, "draw rate window")
	cmd.Flags().Int(flagEarnRateLimit, 30, "earn requests allowed per window and wallet")
	cmd.Flags().Duration(flagEarnRateWindow, time.Minute, "earn rate window")
	cmd.Flags().Int64(flagEarnDailyLogin, 3, "points for daily_login")
	cmd.Flags().Int64(flagEarnAwardShare, 5, "points for award_share")
	cmd.Flags().Int64(flagEarnCircleLogin, 3, "points for circle_daily_login")
	cmd.Flags().String(flagAllowedOrigins, "http://localhost:8000", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "tauth", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "app_session", "JWT cookie name")
	cmd.Flags().Duration(flagRequestTimeout, 5*time.Second, "per-request timeout")
	cmd.Flags().Duration(flagLimiterIdle, 10*time.Minute, "drop in-process limiter buckets idle this long")
	cmd.Flags().String(flagLimiterCleanup, "@every 1m", "cron spec of the in-process limiter cleanup")

	return cmd
}

func loadServeConfig(cmd *cobra.Command, cfg *config.Config) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	cfg.DatabaseURL = v.GetString(flagDatabaseURL)
	cfg.StoreDriver = v.GetString(flagStoreDriver)
	cfg.LogLevel = v.GetString(flagLogLevel)
	cfg.HTTPListenAddr = v.GetString(flagHTTPListenAddr)
	cfg.GRPCListenAddr = v.GetString(flagGRPCListenAddr)
	cfg.RedisAddr = v.GetString(flagRedisAddr)
	cfg.PoolsFile = v.GetString(flagPoolsFile)
	cfg.DefaultCirclePool = v.GetString(flagDefaultCirclePool)
	cfg.Timezone = v.GetString(flagTimezone)
	cfg.DrawRateLimit = v.GetInt(flagDrawRateLimit)
	cfg.DrawRateWindow = v.GetDuration(flagDrawRateWindow)
	cfg.EarnRateLimit = v.GetInt(flagEarnRateLimit)
	cfg.EarnRateWindow = v.GetDuration(flagEarnRateWindow)
	cfg.EarnAmounts = map[string]int64{
		"daily_login":        v.GetInt64(flagEarnDailyLogin),
		"award_share":        v.GetInt64(flagEarnAwardShare),
		"circle_daily_login": v.GetInt64(flagEarnCircleLogin),
	}
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SessionSigningKey = v.GetString(flagJWTSigningKey)
	cfg.SessionIssuer = v.GetString(flagJWTIssuer)
	cfg.SessionCookieName = v.GetString(flagJWTCookieName)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.LimiterIdle = v.GetDuration(flagLimiterIdle)
	cfg.LimiterCleanup = v.GetString(flagLimiterCleanup)
	return cfg.Validate()
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openBackend(ctx, cfg.DatabaseURL, cfg.StoreDriver)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	registry := draw.NewRegistry(nil)
	watcher, err := poolconfig.NewWatcher(cfg.PoolsFile, registry, logger.Named("pools"))
	if err != nil {
		return fmt.Errorf("pools: %w", err)
	}
	watcher.Start()

	collectors := metrics.New()
	limiter, stopLimiter, err := newLimiter(ctx, cfg, collectors, logger)
	if err != nil {
		return err
	}
	defer stopLimiter()

	gachaConfig, err := cfg.GachaConfig()
	if err != nil {
		return err
	}
	components, err := app.Build(app.Options{
		Backend:  store,
		Registry: registry,
		Limiter:  limiter,
		Config:   gachaConfig,
		Logger:   logger,
		Observer: collectors,
	})
	if err != nil {
		return err
	}

	sessions, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	router, err := httpapi.NewRouter(httpapi.Options{
		Service:        components.Gacha,
		Sessions:       sessions,
		Logger:         logger.Named("http"),
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		Middleware:     []gin.HandlerFunc{collectors.GinMiddleware()},
		MetricsHandler: collectors.Handler(),
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server starting", zap.String("listen_addr", cfg.HTTPListenAddr))
		if serveErr := httpServer.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpcserver.ServerOptions(logger.Named("grpc"))...)
	grpcserver.RegisterPointsServiceServer(grpcServer, grpcserver.NewPointsServer(components.Gacha, logger.Named("grpc")))
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			errCh <- serveErr
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr = <-errCh:
		logger.Error("server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn("server shutdown error", zap.Error(shutdownErr))
	}
	grpcServer.GracefulStop()
	return serveErr
}

// newLimiter returns the Redis limiter when configured, otherwise the
// in-process limiter with a cron job pruning idle buckets.
func newLimiter(ctx context.Context, cfg config.Config, collectors *metrics.Metrics, logger *zap.Logger) (ratelimit.Limiter, func(), error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			// the limiter fails open, so an unreachable Redis is not fatal
			logger.Warn("redis unreachable at startup", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		return ratelimit.NewRedisLimiter(client), func() { _ = client.Close() }, nil
	}

	memory := ratelimit.NewMemoryLimiter(time.Now)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.LimiterCleanup, func() {
		removed := memory.Cleanup(cfg.LimiterIdle)
		collectors.SetLimiterSize(memory.Size())
		logger.Debug("rate limiter cleanup", zap.Int("removed", removed), zap.Int("remaining", memory.Size()))
	}); err != nil {
		return nil, nil, fmt.Errorf("limiter cleanup schedule %q: %w", cfg.LimiterCleanup, err)
	}
	scheduler.Start()
	return memory, func() { <-scheduler.Stop().Done() }, nil
}

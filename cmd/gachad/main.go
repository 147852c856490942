package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "GACHAD"

	flagDatabaseURL       = "database-url"
	flagStoreDriver       = "store-driver"
	flagLogLevel          = "log-level"
	flagHTTPListenAddr    = "http-listen-addr"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagRedisAddr         = "redis-addr"
	flagPoolsFile         = "pools-file"
	flagDefaultCirclePool = "default-circle-pool"
	flagTimezone          = "timezone"
	flagDrawRateLimit     = "draw-rate-limit"
	flagDrawRateWindow    = "draw-rate-window"
	flagEarnRateLimit     = "earn-rate-limit"
	flagEarnRateWindow    = "earn-rate-window"
	flagEarnDailyLogin    = "earn-daily-login"
	flagEarnAwardShare    = "earn-award-share"
	flagEarnCircleLogin   = "earn-circle-daily-login"
	flagAllowedOrigins    = "allowed-origins"
	flagJWTSigningKey     = "jwt-signing-key"
	flagJWTIssuer         = "jwt-issuer"
	flagJWTCookieName     = "jwt-cookie-name"
	flagRequestTimeout    = "request-timeout"
	flagLimiterIdle       = "limiter-idle"
	flagLimiterCleanup    = "limiter-cleanup"
	flagUser              = "user"
	flagCircle            = "circle"
	flagAmount            = "amount"
	flagKey               = "key"
	flagNote              = "note"

	defaultDatabaseURL = "sqlite:///tmp/fanpoints.db"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gachad: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gachad",
		Short:         "Fan points ledger and gacha server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "postgres://, sqlite:// or memory:// database url")
	cmd.PersistentFlags().String(flagStoreDriver, "gorm", "storage implementation for postgres: gorm or pgx")
	cmd.PersistentFlags().String(flagLogLevel, "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCommand(), newMigrateCommand(), newGrantCommand(), newPoolsCommand(), newMembersCommand())
	return cmd
}

// newViper binds every flag of cmd, including inherited ones, to
// GACHAD_<FLAG> environment variables.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	return v, nil
}

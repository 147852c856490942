package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/internal/app"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/logging"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/poolconfig"
	"github.com/MarkoPoloResearchLab/fanpoints/internal/store/migrations"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/draw"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/gacha"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ratelimit"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			databaseURL := v.GetString(flagDatabaseURL)
			driver, _, err := resolveDriver(databaseURL)
			if err != nil {
				return err
			}
			switch driver {
			case driverPostgres:
				version, err := migrations.Up(databaseURL)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			case driverMemory:
				fmt.Fprintln(cmd.OutOrStdout(), "memory backend has no schema")
			default:
				// openBackend auto-migrates sqlite
				_, cleanup, err := openBackend(cmd.Context(), databaseURL, v.GetString(flagStoreDriver))
				if err != nil {
					return err
				}
				defer func() { _ = cleanup() }()
				fmt.Fprintln(cmd.OutOrStdout(), "sqlite schema migrated")
			}
			return nil
		},
	}
}

type grantOutput struct {
	UserID   string `json:"user_id"`
	CircleID string `json:"circle_id,omitempty"`
	Amount   int64  `json:"amount"`
	EntryID  string `json:"entry_id"`
	Balance  int64  `json:"balance"`
}

func newGrantCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Credit points to a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			request := gacha.GrantRequest{
				Caller:         gacha.Caller{UserID: v.GetString(flagUser), CircleID: v.GetString(flagCircle)},
				Amount:         v.GetInt64(flagAmount),
				IdempotencyKey: v.GetString(flagKey),
				Note:           v.GetString(flagNote),
			}
			return runGrant(cmd.Context(), cmd, v.GetString(flagDatabaseURL), v.GetString(flagStoreDriver), v.GetString(flagLogLevel), request)
		},
	}
	cmd.Flags().String(flagUser, "", "user id (required)")
	cmd.Flags().String(flagCircle, "", "circle id; empty grants personal points")
	cmd.Flags().Int64(flagAmount, 0, "points to credit (required)")
	cmd.Flags().String(flagKey, "", "idempotency key (required)")
	cmd.Flags().String(flagNote, "", "note stored in the entry metadata")
	return cmd
}

func runGrant(ctx context.Context, cmd *cobra.Command, databaseURL string, storeDriver string, logLevel string, request gacha.GrantRequest) error {
	logger, err := logging.NewLogger(logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openBackend(ctx, databaseURL, storeDriver)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	components, err := app.Build(app.Options{
		Backend:  store,
		Registry: draw.NewRegistry(nil),
		Limiter:  ratelimit.NewMemoryLimiter(time.Now),
		Config:   gacha.DefaultConfig(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	result, err := components.Gacha.Grant(ctx, request)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(grantOutput{
		UserID:   request.UserID,
		CircleID: request.CircleID,
		Amount:   request.Amount,
		EntryID:  result.EntryID.String(),
		Balance:  result.Balance.Int64(),
	})
}

func newPoolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "Inspect draw pool definitions",
	}
	check := &cobra.Command{
		Use:   "check",
		Short: "Validate a pool file and print its pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			snapshot, err := poolconfig.Load(v.GetString(flagPoolsFile))
			if err != nil {
				return err
			}
			return printPools(cmd, snapshot)
		},
	}
	check.Flags().String(flagPoolsFile, "", "YAML or JSON pool definitions")
	cmd.AddCommand(check)
	return cmd
}

func printPools(cmd *cobra.Command, snapshot *draw.Snapshot) error {
	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "POOL\tVERSION\tCOST\tITEMS\tWEIGHT\tDRAWABLE\tDEFAULT")
	for _, pool := range snapshot.Pools() {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\t%t\t%t\n",
			pool.Name(), pool.Version(), pool.Cost(), len(pool.Items()), pool.TotalWeight(), pool.Drawable(), pool.Name() == snapshot.DefaultPool())
	}
	return writer.Flush()
}

func newMembersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage circle membership",
	}
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a user to a circle",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd)
			if err != nil {
				return err
			}
			circleID, err := ledger.NewCircleID(v.GetString(flagCircle))
			if err != nil {
				return err
			}
			userID, err := ledger.NewUserID(v.GetString(flagUser))
			if err != nil {
				return err
			}
			store, cleanup, err := openBackend(cmd.Context(), v.GetString(flagDatabaseURL), v.GetString(flagStoreDriver))
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()
			if err := store.AddCircleMember(cmd.Context(), circleID, userID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s to circle %s\n", userID, circleID)
			return nil
		},
	}
	add.Flags().String(flagCircle, "", "circle id (required)")
	add.Flags().String(flagUser, "", "user id (required)")
	cmd.AddCommand(add)
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	authmw "github.com/mind-engage/mindengage-checkpoint/internal/auth/middleware"
	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/rbac"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			// Open migrates as part of connecting.
			conn, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			log.WithField("driver", cfg.DBDriver).Info("schema up to date")
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var drain bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Drain due sync batches and run one expiry/idle sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()
			out := map[string]any{}
			if drain {
				if _, err := a.queue.Recover(ctx); err != nil {
					return err
				}
				n, err := a.queue.Drain(ctx)
				if err != nil {
					return err
				}
				out["sync_processed"] = n
			}
			out["sweep"] = checkpoint.NewSweeper(a.svc, a.cfg.Sweep.Interval).Once(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", true, "process queued sync batches first")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a staff user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := rbac.RolePermissions[role]; !ok {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			secret, err := jwtSecret(cfg, log)
			if err != nil {
				return err
			}
			tok, err := authmw.NewAuthService(secret, cfg.JWTIssuer).IssueJWT(args[0], role)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", rbac.RoleOperator, "role claim (learner, mentor, operator, admin)")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/attribution"
	"github.com/smallbiznis/referrals/internal/audit"
	"github.com/smallbiznis/referrals/internal/auth"
	authdomain "github.com/smallbiznis/referrals/internal/auth/domain"
	authservice "github.com/smallbiznis/referrals/internal/auth/service"
	"github.com/smallbiznis/referrals/internal/authorization"
	"github.com/smallbiznis/referrals/internal/clock"
	"github.com/smallbiznis/referrals/internal/commission"
	"github.com/smallbiznis/referrals/internal/config"
	"github.com/smallbiznis/referrals/internal/conversion"
	"github.com/smallbiznis/referrals/internal/events"
	"github.com/smallbiznis/referrals/internal/migration"
	"github.com/smallbiznis/referrals/internal/notification"
	"github.com/smallbiznis/referrals/internal/observability"
	obscontext "github.com/smallbiznis/referrals/internal/observability/context"
	"github.com/smallbiznis/referrals/internal/partner"
	"github.com/smallbiznis/referrals/internal/payment"
	"github.com/smallbiznis/referrals/internal/payout"
	"github.com/smallbiznis/referrals/internal/providers/email"
	"github.com/smallbiznis/referrals/internal/ratelimit"
	"github.com/smallbiznis/referrals/internal/referralcode"
	"github.com/smallbiznis/referrals/internal/server"
	"github.com/smallbiznis/referrals/internal/signup"
	"github.com/smallbiznis/referrals/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// infrastructure is shared by every command that touches the store.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
	)
}

func domains() fx.Option {
	return fx.Options(
		audit.Module,
		events.Module,
		ratelimit.Module,
		email.Module,
		notification.Module,
		auth.Module,
		authorization.Module,
		partner.Module,
		referralcode.Module,
		attribution.Module,
		conversion.Module,
		commission.Module,
		payout.Module,
		payment.Module,
		signup.Module,
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := []fx.Option{infrastructure()}
	if !skipMigrations {
		opts = append(opts, migration.Module)
	}
	opts = append(opts, domains(), server.Module)

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	app := fx.New(
		infrastructure(),
		migration.Module,
		fx.NopLogger,
	)
	return startStop(cmd.Context(), app)
}

func runRoles(grant bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var policy authorization.Service
		app := fx.New(
			infrastructure(),
			audit.Module,
			authorization.Module,
			fx.Populate(&policy),
			fx.NopLogger,
		)
		if err := app.Err(); err != nil {
			return err
		}

		ctx := obscontext.WithActor(context.Background(), "system", "cli")
		if grant {
			if err := policy.GrantRole(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", args[1], args[0])
			return nil
		}
		if err := policy.RevokeRole(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", args[1], args[0])
		return nil
	}
}

func runToken(cmd *cobra.Command, args []string) error {
	ttl, err := time.ParseDuration(tokenTTL)
	if err != nil {
		return fmt.Errorf("invalid ttl: %w", err)
	}
	cfg := config.Load()
	verifier := authservice.NewVerifier(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, clock.SystemClock{})
	raw, err := verifier.Issue(authdomain.Identity{
		Subject: tokenSubject,
		Email:   tokenEmail,
		Roles:   tokenRoles,
	}, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), raw)
	return nil
}

func startStop(ctx context.Context, app *fx.App) error {
	if ctx == nil {
		ctx = context.Background()
	}
	startCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	return app.Stop(stopCtx)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		if _, err := fmt.Sscan(raw, &nodeID); err != nil {
			return nil, fmt.Errorf("invalid SNOWFLAKE_NODE_ID: %w", err)
		}
	}
	return snowflake.NewNode(nodeID)
}

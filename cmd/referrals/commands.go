package main

import (
	"github.com/spf13/cobra"
)

var (
	skipMigrations bool

	tokenSubject string
	tokenEmail   string
	tokenRoles   []string
	tokenTTL     string

	rootCmd = &cobra.Command{
		Use:   "referrals",
		Short: "Referral attribution and partner commission service",
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the outbox dispatcher",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	}

	rolesCmd = &cobra.Command{
		Use:   "roles",
		Short: "Manage persisted admin roles",
	}
	rolesGrantCmd = &cobra.Command{
		Use:   "grant [subject] [role]",
		Short: "Grant a role (admin, reviewer, finance) to an identity",
		Args:  cobra.ExactArgs(2),
		RunE:  runRoles(true),
	}
	rolesRevokeCmd = &cobra.Command{
		Use:   "revoke [subject] [role]",
		Short: "Revoke a role from an identity",
		Args:  cobra.ExactArgs(2),
		RunE:  runRoles(false),
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with AUTH_JWT_SECRET for local testing",
		RunE:  runToken,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not apply migrations on startup")

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "identity subject")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "identity email")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role claim, repeatable")
	tokenCmd.Flags().StringVar(&tokenTTL, "ttl", "1h", "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")

	rolesCmd.AddCommand(rolesGrantCmd, rolesRevokeCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, rolesCmd, tokenCmd)
}

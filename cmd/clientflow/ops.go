package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/clientflow/internal/app"
	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/internal/migration"
	"github.com/smallbiznis/clientflow/internal/seed"
	workflowservice "github.com/smallbiznis/clientflow/internal/workflow/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const oneShotTimeout = 5 * time.Minute

// runOnce builds the container, runs fn and tears it down again.
func runOnce(ctx context.Context, fn any, opts ...fx.Option) error {
	options := append([]fx.Option{app.Infrastructure, fx.NopLogger}, opts...)
	options = append(options, fx.Invoke(fn))

	application := fx.New(options...)
	if err := application.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, oneShotTimeout)
	defer cancel()
	if err := application.Start(ctx); err != nil {
		return err
	}
	return application.Stop(ctx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
				return migration.Apply(conn, cfg, log)
			})
		},
	}
}

func seedTagsCmd() *cobra.Command {
	var (
		tenantSlug string
		name       string
		email      string
	)
	cmd := &cobra.Command{
		Use:   "seed-tags",
		Short: "Provision status tags and ledger accounts for a tenant",
		Long: `Creates any missing status tags and ledger accounts for the tenant.
With --name the tenant itself is created when the slug is unknown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantSlug == "" {
				return errors.New("--tenant is required")
			}
			return runOnce(cmd.Context(), func(seeder *seed.Seeder) error {
				ctx := cmd.Context()
				if name != "" {
					tenant, err := seeder.EnsureTenant(ctx, seed.TenantInput{Slug: tenantSlug, Name: name, Email: email})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "tenant %s (%s) provisioned\n", tenant.Slug, tenant.ID)
					return nil
				}
				tenant, err := seeder.ProvisionTenant(ctx, tenantSlug)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s (%s) provisioned\n", tenant.Slug, tenant.ID)
				return nil
			}, migration.Module, app.Domains)
		},
	}
	cmd.Flags().StringVar(&tenantSlug, "tenant", "", "tenant slug")
	cmd.Flags().StringVar(&name, "name", "", "business name, creates the tenant when missing")
	cmd.Flags().StringVar(&email, "email", "", "owner email for a new tenant")
	return cmd
}

func processWorkflowsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "process-workflows",
		Short: "Run every delayed workflow run that is due, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), func(processor *workflowservice.Processor) error {
				n, err := processor.ProcessDue(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d workflow runs\n", n)
				return nil
			}, app.Domains)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum runs to claim")
	return cmd
}

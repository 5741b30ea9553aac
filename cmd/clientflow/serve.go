package main

import (
	"github.com/smallbiznis/clientflow/internal/app"
	"github.com/smallbiznis/clientflow/internal/migration"
	"github.com/smallbiznis/clientflow/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(
				app.Infrastructure,
				migration.Module,
				app.Domains,
				server.Module,
			).Run()
			return nil
		},
	}
}

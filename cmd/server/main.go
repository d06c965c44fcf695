package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var autoMigrate bool

	root := &cobra.Command{
		Use:          "library-server",
		Short:        "Library management REST API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), autoMigrate)
		},
	}
	root.PersistentFlags().BoolVar(&autoMigrate, "migrate", false, "apply SQL migrations before serving")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP and gRPC servers",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), autoMigrate)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply schema migrations (SQL) or create indexes (MongoDB) and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context())
			},
		},
	)
	return root
}

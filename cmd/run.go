package cmd

import (
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Claims and processes crawl jobs until interrupted",
		Long: `Starts the worker loop and the ops HTTP server. On SIGINT or SIGTERM the
worker stops claiming, waits for in-flight crawls and resolves any that
outlive the shutdown timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			appInstance.GetLogger().Info("worker starting")
			if err := appInstance.Run(cmd.Context()); err != nil {
				return err
			}
			appInstance.GetLogger().Info("worker stopped")
			return nil
		},
	}
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/storage"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the storage backend is reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			backend, err := storage.Open(cmd.Context(), app.Config.Storage, app.Logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := backend.Close(context.Background()); cerr != nil {
					app.Logger.Warn("Failed to close storage", zap.Error(cerr))
				}
			}()
			if err := storage.CheckConnection(cmd.Context(), backend.Pinger, app.Config.Storage.PingTimeout); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "storage backend %q is reachable\n", backend.Name)
			return nil
		},
	}
}

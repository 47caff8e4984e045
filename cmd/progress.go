package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kruyneg/information-retrieval/internal/config"
	"github.com/kruyneg/information-retrieval/internal/crawler"
	"github.com/kruyneg/information-retrieval/internal/storage"
)

func newProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Print the stored resume cursor of every configured site",
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
			return printCursors(cmd, backend.Progress, app.Config.Sites)
		},
	}
}

func printCursors(cmd *cobra.Command, store crawler.ProgressStore, sites []config.SiteConfig) error {
	out := cmd.OutOrStdout()
	for _, site := range sites {
		origin, err := crawler.Origin(site.BaseURL)
		if err != nil {
			return err
		}
		last, ok, err := store.LastURL(cmd.Context(), origin)
		if err != nil {
			return fmt.Errorf("read cursor for %s: %w", origin, err)
		}
		if !ok {
			last = "(none)"
		}
		fmt.Fprintf(out, "%s\t%s\n", origin, last)
	}
	return nil
}

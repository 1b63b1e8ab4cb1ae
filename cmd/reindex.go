package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/library"
	"github.com/ziadkadry99/biblioteca/internal/progress"
)

var reindexAll bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed documents indexed with another embedding model",
	Long: `Documents embedded with a model other than the configured one are not
returned by searches. reindex re-embeds them from their stored chunk text.
With --all every other document is also copied from the catalog into the
vector index, which rebuilds a new or emptied vector backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(func(ctx context.Context, a *app) error {
			total := 0
			if reindexAll {
				docs, err := a.library.Catalog(ctx)
				if err != nil {
					return err
				}
				total = len(docs)
			} else {
				stale, err := a.library.StaleDocuments(ctx)
				if err != nil {
					return err
				}
				total = len(stale)
			}
			if total == 0 {
				fmt.Fprintln(os.Stderr, "Nothing to reindex.")
				return nil
			}

			reporter := progress.NewReporter("Reindexing")
			reporter.Start(total)
			done := 0
			res, err := a.library.Reindex(ctx, reindexAll, func(d library.Document, _ error) {
				done++
				reporter.Update(done, d.Title)
			})
			reporter.Finish()

			if res != nil {
				fmt.Fprintf(os.Stderr, "Re-embedded %d, resynced %d document(s) with %s\n",
					res.Reembedded, res.Resynced, a.embedder.Name())
			}
			return err
		})
	},
}

func init() {
	reindexCmd.Flags().BoolVar(&reindexAll, "all", false, "Also rebuild the vector index for up-to-date documents")
	rootCmd.AddCommand(reindexCmd)
}

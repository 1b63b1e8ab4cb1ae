package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/audit"
)

var (
	historyDocument string
	historyActor    string
	historyLimit    int
	historyPrune    string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show who changed the library and when",
	Long: `Lists journal entries for ingestions, replacements, edits, deletions
and reindex runs, newest first. With --prune-before, entries older than the
given date are removed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(func(ctx context.Context, a *app) error {
			if historyPrune != "" {
				before, err := time.Parse("2006-01-02", historyPrune)
				if err != nil {
					return fmt.Errorf("invalid --prune-before %q: use YYYY-MM-DD", historyPrune)
				}
				n, err := a.journal.DeleteBefore(ctx, before)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d entries.\n", n)
				return nil
			}

			entries, err := a.journal.Query(ctx, audit.QueryFilter{
				DocumentID: historyDocument,
				Actor:      historyActor,
				Limit:      historyLimit,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entries.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tACTOR\tACTION\tDOCUMENT\tSUMMARY")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04"), e.Actor, e.Action, e.DocumentID, preview(e.Summary, 50))
			}
			return w.Flush()
		})
	},
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&historyDocument, "document", "", "Only entries for this document id")
	f.StringVar(&historyActor, "actor", "", "Only entries by this actor")
	f.IntVar(&historyLimit, "limit", 50, "Maximum entries to show")
	f.StringVar(&historyPrune, "prune-before", "", "Delete entries older than this date (YYYY-MM-DD)")
	rootCmd.AddCommand(historyCmd)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/library"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Inspect and maintain the document catalog",
}

var docsListTag string

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(func(ctx context.Context, a *app) error {
			docs, err := a.library.List(ctx, docsListTag)
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				fmt.Println("The library has no documents.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tKIND\tCHUNKS\tTAGS\tMODEL")
			for _, d := range docs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					d.ID, d.Title, d.Author, d.Kind, d.ChunkCount, strings.Join(d.Tags, ","), d.EmbeddingModel)
			}
			return w.Flush()
		})
	},
}

var docsDeleteYes bool

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and all of its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(func(ctx context.Context, a *app) error {
			doc, err := a.library.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !docsDeleteYes {
				confirm := promptui.Prompt{
					Label:     fmt.Sprintf("Delete «%s» (%d chunks)", doc.Title, doc.ChunkCount),
					IsConfirm: true,
				}
				if _, err := confirm.Run(); err != nil {
					fmt.Println("Aborted.")
					return nil
				}
			}
			if err := a.library.Delete(ctx, doc.ID); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", doc.ID)
			return nil
		})
	},
}

var (
	editTitle       string
	editAuthor      string
	editKind        string
	editDescription string
	editTags        []string
)

var docsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit document metadata and tags",
	Long: `Edits title, author, kind, description or tags. Only the flags given are
changed. Tag changes are applied to the indexed chunks without re-embedding.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var upd library.MetadataUpdate
		flags := cmd.Flags()
		if flags.Changed("title") {
			upd.Title = &editTitle
		}
		if flags.Changed("author") {
			upd.Author = &editAuthor
		}
		if flags.Changed("kind") {
			upd.Kind = &editKind
		}
		if flags.Changed("description") {
			upd.Description = &editDescription
		}
		if flags.Changed("tags") {
			upd.Tags = &editTags
		}

		return withLibrary(func(ctx context.Context, a *app) error {
			doc, err := a.library.UpdateMetadata(ctx, args[0], upd)
			if err != nil {
				return err
			}
			fmt.Printf("%s: «%s» — %s (%s) [%s]\n", doc.ID, doc.Title, doc.Author, doc.Kind, strings.Join(doc.Tags, ","))
			return nil
		})
	},
}

var (
	searchTags      []string
	searchTopK      int
	searchThreshold float32
)

var docsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a similarity search and print the ranked fragments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(func(ctx context.Context, a *app) error {
			req := library.SearchRequest{Query: args[0], Tags: searchTags, TopK: searchTopK}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &searchThreshold
			}
			hits, err := a.library.Search(ctx, req)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("No fragments above the threshold.")
				return nil
			}
			for i, h := range hits {
				fmt.Printf("%d. [%.3f] «%s» — %s\n   %s\n", i+1, h.Similarity, h.ParentTitle, h.ParentAuthor, preview(h.ChunkText, 240))
			}
			return nil
		})
	},
}

// withLibrary runs fn with an app that never calls a chat model.
func withLibrary(fn func(ctx context.Context, a *app) error) error {
	ctx := cliContext(context.Background())
	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func init() {
	docsListCmd.Flags().StringVar(&docsListTag, "tag", "", "Only list documents with this tag")
	docsDeleteCmd.Flags().BoolVarP(&docsDeleteYes, "yes", "y", false, "Do not ask for confirmation")

	f := docsEditCmd.Flags()
	f.StringVar(&editTitle, "title", "", "New title")
	f.StringVar(&editAuthor, "author", "", "New author")
	f.StringVar(&editKind, "kind", "", "New kind: paper, guide or manual")
	f.StringVar(&editDescription, "description", "", "New description")
	f.StringSliceVar(&editTags, "tags", nil, "Replace the tag set (empty clears it)")

	sf := docsSearchCmd.Flags()
	sf.StringSliceVar(&searchTags, "tags", nil, "Restrict to documents with any of these tags")
	sf.IntVar(&searchTopK, "top-k", 0, "Maximum fragments (default from config)")
	sf.Float32Var(&searchThreshold, "threshold", 0, "Minimum similarity (default from config)")

	docsCmd.AddCommand(docsListCmd, docsDeleteCmd, docsEditCmd, docsSearchCmd)
	rootCmd.AddCommand(docsCmd)
}

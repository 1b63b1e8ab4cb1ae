package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/biblioteca/internal/extract"
	"github.com/ziadkadry99/biblioteca/internal/library"
	"github.com/ziadkadry99/biblioteca/internal/progress"
	"github.com/ziadkadry99/biblioteca/internal/walker"
)

var (
	ingestKind        string
	ingestTags        []string
	ingestTitle       string
	ingestAuthor      string
	ingestDescription string
	ingestReplace     string
	ingestExclude     []string
	ingestNoInfer     bool
	ingestUploadedBy  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir|glob>...",
	Short: "Add documents to the library",
	Long: `Extracts, chunks and embeds PDF, DOCX and plain-text documents into the
library. Arguments may be files, directories (walked recursively) or globs
such as "docs/**/*.pdf". Re-ingesting identical content replaces the
existing document instead of duplicating it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = cliContext(ctx)

		files, err := walker.Expand(args, walker.Config{Exclude: ingestExclude})
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no supported documents found (supported: %s)", strings.Join(extract.SupportedExtensions(), ", "))
		}
		if len(files) > 1 && (ingestTitle != "" || ingestReplace != "") {
			return errors.New("--title and --replace apply to a single document")
		}

		a, err := newApp(ctx, !ingestNoInfer)
		if err != nil {
			return err
		}
		defer a.Close()

		reporter := progress.NewReporter("Ingesting")
		reporter.Start(len(files))

		var failed, replaced int
		for i, f := range files {
			reporter.Update(i, f.RelPath)
			data, err := os.ReadFile(f.Path)
			if err == nil {
				var res *library.IngestResult
				res, err = a.library.Ingest(ctx, library.IngestRequest{
					Data:        data,
					FileName:    filepath.Base(f.Path),
					Title:       ingestTitle,
					Author:      ingestAuthor,
					Kind:        ingestKind,
					Description: ingestDescription,
					Tags:        ingestTags,
					ReplaceID:   ingestReplace,
					UploadedBy:  ingestUploadedBy,
				})
				if err == nil {
					if res.Replaced {
						replaced++
					}
					a.logger.Debug("ingested", zap.String("file", f.RelPath), zap.String("id", res.ID), zap.Int("chunks", res.Chunks))
				}
			}
			if err != nil {
				failed++
				a.logger.Error("ingest failed", zap.String("file", f.RelPath), zap.Error(err))
			}
			reporter.Update(i+1, f.RelPath)
		}
		reporter.Finish()

		fmt.Fprintf(os.Stderr, "Ingested %d of %d document(s) (%d replaced)\n", len(files)-failed, len(files), replaced)
		if failed > 0 {
			return fmt.Errorf("%d document(s) failed", failed)
		}
		return nil
	},
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestKind, "kind", "", "Document kind: paper, guide or manual (default paper)")
	f.StringSliceVar(&ingestTags, "tags", nil, "Tags for every ingested document")
	f.StringVar(&ingestTitle, "title", "", "Title (single document only; inferred when empty)")
	f.StringVar(&ingestAuthor, "author", "", "Author (inferred when empty)")
	f.StringVar(&ingestDescription, "description", "", "Short description")
	f.StringVar(&ingestReplace, "replace", "", "Id of the document this file supersedes")
	f.StringSliceVar(&ingestExclude, "exclude", nil, "Glob patterns to skip")
	f.BoolVar(&ingestNoInfer, "no-infer", false, "Do not call the language model to infer title, author or tags")
	f.StringVar(&ingestUploadedBy, "uploaded-by", "cli", "Recorded uploader")
	rootCmd.AddCommand(ingestCmd)
}

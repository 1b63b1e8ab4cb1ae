package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/rag"
)

var (
	askMode    string
	askEntity  string
	askRecords []string
	askTags    []string
	askRole    string
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question from the command line",
	Long: `Answers a question from the library, citing title and author. With
--mode analysis and --entity, produces a progress analysis of one child from
their recent session records; this requires an elevated --role.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		var question string
		if len(args) == 1 {
			question = args[0]
		}

		resp, err := a.dispatcher.Answer(ctx, auth.Principal{UserID: "cli", Role: askRole}, rag.Request{
			Question:  question,
			Mode:      rag.Mode(askMode),
			EntityID:  askEntity,
			RecordIDs: askRecords,
			Tags:      askTags,
		})
		if err != nil {
			_, msg := rag.HTTPError(err)
			return fmt.Errorf("%s (%w)", msg, err)
		}

		if askJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		fmt.Println(resp.Text())
		if resp.Library != nil && len(resp.Library.Sources) > 0 {
			fmt.Println("\nFuentes:")
			for _, s := range resp.Library.Sources {
				fmt.Printf("  - %s (%s)\n", s.Title, s.Author)
			}
		}
		if resp.Analysis != nil {
			c := resp.Analysis.Context
			fmt.Printf("\n%s · %d registro(s)", c.EntityAlias, c.RecordCount)
			if len(c.Sources) > 0 {
				fmt.Printf(" · %s", strings.Join(c.Sources, "; "))
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	f := askCmd.Flags()
	f.StringVar(&askMode, "mode", string(rag.ModeLibrary), "library or analysis")
	f.StringVar(&askEntity, "entity", "", "Profile id (analysis mode)")
	f.StringSliceVar(&askRecords, "records", nil, "Restrict analysis to these session ids")
	f.StringSliceVar(&askTags, "tags", nil, "Restrict library fragments to these tags")
	f.StringVar(&askRole, "role", "voluntario", "Role to ask as")
	f.BoolVar(&askJSON, "json", false, "Print the raw JSON response")
	rootCmd.AddCommand(askCmd)
}

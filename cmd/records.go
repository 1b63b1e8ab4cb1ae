package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/records"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage child profiles and session records used by analysis mode",
}

var newProfile records.Profile

var recordsAddProfileCmd = &cobra.Command{
	Use:   "add-profile",
	Short: "Create or update a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(func(ctx context.Context, a *app) error {
			p, err := a.records.SaveProfile(ctx, newProfile)
			if err != nil {
				return err
			}
			fmt.Println(p.ID)
			return nil
		})
	},
}

var (
	sessionDate    string
	sessionMinutes int
	sessionScores  map[string]int
	sessionNotes   string
)

var recordsAddSessionCmd = &cobra.Command{
	Use:   "add-session <profile-id>",
	Short: "Record a tutoring session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := time.Now().UTC()
		if sessionDate != "" {
			d, err := time.Parse("2006-01-02", sessionDate)
			if err != nil {
				return fmt.Errorf("invalid --date %q: use YYYY-MM-DD", sessionDate)
			}
			date = d
		}

		return withLibrary(func(ctx context.Context, a *app) error {
			if _, err := a.records.Profile(ctx, args[0]); err != nil {
				return err
			}
			s, err := a.records.SaveSession(ctx, records.Session{
				ProfileID:       args[0],
				Date:            date,
				DurationMinutes: sessionMinutes,
				Scores:          sessionScores,
				Notes:           sessionNotes,
			})
			if err != nil {
				return err
			}
			fmt.Println(s.ID)
			return nil
		})
	},
}

var showLimit int

var recordsShowCmd = &cobra.Command{
	Use:   "show <profile-id>",
	Short: "Show a profile and its most recent sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLibrary(func(ctx context.Context, a *app) error {
			p, err := a.records.Profile(ctx, args[0])
			if err != nil {
				return err
			}
			sessions, err := a.records.Recent(ctx, p.ID, showLimit, nil)
			if err != nil {
				return err
			}

			fmt.Printf("%s (%s) · %s · %s\n\n", p.Alias, p.AgeBracket, p.LiteracyLevel, p.SchoolingStatus)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tMIN\tSCORES\tNOTES")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n", s.ID, s.Date.Format("2006-01-02"), s.DurationMinutes, s.Scores, preview(s.Notes, 60))
			}
			return w.Flush()
		})
	},
}

func init() {
	pf := recordsAddProfileCmd.Flags()
	pf.StringVar(&newProfile.ID, "id", "", "Existing profile id to update")
	pf.StringVar(&newProfile.Alias, "alias", "", "Alias shown in analyses (never the real name)")
	pf.StringVar(&newProfile.AgeBracket, "age", "", "Age bracket, e.g. 8-10")
	pf.StringVar(&newProfile.LiteracyLevel, "level", "", "Literacy level, e.g. silábico")
	pf.StringVar(&newProfile.SchoolingStatus, "schooling", "", "Schooling status")
	_ = recordsAddProfileCmd.MarkFlagRequired("alias")

	sf := recordsAddSessionCmd.Flags()
	sf.StringVar(&sessionDate, "date", "", "Session date YYYY-MM-DD (default today)")
	sf.IntVar(&sessionMinutes, "minutes", 0, "Duration in minutes")
	sf.StringToIntVar(&sessionScores, "score", nil, "Scores as name=value, repeatable")
	sf.StringVar(&sessionNotes, "notes", "", "Tutor notes")

	recordsShowCmd.Flags().IntVar(&showLimit, "limit", 10, "Sessions to show")

	recordsCmd.AddCommand(recordsAddProfileCmd, recordsAddSessionCmd, recordsShowCmd)
	rootCmd.AddCommand(recordsCmd)
}

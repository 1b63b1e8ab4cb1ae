package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "biblioteca",
	Short: "Reference library and answer assistant for a child literacy program",
	Long: `Biblioteca ingests reference documents (papers, guides, manuals) into a
semantic index and answers volunteers' questions from them, citing title and
author. Staff can request structured progress analyses of a child from their
session records, grounded in the same library.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is normal; the environment may already be set.
		_ = godotenv.Load()
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigFile, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

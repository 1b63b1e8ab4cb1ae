package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize biblioteca configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to choose providers, storage and roles, and writes a .biblioteca.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

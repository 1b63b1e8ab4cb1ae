package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/biblioteca/internal/auth"
	mcpserver "github.com/ziadkadry99/biblioteca/internal/mcp"
)

var (
	mcpRole string
	mcpUser string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server for AI agent integration",
	Long: `Starts a Model Context Protocol (MCP) server on stdio, exposing library
search, question answering and document listing tools for AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(context.Background(), true)
		if err != nil {
			return err
		}
		defer a.Close()

		mcpserver.Version = Version

		n, _ := a.index.Count(context.Background())
		fmt.Fprintf(os.Stderr, "biblioteca MCP server started on stdio (chunks=%d, role=%q)\n", n, mcpRole)

		srv := mcpserver.NewServer(a.library, a.dispatcher, auth.Principal{UserID: mcpUser, Role: mcpRole})
		return srv.Serve()
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpRole, "role", "voluntario", "Role the MCP client acts as")
	mcpCmd.Flags().StringVar(&mcpUser, "user", "mcp", "User id the MCP client acts as")
	rootCmd.AddCommand(mcpCmd)
}

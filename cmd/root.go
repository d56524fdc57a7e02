package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "banjo",
	Short: "Agent Client Protocol adapter for Claude Code and Codex",
	Long: `banjo bridges an ACP-speaking editor to Claude Code or Codex, running
each as a child process and translating between ACP's JSON-RPC methods and
each CLI's own event stream.

  banjo agent    Run as a single stdio ACP agent (one editor connection)
  banjo daemon   Run a WebSocket ACP server (multiple concurrent connections)
  banjo lsp      Run as a language-server-style stdio stub`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run as a language-server-style stdio stub (out of core scope)",
	Long: `lsp is reserved for editors that prefer to spawn banjo under the
Language Server Protocol lifecycle instead of ACP's own initialize/session
handshake. It is out of this adapter's core scope and currently only
reports that it is unimplemented.`,
	RunE: runLSP,
}

func init() {
	rootCmd.AddCommand(lspCmd)
}

func runLSP(cmd *cobra.Command, args []string) error {
	return fmt.Errorf("banjo lsp: not implemented, use 'banjo agent' or 'banjo daemon'")
}

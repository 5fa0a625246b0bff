package cli

import "github.com/spf13/cobra"

// RegisterRoutes attaches every command group this package exposes to the
// provided root command, mirroring the teacher's single-aggregator wiring
// pattern so the daemon binary and any standalone CLI binary can share one
// command tree.
func RegisterRoutes(root *cobra.Command) {
	root.AddCommand(
		WalletCmd,
		TransactionsCmd,
		BlockCmd,
		QueryCmd,
	)
}

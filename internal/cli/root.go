// Package cli wires the rename transaction engine to a cobra-based
// command surface: a NewRoot constructor plus one file per subcommand.
package cli

import "github.com/spf13/cobra"

// NewRoot constructs the root command. Boot recovery runs once per
// process via a PersistentPreRunE so every subcommand observes a vault
// free of orphaned transactions, without requiring a separate daemon
// entry point. The explicit recover subcommand skips this since it
// performs the same scan itself and reports the outcome.
func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-lifeos",
		Short: "Atomic note rename transaction engine",
		RunE:  func(c *cobra.Command, _ []string) error { return c.Help() },
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			if c.Name() == "recover" {
				return nil
			}
			return bootRecover(c)
		},
	}
	cmd.PersistentFlags().String("vault", "", "vault root directory (or set MCP_LIFEOS_VAULT_ROOT)")

	cmd.AddCommand(newRenameCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newSearchCmd())
	return cmd
}

// bootRecover builds a container and rolls back stale transactions,
// swallowing container construction errors so an unconfigured vault
// surfaces its real error from the invoked subcommand instead of a
// misleading recovery failure.
func bootRecover(c *cobra.Command) error {
	vaultRoot, _ := c.Flags().GetString("vault")
	container, err := newContainer(vaultRoot)
	if err != nil {
		return nil
	}
	if container.cfg.DisableRecovery() {
		return nil
	}
	container.recovery.Run()
	return nil
}

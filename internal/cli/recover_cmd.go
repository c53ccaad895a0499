package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Scan for and roll back incomplete rename transactions left by a crash",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			vaultRoot, _ := c.Flags().GetString("vault")
			return runRecover(vaultRoot)
		},
	}
}

func runRecover(vaultRoot string) error {
	c, err := newContainer(vaultRoot)
	if err != nil {
		return err
	}
	if c.cfg.DisableRecovery() {
		fmt.Println("recovery is disabled (MCP_LIFEOS_DISABLE_RECOVERY)")
		return nil
	}

	report := c.recovery.Run()
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

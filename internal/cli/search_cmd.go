package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Literal-substring search over vault notes (convenience only, not part of the transaction engine)",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			vaultRoot, _ := c.Flags().GetString("vault")
			return runSearch(vaultRoot, args[0])
		},
	}
}

func runSearch(vaultRoot, query string) error {
	c, err := newContainer(vaultRoot)
	if err != nil {
		return err
	}

	matches, err := c.searcher.Search(c.cfg.VaultRoot(), query)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%s (offset %d)\n", m.Path, m.Offset)
	}
	return nil
}

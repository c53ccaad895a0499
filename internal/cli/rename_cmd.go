package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shayonpal/mcp-lifeos/internal/vault/server"
)

func newRenameCmd() *cobra.Command {
	var updateLinks bool

	cmd := &cobra.Command{
		Use:   "rename <oldPath> <newPath>",
		Short: "Atomically rename a note, rewriting its wikilinks",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			vaultRoot, _ := c.Flags().GetString("vault")
			return runRename(vaultRoot, args[0], args[1], updateLinks)
		},
	}
	cmd.Flags().BoolVar(&updateLinks, "update-links", true, "rewrite wikilinks referencing the renamed note")
	return cmd
}

func runRename(vaultRoot, oldPath, newPath string, updateLinks bool) error {
	c, err := newContainer(vaultRoot)
	if err != nil {
		return err
	}

	resp := c.tool.Rename(server.RenameRequest{
		OldPath:     oldPath,
		NewPath:     newPath,
		UpdateLinks: updateLinks,
	})

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !resp.Success {
		return fmt.Errorf("rename failed: %s", resp.Error.Code)
	}
	return nil
}

package main

import (
	"os"

	"github.com/shayonpal/mcp-lifeos/internal/cli"
)

func main() {
	if err := cli.NewRoot().Execute(); err != nil {
		os.Exit(1)
	}
}

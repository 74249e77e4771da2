package main

import (
	"os"

	"github.com/usdbridge/usdbridge/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
